// Package opid also defines OperationKey, a flat tag-based alternative to OperationId
// (key=value pairs rather than colon segments) used when a plugin manifest declares
// operations by attribute rather than by hierarchy.
package opid

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// OperationKey represents a operation identifier using flat, ordered tags
//
// Examples:
// - action=generate;format=pdf;output=binary;target=thumbnail;type=document
// - action=extract;target=metadata;type=document
// - action=analysis;format=en;type=inference
type OperationKey struct {
	tags map[string]string
}

// OperationKeyError represents errors that can occur during operation identifier operations
type OperationKeyError struct {
	Code    int
	Message string
}

func (e *OperationKeyError) Error() string {
	return e.Message
}

// Error codes for operation identifier operations
const (
	ErrorInvalidFormat     = 1
	ErrorEmptyTag         = 2
	ErrorInvalidCharacter = 3
	ErrorInvalidTagFormat = 4
)

var validTagComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\*]+$`)

// NewOperationKeyFromString creates a operation identifier from a string
// Format: key1=value1;key2=value2;...
// Tags are automatically sorted alphabetically for canonical form
func NewOperationKeyFromString(s string) (*OperationKey, error) {
	if s == "" {
		return nil, &OperationKeyError{
			Code:    ErrorInvalidFormat,
			Message: "operation identifier cannot be empty",
		}
	}

	tags := make(map[string]string)

	for _, tagStr := range strings.Split(s, ";") {
		tagStr = strings.TrimSpace(tagStr)
		if tagStr == "" {
			continue
		}

		parts := strings.Split(tagStr, "=")
		if len(parts) != 2 {
			return nil, &OperationKeyError{
				Code:    ErrorInvalidTagFormat,
				Message: fmt.Sprintf("invalid tag format (must be key=value): %s", tagStr),
			}
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if key == "" || value == "" {
			return nil, &OperationKeyError{
				Code:    ErrorEmptyTag,
				Message: fmt.Sprintf("tag key or value cannot be empty: %s", tagStr),
			}
		}

		// Validate key and value characters
		if !validTagComponentPattern.MatchString(key) || !validTagComponentPattern.MatchString(value) {
			return nil, &OperationKeyError{
				Code:    ErrorInvalidCharacter,
				Message: fmt.Sprintf("invalid character in tag (use alphanumeric, _, -): %s", tagStr),
			}
		}

		tags[key] = value
	}

	if len(tags) == 0 {
		return nil, &OperationKeyError{
			Code:    ErrorInvalidFormat,
			Message: "operation identifier cannot be empty",
		}
	}

	return &OperationKey{
		tags: tags,
	}, nil
}

// NewOperationKeyFromTags creates a operation identifier from tags
func NewOperationKeyFromTags(tags map[string]string) *OperationKey {
	result := make(map[string]string)
	for k, v := range tags {
		result[k] = v
	}
	return &OperationKey{
		tags: result,
	}
}

// GetTag returns the value of a specific tag
func (c *OperationKey) GetTag(key string) (string, bool) {
	value, exists := c.tags[key]
	return value, exists
}

// HasTag checks if this operation has a specific tag with a specific value
func (c *OperationKey) HasTag(key, value string) bool {
	tagValue, exists := c.tags[key]
	return exists && tagValue == value
}

// WithTag returns a new operation key with an added or updated tag
func (c *OperationKey) WithTag(key, value string) *OperationKey {
	newTags := make(map[string]string)
	for k, v := range c.tags {
		newTags[k] = v
	}
	newTags[key] = value
	return &OperationKey{tags: newTags}
}

// WithoutTag returns a new operation key with a tag removed
func (c *OperationKey) WithoutTag(key string) *OperationKey {
	newTags := make(map[string]string)
	for k, v := range c.tags {
		if k != key {
			newTags[k] = v
		}
	}
	return &OperationKey{tags: newTags}
}

// Matches checks if this operation matches another based on tag compatibility
//
// A operation matches a request if:
// - For each tag in the request: operation has same value, wildcard (*), or missing tag
// - For each tag in the operation: if request is missing that tag, that's fine (operation is more specific)
// Missing tags are treated as wildcards (less specific, can handle any value).
func (c *OperationKey) Matches(request *OperationKey) bool {
	if request == nil {
		return true
	}

	// Check all tags that the request specifies
	for requestKey, requestValue := range request.tags {
		capValue, exists := c.tags[requestKey]
		if !exists {
			// Missing tag in operation is treated as wildcard - can handle any value
			continue
		}

		if capValue == "*" {
			// Operation has wildcard - can handle any value
			continue
		}

		if requestValue == "*" {
			// Request accepts any value - operation's specific value matches
			continue
		}

		if capValue != requestValue {
			// Operation has specific value that doesn't match request's specific value
			return false
		}
	}

	// If operation has additional specific tags that request doesn't specify, that's fine
	// The operation is just more specific than needed
	return true
}

// CanHandle checks if this operation can handle a request
func (c *OperationKey) CanHandle(request *OperationKey) bool {
	return c.Matches(request)
}

// Specificity returns the specificity score for operation matching
// More specific capabilities have higher scores and are preferred
func (c *OperationKey) Specificity() int {
	// Count non-wildcard tags
	count := 0
	for _, value := range c.tags {
		if value != "*" {
			count++
		}
	}
	return count
}

// IsMoreSpecificThan checks if this operation is more specific than another
func (c *OperationKey) IsMoreSpecificThan(other *OperationKey) bool {
	if other == nil {
		return true
	}

	// First check if they're compatible
	if !c.IsCompatibleWith(other) {
		return false
	}

	return c.Specificity() > other.Specificity()
}

// IsCompatibleWith checks if this operation is compatible with another
//
// Two capabilities are compatible if they can potentially match
// the same types of requests (considering wildcards and missing tags as wildcards)
func (c *OperationKey) IsCompatibleWith(other *OperationKey) bool {
	if other == nil {
		return true
	}

	// Get all unique tag keys from both capabilities
	allKeys := make(map[string]bool)
	for key := range c.tags {
		allKeys[key] = true
	}
	for key := range other.tags {
		allKeys[key] = true
	}

	for key := range allKeys {
		v1, exists1 := c.tags[key]
		v2, exists2 := other.tags[key]

		if exists1 && exists2 {
			// Both have the tag - they must match or one must be wildcard
			if v1 != "*" && v2 != "*" && v1 != v2 {
				return false
			}
		}
		// If only one has the tag, it's compatible (missing tag is wildcard)
	}

	return true
}

// GetType returns the type of this operation (convenience method)
func (c *OperationKey) GetType() (string, bool) {
	return c.GetTag("type")
}

// GetAction returns the action of this operation (convenience method)
func (c *OperationKey) GetAction() (string, bool) {
	return c.GetTag("action")
}

// GetTarget returns the target of this operation (convenience method)
func (c *OperationKey) GetTarget() (string, bool) {
	return c.GetTag("target")
}

// GetFormat returns the format of this operation (convenience method)
func (c *OperationKey) GetFormat() (string, bool) {
	return c.GetTag("format")
}

// GetOutput returns the output type of this operation (convenience method)
func (c *OperationKey) GetOutput() (string, bool) {
	return c.GetTag("output")
}

// IsBinaryOutput checks if this operation produces binary output
func (c *OperationKey) IsBinaryOutput() bool {
	return c.HasTag("output", "binary")
}

// WithWildcardTag returns a new operation with a specific tag set to wildcard
func (c *OperationKey) WithWildcardTag(key string) *OperationKey {
	if _, exists := c.tags[key]; exists {
		return c.WithTag(key, "*")
	}
	return c
}

// Subset returns a new operation with only specified tags
func (c *OperationKey) Subset(keys []string) *OperationKey {
	newTags := make(map[string]string)
	for _, key := range keys {
		if value, exists := c.tags[key]; exists {
			newTags[key] = value
		}
	}
	return &OperationKey{tags: newTags}
}

// Merge returns a new operation merged with another (other takes precedence for conflicts)
func (c *OperationKey) Merge(other *OperationKey) *OperationKey {
	newTags := make(map[string]string)
	for k, v := range c.tags {
		newTags[k] = v
	}
	for k, v := range other.tags {
		newTags[k] = v
	}
	return &OperationKey{tags: newTags}
}

// ToString returns the canonical string representation of this operation identifier
// Tags are sorted alphabetically for consistent representation
func (c *OperationKey) ToString() string {
	if len(c.tags) == 0 {
		return ""
	}

	// Sort keys for canonical representation
	keys := make([]string, 0, len(c.tags))
	for key := range c.tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// Build tag string
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, c.tags[key]))
	}

	return strings.Join(parts, ";")
}

// String implements the Stringer interface
func (c *OperationKey) String() string {
	return c.ToString()
}

// Equals checks if this operation identifier is equal to another
func (c *OperationKey) Equals(other *OperationKey) bool {
	if other == nil {
		return false
	}

	if len(c.tags) != len(other.tags) {
		return false
	}

	for key, value := range c.tags {
		otherValue, exists := other.tags[key]
		if !exists || value != otherValue {
			return false
		}
	}

	return true
}

// MarshalJSON implements the json.Marshaler interface
func (c *OperationKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToString())
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (c *OperationKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	capKey, err := NewOperationKeyFromString(s)
	if err != nil {
		return err
	}

	c.tags = capKey.tags
	return nil
}

// OperationMatcher provides utility methods for matching capabilities
type OperationMatcher struct{}

// FindBestMatch finds the most specific operation that can handle a request
func (m *OperationMatcher) FindBestMatch(capabilities []*OperationKey, request *OperationKey) *OperationKey {
	var best *OperationKey
	bestSpecificity := -1

	for _, cap := range capabilities {
		if cap.CanHandle(request) {
			specificity := cap.Specificity()
			if specificity > bestSpecificity {
				best = cap
				bestSpecificity = specificity
			}
		}
	}

	return best
}

// FindAllMatches finds all capabilities that can handle a request, sorted by specificity
func (m *OperationMatcher) FindAllMatches(capabilities []*OperationKey, request *OperationKey) []*OperationKey {
	var matches []*OperationKey

	for _, cap := range capabilities {
		if cap.CanHandle(request) {
			matches = append(matches, cap)
		}
	}

	// Sort by specificity (most specific first)
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Specificity() > matches[j].Specificity()
	})

	return matches
}

// AreCompatible checks if two operation sets are compatible
func (m *OperationMatcher) AreCompatible(caps1, caps2 []*OperationKey) bool {
	for _, c1 := range caps1 {
		for _, c2 := range caps2 {
			if c1.IsCompatibleWith(c2) {
				return true
			}
		}
	}
	return false
}

// OperationKeyBuilder provides a fluent builder interface for creating operation keys
type OperationKeyBuilder struct {
	tags map[string]string
}

// NewOperationKeyBuilder creates a new builder
func NewOperationKeyBuilder() *OperationKeyBuilder {
	return &OperationKeyBuilder{
		tags: make(map[string]string),
	}
}

// Tag adds or updates a tag
func (b *OperationKeyBuilder) Tag(key, value string) *OperationKeyBuilder {
	b.tags[key] = value
	return b
}

// Type sets the type tag
func (b *OperationKeyBuilder) Type(value string) *OperationKeyBuilder {
	return b.Tag("type", value)
}

// Action sets the action tag
func (b *OperationKeyBuilder) Action(value string) *OperationKeyBuilder {
	return b.Tag("action", value)
}

// Target sets the target tag
func (b *OperationKeyBuilder) Target(value string) *OperationKeyBuilder {
	return b.Tag("target", value)
}

// Format sets the format tag
func (b *OperationKeyBuilder) Format(value string) *OperationKeyBuilder {
	return b.Tag("format", value)
}

// Output sets the output tag
func (b *OperationKeyBuilder) Output(value string) *OperationKeyBuilder {
	return b.Tag("output", value)
}

// BinaryOutput sets output to binary
func (b *OperationKeyBuilder) BinaryOutput() *OperationKeyBuilder {
	return b.Output("binary")
}

// JSONOutput sets output to json
func (b *OperationKeyBuilder) JSONOutput() *OperationKeyBuilder {
	return b.Output("json")
}

// Build creates the final OperationKey
func (b *OperationKeyBuilder) Build() (*OperationKey, error) {
	if len(b.tags) == 0 {
		return nil, &OperationKeyError{
			Code:    ErrorInvalidFormat,
			Message: "operation identifier cannot be empty",
		}
	}

	return NewOperationKeyFromTags(b.tags), nil
}