package opid

import (
	"sort"
)

// OperationMatcher provides utilities for finding the best operation match from a collection
// based on specificity and compatibility rules.
type OperationMatcher struct{}

// FindBestMatch finds the most specific operation that can handle a request
func (m *OperationMatcher) FindBestMatch(capabilities []*OperationKey, request *OperationKey) *OperationKey {
	matches := m.FindAllMatches(capabilities, request)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// FindAllMatches finds all capabilities that can handle a request
// Returns capabilities sorted by specificity (most specific first)
func (m *OperationMatcher) FindAllMatches(capabilities []*OperationKey, request *OperationKey) []*OperationKey {
	var matches []*OperationKey

	for _, operation := range capabilities {
		if operation.CanHandle(request) {
			matches = append(matches, operation)
		}
	}

	return m.SortBySpecificity(matches)
}

// SortBySpecificity sorts capabilities by specificity (most specific first)
func (m *OperationMatcher) SortBySpecificity(capabilities []*OperationKey) []*OperationKey {
	sorted := make([]*OperationKey, len(capabilities))
	copy(sorted, capabilities)

	sort.Slice(sorted, func(i, j int) bool {
		cap1 := sorted[i]
		cap2 := sorted[j]

		// Sort by specificity level first (higher specificity first)
		spec1 := cap1.SpecificityLevel()
		spec2 := cap2.SpecificityLevel()

		if spec1 != spec2 {
			return spec1 > spec2
		}

		// If same specificity level, sort by segment count (more segments first)
		count1 := len(cap1.segments)
		count2 := len(cap2.segments)

		if count1 != count2 {
			return count1 > count2
		}

		// If same segment count, sort alphabetically for deterministic ordering
		return cap1.ToString() < cap2.ToString()
	})

	return sorted
}

// CanHandleWithContext checks if a operation can handle a request with additional context
func (m *OperationMatcher) CanHandleWithContext(operation *OperationKey, request *OperationKey, context map[string]interface{}) bool {
	// Basic operation matching
	if !operation.CanHandle(request) {
		return false
	}

	// If no context provided, basic matching is sufficient
	if context == nil {
		return true
	}

	// Context-based filtering could be implemented here
	// For example, checking file type compatibility, version requirements, etc.
	// This is extensible for future use cases

	return true
}

// Static methods for convenience

// FindBestMatchStatic is a convenience function for finding the best match without creating a matcher instance
func FindBestMatchStatic(capabilities []*OperationKey, request *OperationKey) *OperationKey {
	matcher := &OperationMatcher{}
	return matcher.FindBestMatch(capabilities, request)
}

// FindAllMatchesStatic is a convenience function for finding all matches without creating a matcher instance
func FindAllMatchesStatic(capabilities []*OperationKey, request *OperationKey) []*OperationKey {
	matcher := &OperationMatcher{}
	return matcher.FindAllMatches(capabilities, request)
}

// SortBySpecificityStatic is a convenience function for sorting by specificity without creating a matcher instance
func SortBySpecificityStatic(capabilities []*OperationKey) []*OperationKey {
	matcher := &OperationMatcher{}
	return matcher.SortBySpecificity(capabilities)
}