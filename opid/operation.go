package opid

import (
	"encoding/json"
)

// ArgumentType represents the type of a operation argument
type ArgumentType string

const (
	ArgumentTypeString  ArgumentType = "string"
	ArgumentTypeInteger ArgumentType = "integer"
	ArgumentTypeNumber  ArgumentType = "number"
	ArgumentTypeBoolean ArgumentType = "boolean"
	ArgumentTypeArray   ArgumentType = "array"
	ArgumentTypeObject  ArgumentType = "object"
	ArgumentTypeBinary  ArgumentType = "binary"
)

// ArgumentValidation represents validation rules for operation arguments
type ArgumentValidation struct {
	Min          *float64  `json:"min,omitempty"`
	Max          *float64  `json:"max,omitempty"`
	MinLength    *int      `json:"min_length,omitempty"`
	MaxLength    *int      `json:"max_length,omitempty"`
	Pattern      *string   `json:"pattern,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
}

// OperationArgument represents a single argument definition for a operation
type OperationArgument struct {
	Name        string               `json:"name"`
	Type        ArgumentType         `json:"type"`
	Description string               `json:"description"`
	CliFlag     string               `json:"cli_flag"`
	Position    *int                 `json:"position,omitempty"`
	Validation  *ArgumentValidation  `json:"validation,omitempty"`
	Default     interface{}          `json:"default,omitempty"`
}

// OperationArguments represents the collection of arguments for a operation
type OperationArguments struct {
	Required []OperationArgument `json:"required,omitempty"`
	Optional []OperationArgument `json:"optional,omitempty"`
}


// OutputType represents the type of output a operation returns
type OutputType string

const (
	OutputTypeString  OutputType = "string"
	OutputTypeInteger OutputType = "integer"
	OutputTypeNumber  OutputType = "number"
	OutputTypeBoolean OutputType = "boolean"
	OutputTypeArray   OutputType = "array"
	OutputTypeObject  OutputType = "object"
	OutputTypeBinary  OutputType = "binary"
)

// OperationOutput represents the output definition for a operation
type OperationOutput struct {
	Type        OutputType           `json:"type"`
	SchemaRef   *string              `json:"schema_ref,omitempty"`
	ContentType *string              `json:"content_type,omitempty"`
	Validation  *ArgumentValidation  `json:"validation,omitempty"`
	Description string               `json:"description"`
}

// Operation represents a formal operation definition
//
// This defines the structure for formal operation definitions that include
// the operation identifier, versioning, metadata, and arguments. Capabilities are general-purpose
// and do not assume any specific domain like files or documents.
type Operation struct {
	// Id is the formal operation identifier with hierarchical naming
	Id *OperationKey `json:"id"`

	// Version is the operation version
	Version string `json:"version"`

	// Description is an optional description
	Description *string `json:"description,omitempty"`

	// Metadata contains optional metadata as key-value pairs
	Metadata map[string]string `json:"metadata,omitempty"`

	// Command defines the command string for this operation
	Command string `json:"command"`

	// Arguments defines the arguments for this operation
	Arguments *OperationArguments `json:"arguments,omitempty"`

	// Output defines the output format for this operation
	Output *OperationOutput `json:"output,omitempty"`

	// AcceptsStdin reports whether the operation reads its input from stdin
	AcceptsStdin bool `json:"accepts_stdin,omitempty"`
}

// NewOperationArgument creates a new operation argument
func NewOperationArgument(name string, argType ArgumentType, description string, cliFlag string) OperationArgument {
	return OperationArgument{
		Name:        name,
		Type:        argType,
		Description: description,
		CliFlag:     cliFlag,
	}
}

// NewOperationArgumentWithCliFlag creates an argument with CLI flag (deprecated - use NewOperationArgument)
func NewOperationArgumentWithCliFlag(name string, argType ArgumentType, description string, cliFlag string) OperationArgument {
	return NewOperationArgument(name, argType, description, cliFlag)
}

// NewOperationArgumentWithPosition creates an argument with position
func NewOperationArgumentWithPosition(name string, argType ArgumentType, description string, cliFlag string, position int) OperationArgument {
	return OperationArgument{
		Name:        name,
		Type:        argType,
		Description: description,
		CliFlag:     cliFlag,
		Position:    &position,
	}
}

// NewArgumentValidationNumericRange creates validation with numeric constraints
func NewArgumentValidationNumericRange(min, max *float64) *ArgumentValidation {
	return &ArgumentValidation{
		Min: min,
		Max: max,
	}
}

// NewArgumentValidationStringLength creates validation with string length constraints
func NewArgumentValidationStringLength(minLength, maxLength *int) *ArgumentValidation {
	return &ArgumentValidation{
		MinLength: minLength,
		MaxLength: maxLength,
	}
}

// NewArgumentValidationPattern creates validation with pattern
func NewArgumentValidationPattern(pattern string) *ArgumentValidation {
	return &ArgumentValidation{
		Pattern: &pattern,
	}
}

// NewArgumentValidationAllowedValues creates validation with allowed values
func NewArgumentValidationAllowedValues(values []string) *ArgumentValidation {
	return &ArgumentValidation{
		AllowedValues: values,
	}
}

// NewOperationOutput creates a new output definition
func NewOperationOutput(outputType OutputType, description string) *OperationOutput {
	return &OperationOutput{
		Type:        outputType,
		Description: description,
	}
}

// NewOperationOutputWithContentType creates output with content type
func NewOperationOutputWithContentType(outputType OutputType, description string, contentType string) *OperationOutput {
	return &OperationOutput{
		Type:        outputType,
		Description: description,
		ContentType: &contentType,
	}
}

// NewOperationOutputWithSchema creates output with schema reference
func NewOperationOutputWithSchema(outputType OutputType, description string, schemaRef string) *OperationOutput {
	return &OperationOutput{
		Type:        outputType,
		Description: description,
		SchemaRef:   &schemaRef,
	}
}

// NewOperationArguments creates a new operation arguments collection
func NewOperationArguments() *OperationArguments {
	return &OperationArguments{
		Required: []OperationArgument{},
		Optional: []OperationArgument{},
	}
}

// IsEmpty checks if the operation arguments collection is empty
func (ca *OperationArguments) IsEmpty() bool {
	return len(ca.Required) == 0 && len(ca.Optional) == 0
}

// AddRequired adds a required argument
func (ca *OperationArguments) AddRequired(arg OperationArgument) {
	ca.Required = append(ca.Required, arg)
}

// AddOptional adds an optional argument
func (ca *OperationArguments) AddOptional(arg OperationArgument) {
	ca.Optional = append(ca.Optional, arg)
}

// FindArgument finds an argument by name
func (ca *OperationArguments) FindArgument(name string) *OperationArgument {
	for i := range ca.Required {
		if ca.Required[i].Name == name {
			return &ca.Required[i]
		}
	}
	for i := range ca.Optional {
		if ca.Optional[i].Name == name {
			return &ca.Optional[i]
		}
	}
	return nil
}

// GetPositionalArgs returns arguments sorted by position
func (ca *OperationArguments) GetPositionalArgs() []OperationArgument {
	var args []OperationArgument
	for _, arg := range ca.Required {
		if arg.Position != nil {
			args = append(args, arg)
		}
	}
	for _, arg := range ca.Optional {
		if arg.Position != nil {
			args = append(args, arg)
		}
	}
	// Sort by position
	for i := 0; i < len(args)-1; i++ {
		for j := i + 1; j < len(args); j++ {
			if *args[i].Position > *args[j].Position {
				args[i], args[j] = args[j], args[i]
			}
		}
	}
	return args
}

// GetFlagArgs returns arguments that have CLI flags
func (ca *OperationArguments) GetFlagArgs() []OperationArgument {
	var args []OperationArgument
	for _, arg := range ca.Required {
		if arg.CliFlag != "" {
			args = append(args, arg)
		}
	}
	for _, arg := range ca.Optional {
		if arg.CliFlag != "" {
			args = append(args, arg)
		}
	}
	return args
}

// NewOperation creates a new operation
func NewOperation(id *OperationKey, version string, command string) *Operation {
	return &Operation{
		Id:       id,
		Version:  version,
		Command:  command,
		Metadata: make(map[string]string),
		Arguments: NewOperationArguments(),
	}
}

// NewOperationWithDescription creates a new operation with description
func NewOperationWithDescription(id *OperationKey, version string, command string, description string) *Operation {
	return &Operation{
		Id:          id,
		Version:     version,
		Command:     command,
		Description: &description,
		Metadata:    make(map[string]string),
		Arguments:   NewOperationArguments(),
	}
}

// NewOperationWithMetadata creates a new operation with metadata
func NewOperationWithMetadata(id *OperationKey, version string, command string, metadata map[string]string) *Operation {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &Operation{
		Id:        id,
		Version:   version,
		Command:   command,
		Metadata:  metadata,
		Arguments: NewOperationArguments(),
	}
}

// NewOperationWithDescriptionAndMetadata creates a new operation with description and metadata
func NewOperationWithDescriptionAndMetadata(id *OperationKey, version string, description string, metadata map[string]string) *Operation {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &Operation{
		Id:          id,
		Version:     version,
		Description: &description,
		Metadata:    metadata,
		Arguments:   NewOperationArguments(),
	}
}

// MatchesRequest checks if this operation matches a request string
func (c *Operation) MatchesRequest(request string) bool {
	requestId, err := NewOperationKeyFromString(request)
	if err != nil {
		return false
	}
	return c.Id.CanHandle(requestId)
}

// CanHandleRequest checks if this operation can handle a request
func (c *Operation) CanHandleRequest(request *OperationKey) bool {
	return c.Id.CanHandle(request)
}

// IsMoreSpecificThan checks if this operation is more specific than another
func (c *Operation) IsMoreSpecificThan(other *Operation) bool {
	if other == nil {
		return true
	}
	return c.Id.IsMoreSpecificThan(other.Id)
}

// GetMetadata gets a metadata value by key
func (c *Operation) GetMetadata(key string) (string, bool) {
	if c.Metadata == nil {
		return "", false
	}
	value, exists := c.Metadata[key]
	return value, exists
}

// SetMetadata sets a metadata value
func (c *Operation) SetMetadata(key, value string) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
}

// RemoveMetadata removes a metadata value
func (c *Operation) RemoveMetadata(key string) bool {
	if c.Metadata == nil {
		return false
	}
	_, exists := c.Metadata[key]
	if exists {
		delete(c.Metadata, key)
	}
	return exists
}

// HasMetadata checks if this operation has specific metadata
func (c *Operation) HasMetadata(key string) bool {
	if c.Metadata == nil {
		return false
	}
	_, exists := c.Metadata[key]
	return exists
}

// GetCommand gets the command
func (c *Operation) GetCommand() string {
	return c.Command
}

// SetCommand sets the command
func (c *Operation) SetCommand(command string) {
	c.Command = command
}

// GetArguments gets the arguments
func (c *Operation) GetArguments() *OperationArguments {
	return c.Arguments
}

// SetArguments sets the arguments
func (c *Operation) SetArguments(arguments *OperationArguments) {
	c.Arguments = arguments
}

// AddRequiredArgument adds a required argument
func (c *Operation) AddRequiredArgument(arg OperationArgument) {
	if c.Arguments == nil {
		c.Arguments = NewOperationArguments()
	}
	c.Arguments.AddRequired(arg)
}

// AddOptionalArgument adds an optional argument
func (c *Operation) AddOptionalArgument(arg OperationArgument) {
	if c.Arguments == nil {
		c.Arguments = NewOperationArguments()
	}
	c.Arguments.AddOptional(arg)
}

// GetOutput gets the output definition if defined
func (c *Operation) GetOutput() *OperationOutput {
	return c.Output
}

// SetOutput sets the output definition
func (c *Operation) SetOutput(output *OperationOutput) {
	c.Output = output
}

// IdString gets the operation identifier as a string
func (c *Operation) IdString() string {
	return c.Id.ToString()
}

// Equals checks if this operation is equal to another
func (c *Operation) Equals(other *Operation) bool {
	if other == nil {
		return false
	}

	if !c.Id.Equals(other.Id) {
		return false
	}

	if c.Version != other.Version {
		return false
	}

	if (c.Description == nil) != (other.Description == nil) {
		return false
	}

	if c.Description != nil && *c.Description != *other.Description {
		return false
	}

	if len(c.Metadata) != len(other.Metadata) {
		return false
	}

	for key, value := range c.Metadata {
		if otherValue, exists := other.Metadata[key]; !exists || value != otherValue {
			return false
		}
	}

	return true
}

// MarshalJSON implements custom JSON marshaling
func (c *Operation) MarshalJSON() ([]byte, error) {
	type OperationAlias Operation
	return json.Marshal((*OperationAlias)(c))
}

// UnmarshalJSON implements custom JSON unmarshaling
func (c *Operation) UnmarshalJSON(data []byte) error {
	type OperationAlias Operation
	aux := (*OperationAlias)(c)
	return json.Unmarshal(data, aux)
}