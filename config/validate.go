package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError reports a JSON Schema failure against a config update
// payload or a plugin manifest (the two places this bus validates JSON
// Schema fragments, replacing the teacher's cap-argument validator).
type ValidationError struct {
	Context string
	Details string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %s: %s", e.Context, e.Details)
}

// Validator validates update_own_config payloads and plugin manifests
// against a JSON Schema fragment declared by the plugin.
type Validator struct{}

// NewValidator creates a schema validator.
func NewValidator() *Validator { return &Validator{} }

// ValidateAgainstSchema validates value against schema, returning a
// *ValidationError describing every failed constraint.
func (v *Validator) ValidateAgainstSchema(context string, value interface{}, schema map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return &ValidationError{Context: context, Details: fmt.Sprintf("schema is not valid JSON: %v", err)}
	}
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return &ValidationError{Context: context, Details: fmt.Sprintf("value is not valid JSON: %v", err)}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(valueBytes),
	)
	if err != nil {
		return &ValidationError{Context: context, Details: fmt.Sprintf("schema compilation failed: %v", err)}
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &ValidationError{Context: context, Details: strings.Join(details, "; ")}
	}
	return nil
}

// ValidateConfigUpdate validates an update_own_config payload against the
// plugin's declared config schema, if any.
func (v *Validator) ValidateConfigUpdate(updates map[string]interface{}, schema map[string]interface{}) error {
	return v.ValidateAgainstSchema("config update", updates, schema)
}

// ValidateManifest validates a plugin's --manifest output against the
// host's expected manifest schema.
func (v *Validator) ValidateManifest(manifest map[string]interface{}, schema map[string]interface{}) error {
	return v.ValidateAgainstSchema("manifest", manifest, schema)
}
