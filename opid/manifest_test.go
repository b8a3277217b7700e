package opid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationManifestCreation(t *testing.T) {
	id, err := NewOperationKeyFromString("action=extract;target=metadata;type=document")
	require.NoError(t, err)
	
	operation := NewOperation(id, "1.0.0", "extract-metadata")
	
	manifest := NewOperationManifest(
		"TestComponent",
		"0.1.0", 
		"A test component for validation",
		[]Operation{*operation},
	)
	
	assert.Equal(t, "TestComponent", manifest.Name)
	assert.Equal(t, "0.1.0", manifest.Version)
	assert.Equal(t, "A test component for validation", manifest.Description)
	assert.Len(t, manifest.Capabilities, 1)
	assert.Nil(t, manifest.Author)
}

func TestOperationManifestWithAuthor(t *testing.T) {
	id, err := NewOperationKeyFromString("action=extract;target=metadata;type=document")
	require.NoError(t, err)
	
	operation := NewOperation(id, "1.0.0", "extract-metadata")
	
	manifest := NewOperationManifest(
		"TestComponent",
		"0.1.0",
		"A test component for validation", 
		[]Operation{*operation},
	).WithAuthor("Test Author")
	
	require.NotNil(t, manifest.Author)
	assert.Equal(t, "Test Author", *manifest.Author)
}

func TestOperationManifestJSONSerialization(t *testing.T) {
	id, err := NewOperationKeyFromString("action=extract;target=metadata;type=document")
	require.NoError(t, err)
	
	operation := NewOperation(id, "1.0.0", "extract-metadata")
	operation.AcceptsStdin = true
	
	manifest := NewOperationManifest(
		"TestComponent",
		"0.1.0",
		"A test component for validation",
		[]Operation{*operation},
	).WithAuthor("Test Author")
	
	// Test serialization
	jsonData, err := json.Marshal(manifest)
	require.NoError(t, err)
	
	jsonStr := string(jsonData)
	assert.Contains(t, jsonStr, `"name":"TestComponent"`)
	assert.Contains(t, jsonStr, `"version":"0.1.0"`)
	assert.Contains(t, jsonStr, `"author":"Test Author"`)
	assert.Contains(t, jsonStr, `"accepts_stdin":true`)
	
	// Test deserialization
	var deserialized OperationManifest
	err = json.Unmarshal(jsonData, &deserialized)
	require.NoError(t, err)
	
	assert.Equal(t, manifest.Name, deserialized.Name)
	assert.Equal(t, manifest.Version, deserialized.Version)
	assert.Equal(t, manifest.Description, deserialized.Description)
	assert.Equal(t, manifest.Author, deserialized.Author)
	assert.Len(t, deserialized.Capabilities, len(manifest.Capabilities))
	assert.Equal(t, manifest.Capabilities[0].AcceptsStdin, deserialized.Capabilities[0].AcceptsStdin)
}

func TestOperationManifestRequiredFields(t *testing.T) {
	// Test that deserialization succeeds even with missing optional fields
	// (Go JSON unmarshaling uses zero values for missing fields)
	partialJSON := `{"name": "TestComponent", "version": "1.0.0", "description": "Test", "capabilities": []}`
	var result OperationManifest
	err := json.Unmarshal([]byte(partialJSON), &result)
	assert.NoError(t, err)
	assert.Equal(t, "TestComponent", result.Name)
	assert.Equal(t, "1.0.0", result.Version)
	assert.Equal(t, "Test", result.Description)
	assert.Len(t, result.Capabilities, 0)
	assert.Nil(t, result.Author)
	
	// Test that invalid JSON fails
	invalidJSON := `{"name": "TestComponent", invalid`
	var result2 OperationManifest
	err2 := json.Unmarshal([]byte(invalidJSON), &result2)
	assert.Error(t, err2)
}

func TestOperationManifestWithMultipleCapabilities(t *testing.T) {
	id1, err := NewOperationKeyFromString("action=extract;target=metadata;type=document")
	require.NoError(t, err)
	operation1 := NewOperation(id1, "1.0.0", "extract-metadata")
	
	id2, err := NewOperationKeyFromString("action=extract;target=outline;type=document")
	require.NoError(t, err)
	metadata := map[string]string{"supports_toc": "true"}
	operation2 := NewOperationWithMetadata(id2, "1.0.0", "extract-outline", metadata)
	
	manifest := NewOperationManifest(
		"MultiCapComponent",
		"1.0.0",
		"Component with multiple capabilities",
		[]Operation{*operation1, *operation2},
	)
	
	assert.Len(t, manifest.Capabilities, 2)
	assert.Equal(t, "action=extract;target=metadata;type=document", manifest.Capabilities[0].IdString())
	assert.Equal(t, "action=extract;target=outline;type=document", manifest.Capabilities[1].IdString())
	assert.True(t, manifest.Capabilities[1].HasMetadata("supports_toc"))
}

func TestOperationManifestEmptyCapabilities(t *testing.T) {
	manifest := NewOperationManifest(
		"EmptyComponent",
		"1.0.0",
		"Component with no capabilities",
		[]Operation{},
	)
	
	assert.Len(t, manifest.Capabilities, 0)
	
	// Should still serialize/deserialize correctly
	jsonData, err := json.Marshal(manifest)
	require.NoError(t, err)
	
	var deserialized OperationManifest
	err = json.Unmarshal(jsonData, &deserialized)
	require.NoError(t, err)
	assert.Len(t, deserialized.Capabilities, 0)
}

func TestOperationManifestOptionalAuthorField(t *testing.T) {
	id, err := NewOperationKeyFromString("action=validate;type=file")
	require.NoError(t, err)
	operation := NewOperation(id, "1.0.0", "validate")
	
	manifestWithoutAuthor := NewOperationManifest(
		"ValidatorComponent",
		"1.0.0",
		"File validation component",
		[]Operation{*operation},
	)
	
	// Serialize manifest without author
	jsonData, err := json.Marshal(manifestWithoutAuthor)
	require.NoError(t, err)
	
	jsonStr := string(jsonData)
	assert.NotContains(t, jsonStr, `"author"`)
	
	// Should deserialize correctly
	var deserialized OperationManifest
	err = json.Unmarshal(jsonData, &deserialized)
	require.NoError(t, err)
	assert.Nil(t, deserialized.Author)
}

// Test component that implements ComponentMetadata interface
type testComponent struct {
	name         string
	capabilities []Operation
}

// Implement the ComponentMetadata interface
func (tc *testComponent) ComponentManifest() *OperationManifest {
	return NewOperationManifest(
		tc.name,
		"1.0.0",
		"Test component implementation",
		tc.capabilities,
	)
}

func (tc *testComponent) Capabilities() []Operation {
	return tc.ComponentManifest().Capabilities
}

func TestComponentMetadataInterface(t *testing.T) {
	
	id, err := NewOperationKeyFromString("action=test;type=component")
	require.NoError(t, err)
	operation := NewOperation(id, "1.0.0", "test")
	
	component := &testComponent{
		name:         "TestImpl",
		capabilities: []Operation{*operation},
	}
	
	manifest := component.ComponentManifest()
	assert.Equal(t, "TestImpl", manifest.Name)
	
	capabilities := component.Capabilities()
	assert.Len(t, capabilities, 1)
	assert.Equal(t, "action=test;type=component", capabilities[0].IdString())
}

func TestOperationManifestValidation(t *testing.T) {
	// Test that manifest with valid capabilities works
	id, err := NewOperationKeyFromString("action=extract;target=metadata;type=document") 
	require.NoError(t, err)
	
	operation := NewOperation(id, "1.0.0", "extract-metadata")
	operation.AcceptsStdin = true
	
	manifest := NewOperationManifest(
		"ValidComponent",
		"1.0.0",
		"Valid component for testing",
		[]Operation{*operation},
	)
	
	// Validate that all required fields are present
	assert.NotEmpty(t, manifest.Name)
	assert.NotEmpty(t, manifest.Version)
	assert.NotEmpty(t, manifest.Description)
	assert.NotNil(t, manifest.Capabilities)
	
	// Validate operation integrity
	assert.Len(t, manifest.Capabilities, 1)
	cap := manifest.Capabilities[0]
	assert.Equal(t, "1.0.0", cap.Version)
	assert.Equal(t, "extract-metadata", cap.Command)
	assert.True(t, cap.AcceptsStdin)
}

func TestOperationManifestCompatibility(t *testing.T) {
	// Test that manifest format is compatible between different types
	id, err := NewOperationKeyFromString("action=process;type=document")
	require.NoError(t, err)
	operation := NewOperation(id, "1.0.0", "process")
	
	// Create manifest similar to what a plugin would have
	pluginStyleManifest := NewOperationManifest(
		"PluginComponent", 
		"0.1.0",
		"Plugin-style component",
		[]Operation{*operation},
	)
	
	// Create manifest similar to what a provider would have
	providerStyleManifest := NewOperationManifest(
		"ProviderComponent",
		"0.1.0", 
		"Provider-style component",
		[]Operation{*operation},
	)
	
	// Both should serialize to the same structure
	pluginJSON, err := json.Marshal(pluginStyleManifest)
	require.NoError(t, err)
	
	providerJSON, err := json.Marshal(providerStyleManifest)
	require.NoError(t, err)
	
	// Structure should be identical (except for name/description)
	var pluginMap map[string]interface{}
	var providerMap map[string]interface{}
	
	err = json.Unmarshal(pluginJSON, &pluginMap)
	require.NoError(t, err)
	
	err = json.Unmarshal(providerJSON, &providerMap)
	require.NoError(t, err)
	
	// Same structure
	assert.Equal(t, len(pluginMap), len(providerMap))
	assert.Contains(t, pluginMap, "name")
	assert.Contains(t, pluginMap, "version") 
	assert.Contains(t, pluginMap, "description")
	assert.Contains(t, pluginMap, "capabilities")
	
	// Same field types
	assert.IsType(t, providerMap["name"], pluginMap["name"])
	assert.IsType(t, providerMap["version"], pluginMap["version"])
	assert.IsType(t, providerMap["description"], pluginMap["description"])
	assert.IsType(t, providerMap["capabilities"], pluginMap["capabilities"])
}