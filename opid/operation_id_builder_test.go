package opid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationIdBuilderBasicConstruction(t *testing.T) {
	operationId, err := NewOperationIdBuilder().
		Sub("data_processing").
		Sub("transform").
		Sub("json").
		Build()

	require.NoError(t, err)
	assert.Equal(t, "data_processing:transform:json", operationId.ToString())
}

func TestOperationIdBuilderFromString(t *testing.T) {
	builder, err := NewOperationIdBuilderFromString("extract:metadata:pdf")
	require.NoError(t, err)

	operationId, err := builder.Build()
	require.NoError(t, err)
	assert.Equal(t, "extract:metadata:pdf", operationId.ToString())
}

func TestOperationIdBuilderMakeMoreGeneral(t *testing.T) {
	builder, err := NewOperationIdBuilderFromString("data_processing:transform:json")
	require.NoError(t, err)

	operationId, err := builder.MakeMoreGeneral().Build()
	require.NoError(t, err)
	assert.Equal(t, "data_processing:transform", operationId.ToString())
}

func TestOperationIdBuilderMakeWildcard(t *testing.T) {
	builder, err := NewOperationIdBuilderFromString("data_processing:transform:json")
	require.NoError(t, err)

	operationId, err := builder.MakeWildcard().Build()
	require.NoError(t, err)
	assert.Equal(t, "data_processing:transform:*", operationId.ToString())
}

func TestOperationIdBuilderAddWildcard(t *testing.T) {
	operationId, err := NewOperationIdBuilder().
		Sub("data_processing").
		AddWildcard().
		Build()

	require.NoError(t, err)
	assert.Equal(t, "data_processing:*", operationId.ToString())
}

func TestOperationIdBuilderReplaceSegment(t *testing.T) {
	builder, err := NewOperationIdBuilderFromString("extract:metadata:pdf")
	require.NoError(t, err)

	operationId, err := builder.ReplaceSegment(2, "xml").Build()
	require.NoError(t, err)
	assert.Equal(t, "extract:metadata:xml", operationId.ToString())
}

func TestOperationIdBuilderAddSegments(t *testing.T) {
	operationId, err := NewOperationIdBuilder().
		Subs("data", "processing").
		Sub("json").
		Build()

	require.NoError(t, err)
	assert.Equal(t, "data:processing:json", operationId.ToString())
}

func TestOperationIdBuilderAddSegmentsFromSlice(t *testing.T) {
	segments := []string{"data", "processing"}
	operationId, err := NewOperationIdBuilder().
		SubsFromSlice(segments).
		Sub("json").
		Build()

	require.NoError(t, err)
	assert.Equal(t, "data:processing:json", operationId.ToString())
}

func TestOperationIdBuilderMakeGeneralToLevel(t *testing.T) {
	builder, err := NewOperationIdBuilderFromString("a:b:c:d:e")
	require.NoError(t, err)

	operationId, err := builder.MakeGeneralToLevel(2).Build()
	require.NoError(t, err)
	assert.Equal(t, "a:b", operationId.ToString())
}

func TestOperationIdBuilderMakeWildcardFromLevel(t *testing.T) {
	builder, err := NewOperationIdBuilderFromString("data:processing:transform:json")
	require.NoError(t, err)

	operationId, err := builder.MakeWildcardFromLevel(2).Build()
	require.NoError(t, err)
	assert.Equal(t, "data:processing:*", operationId.ToString())
}

func TestOperationIdBuilderClear(t *testing.T) {
	builder, err := NewOperationIdBuilderFromString("data:processing:transform")
	require.NoError(t, err)

	assert.Equal(t, 3, builder.Len())
	assert.False(t, builder.IsEmpty())

	builder.Clear()
	assert.Equal(t, 0, builder.Len())
	assert.True(t, builder.IsEmpty())
}

func TestOperationIdBuilderClone(t *testing.T) {
	original, err := NewOperationIdBuilderFromString("data:processing:transform")
	require.NoError(t, err)

	clone := original.Clone()

	// Modify original
	original.Sub("json")

	// Clone should remain unchanged
	originalId, err := original.Build()
	require.NoError(t, err)
	assert.Equal(t, "data:processing:transform:json", originalId.ToString())

	cloneId, err := clone.Build()
	require.NoError(t, err)
	assert.Equal(t, "data:processing:transform", cloneId.ToString())
}

func TestOperationIdBuilderBuildString(t *testing.T) {
	builder := NewOperationIdBuilder().
		Sub("extract").
		Sub("metadata").
		AddWildcard()

	str, err := builder.BuildString()
	require.NoError(t, err)
	assert.Equal(t, "extract:metadata:*", str)
}

func TestOperationIdBuilderHelperFunctions(t *testing.T) {
	// Test StringIntoBuilder
	builder1, err := StringIntoBuilder("extract:metadata:pdf")
	require.NoError(t, err)
	capId1, err := builder1.Build()
	require.NoError(t, err)
	assert.Equal(t, "extract:metadata:pdf", capId1.ToString())

	// Test OperationIdIntoBuilder
	capId, err := NewOperationIdFromString("extract:metadata:pdf")
	require.NoError(t, err)
	builder2, err := OperationIdIntoBuilder(capId)
	require.NoError(t, err)
	capId2, err := builder2.Build()
	require.NoError(t, err)
	assert.Equal(t, "extract:metadata:pdf", capId2.ToString())
}

func TestOperationIdBuilderEdgeCases(t *testing.T) {
	// Test replace segment with invalid index
	builder := NewOperationIdBuilder().Sub("test")
	builder.ReplaceSegment(5, "invalid") // Should not crash
	capId, err := builder.Build()
	require.NoError(t, err)
	assert.Equal(t, "test", capId.ToString())

	// Test make more general on empty builder
	emptyBuilder := NewOperationIdBuilder()
	emptyBuilder.MakeMoreGeneral() // Should not crash
	assert.True(t, emptyBuilder.IsEmpty())

	// Test make wildcard on empty builder
	emptyBuilder2 := NewOperationIdBuilder()
	emptyBuilder2.MakeWildcard() // Should not crash
	assert.True(t, emptyBuilder2.IsEmpty())
}