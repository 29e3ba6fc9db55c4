package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	a := []float32{1, 0, 0}
	require.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	require.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarityMismatchedLengthReturnsZero(t *testing.T) {
	require.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1}))
}

func TestCosineSimilarityEmptyReturnsZero(t *testing.T) {
	require.Equal(t, 0.0, CosineSimilarity(nil, []float32{1}))
}

func TestNoopEngineReturnsServiceUnavailable(t *testing.T) {
	var e Engine = NoopEngine{}
	_, err := e.Embed(context.Background(), "hello")
	apiErr, ok := apitypes.AsError(err)
	require.True(t, ok)
	require.Equal(t, apitypes.TagServiceUnavailable, apiErr.Tag)
	require.Equal(t, 0, e.Dimensions())
}
