package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := &HashEmbedder{dim: 16}
	a, err := h.Embed(context.Background(), "acme corp")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "acme corp")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestHashEmbedder_DifferentInputsDiffer(t *testing.T) {
	h := &HashEmbedder{dim: 16}
	a, _ := h.Embed(context.Background(), "acme corp")
	b, _ := h.Embed(context.Background(), "widgets inc")
	assert.NotEqual(t, a, b)
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	h := &HashEmbedder{dim: 32}
	v, _ := h.Embed(context.Background(), "some company description")
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	assert.InDelta(t, 1.0, sumSq, 0.01)
}
