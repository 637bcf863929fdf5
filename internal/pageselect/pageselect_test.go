package pageselect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchengine/internal/linkdiscovery"
)

func links(n int) []linkdiscovery.Link {
	cats := []string{"other", "pricing", "home", "about", "team"}
	out := make([]linkdiscovery.Link, n)
	for i := 0; i < n; i++ {
		out[i] = linkdiscovery.Link{URL: "https://example.com/" + cats[i%len(cats)], Category: cats[i%len(cats)]}
	}
	return out
}

func TestSelect_UnderBudgetReturnsAll(t *testing.T) {
	cands := links(3)
	got, err := Select(context.Background(), nil, "Acme", cands, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSelect_NoPoolFallsBackDeterministically(t *testing.T) {
	cands := links(20)
	got, err := Select(context.Background(), nil, "Acme", cands, 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, "home", got[0].Category)
}

func TestSelect_EmptyCandidatesErrors(t *testing.T) {
	_, err := Select(context.Background(), nil, "Acme", nil, 5)
	require.Error(t, err)
}
