package similarity

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchengine/internal/config"
	"researchengine/internal/embed"
	"researchengine/internal/searchprovider"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSearch struct {
	results *searchprovider.Results
	err     error
}

func (f *fakeSearch) Search(_ context.Context, _ *searchprovider.Request) (*searchprovider.Results, error) {
	return f.results, f.err
}

func TestDiscover_WebPathRanksAndDedupes(t *testing.T) {
	cfg := config.Default()
	cfg.Similarity.MaxWebSearchQueries = 1

	search := &fakeSearch{results: &searchprovider.Results{Web: []searchprovider.Result{
		{Title: "Acme Widgets", URL: "https://acme-widgets.example"},
		{Title: "Acme Widgets", URL: "https://acme-widgets.example"},
		{Title: "Totally Unrelated Co", URL: "https://unrelated.example"},
	}}}

	e := New(Deps{Search: search, Config: cfg, Log: testLog(), Embedder: &embed.HashEmbedder{}})

	candidates, err := e.Discover(context.Background(), "Acme Corp", Filters{}, 5, SourceWeb)
	require.NoError(t, err)
	assert.Len(t, candidates, 2, "duplicate web hits must be deduped by canonical id")
	for _, c := range candidates {
		assert.Equal(t, SourceWeb, c.Source)
	}
}

func TestDiscover_VectorPathWithoutStoreReturnsNoCandidates(t *testing.T) {
	cfg := config.Default()
	cfg.Similarity.Threshold = 0.9

	e := New(Deps{Config: cfg, Log: testLog(), Embedder: &embed.HashEmbedder{}})
	candidates, err := e.Discover(context.Background(), "Acme Corp", Filters{}, 5, SourceVector)
	require.NoError(t, err)
	assert.Empty(t, candidates, "no vector store configured means no vector candidates")
}

func TestDiscover_UnknownSourceErrors(t *testing.T) {
	cfg := config.Default()
	e := New(Deps{Config: cfg, Log: testLog(), Embedder: &embed.HashEmbedder{}})
	_, err := e.Discover(context.Background(), "Acme Corp", Filters{}, 5, Source("nonsense"))
	assert.Error(t, err)
}

func TestCanonicalID_StableAndCaseInsensitive(t *testing.T) {
	a := canonicalID("Acme Corp", "https://acme.example")
	b := canonicalID("acme corp", "https://acme.example")
	assert.Equal(t, a, b)
}
