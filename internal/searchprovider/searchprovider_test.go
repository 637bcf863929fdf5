package searchprovider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchengine/internal/config"
)

func TestSearxngProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		fmt.Fprint(w, `{"results":[{"title":"Acme Corp","url":"https://acme.example","content":"Widgets for business"}]}`)
	}))
	defer srv.Close()

	p, err := NewSearxngProvider(config.SearchConfig{Searxng: config.SearxngConfig{BaseURL: srv.URL, DefaultLimit: 5}})
	require.NoError(t, err)

	results, err := p.Search(context.Background(), &Request{Query: "acme widgets competitors"})
	require.NoError(t, err)
	require.Len(t, results.Web, 1)
	assert.Equal(t, "Acme Corp", results.Web[0].Title)
	assert.Equal(t, "https://acme.example", results.Web[0].URL)
}

func TestSearxngProvider_EmptyQueryErrors(t *testing.T) {
	p, err := NewSearxngProvider(config.SearchConfig{Searxng: config.SearxngConfig{BaseURL: "http://example.invalid"}})
	require.NoError(t, err)

	_, err = p.Search(context.Background(), &Request{Query: "  "})
	assert.Error(t, err)
}

func TestNewSearxngProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewSearxngProvider(config.SearchConfig{})
	assert.Error(t, err)
}
