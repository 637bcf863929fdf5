package research

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchengine/internal/config"
	"researchengine/internal/embed"
	"researchengine/internal/extract"
	"researchengine/internal/llmpool"
	"researchengine/internal/llmprovider"
	"researchengine/internal/model"
	"researchengine/internal/progressbus"
)

type fakeResearchClient struct{}

func (f *fakeResearchClient) Name() llmprovider.Provider { return "fake" }

func (f *fakeResearchClient) Complete(_ context.Context, req llmprovider.Request) (llmprovider.Response, error) {
	switch {
	case strings.Contains(req.SystemPrompt, "research assistant"):
		return llmprovider.Response{Content: `{"selected_urls":["/","/about"]}`}, nil
	case strings.Contains(req.SystemPrompt, "company research analyst"):
		return llmprovider.Response{Content: `{
			"description": "Acme builds widgets.",
			"value_proposition": "Faster widgets for less.",
			"industry": "manufacturing_tech",
			"business_model": "b2b_saas",
			"target_market": "enterprise",
			"company_size": "51-200",
			"company_stage": "growth",
			"key_services": ["Widgets", "widgets"],
			"has_chat_widget": true
		}`}, nil
	case strings.Contains(req.SystemPrompt, "business-model classifier"):
		return llmprovider.Response{Content: `{"saas_classification":"b2b_saas","is_saas":true,"confidence":0.9,"justification":"sells software to businesses"}`}, nil
	default:
		return llmprovider.Response{}, fmt.Errorf("unexpected prompt: %s", req.SystemPrompt)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, site *httptest.Server) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Pool.Workers = 2
	cfg.LLM.Pool.RequestsPerMinute = 6000
	cfg.Crawl.MaxDepth = 1
	cfg.Crawl.TotalDeadlineS = 10
	cfg.Research.OverallTimeoutS = 30
	cfg.Research.MaxPages = 5

	log := testLogger()
	ctx := context.Background()
	pool := llmpool.New(ctx, cfg, &fakeResearchClient{}, log)
	t.Cleanup(pool.Close)

	ex := extract.New(extract.Options{Concurrency: 4, UserAgent: "test-agent"}, false, log)

	return New(Deps{
		Config:    cfg,
		Pool:      pool,
		Extractor: ex,
		Embedder:  embed.Client(&embed.HashEmbedder{}),
		VStore:    nil,
		Bus:       progressbus.New(16, 0),
		Taxonomy:  model.DefaultTaxonomy,
		Log:       log,
	})
}

func newTestSite() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Acme</title></head><body>
			<h1>Acme Corp</h1>
			<p>We build widgets for the modern enterprise, with a focus on reliability and speed.</p>
			<a href="/about">About</a>
		</body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>About Acme</title></head><body>
			<h1>About Us</h1>
			<p>Acme was founded to make widget manufacturing faster and cheaper for every business.</p>
		</body></html>`)
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func TestResearch_EndToEndSuccess(t *testing.T) {
	site := newTestSite()
	defer site.Close()

	orch := newTestOrchestrator(t, site)
	jobID := uuid.New()

	sub := orch.bus.Subscribe(jobID)
	defer sub.Close()

	rec, err := orch.Research(context.Background(), jobID, "Acme", site.URL)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, model.StatusSuccess, rec.ScrapeStatus)
	assert.Equal(t, "Acme builds widgets.", rec.Description)
	assert.Equal(t, "b2b_saas", rec.BusinessModel)
	assert.Equal(t, "b2b_saas", rec.SaaSClassification)
	assert.True(t, rec.IsSaaS)
	assert.Contains(t, rec.KeyServices, "Widgets")
	assert.Len(t, rec.KeyServices, 1, "case-insensitive duplicates must be deduped")
	assert.NotEmpty(t, rec.Embedding)
	assert.NotEmpty(t, rec.PagesCrawled)

	events := orch.bus.Snapshot(jobID)
	assert.NotEmpty(t, events)
	assert.Equal(t, progressbus.EventJobCompleted, events[len(events)-1].Type)
}

func TestResearch_AllPageFetchesFailProducesPartialRecord(t *testing.T) {
	orch := newTestOrchestrator(t, nil)
	jobID := uuid.New()

	sub := orch.bus.Subscribe(jobID)
	defer sub.Close()

	// Port 1 is reserved and nothing answers on it, so link discovery
	// still seeds the root URL as a candidate (it never verifies
	// reachability up front) but every content-extraction fetch fails.
	rec, err := orch.Research(context.Background(), jobID, "Unreachable Co", "http://127.0.0.1:1")
	require.NoError(t, err, "an unreachable site must still yield a record, not a job failure")
	require.NotNil(t, rec)

	assert.Equal(t, model.StatusPartial, rec.ScrapeStatus)
	assert.NotEmpty(t, rec.ScrapeError)
	assert.Empty(t, rec.PagesCrawled)
	// The aggregator was still invoked with empty page content and
	// produced a name-only record, not a missing one.
	assert.Equal(t, "Acme builds widgets.", rec.Description)

	events := orch.bus.Snapshot(jobID)
	require.NotEmpty(t, events)
	assert.Equal(t, progressbus.EventJobCompleted, events[len(events)-1].Type)
}

func TestResearch_InvalidInputFailsFast(t *testing.T) {
	orch := newTestOrchestrator(t, nil)
	jobID := uuid.New()

	rec, err := orch.Research(context.Background(), jobID, "", "   ")
	assert.Error(t, err)
	assert.Nil(t, rec)
}
