// Package extract implements content extraction: concurrent,
// semaphore-bounded fetch-and-clean of the pages internal/pageselect
// chose, producing model.ExtractedPage values for the aggregator.
//
// Grounded directly on internal/scraper, which owns both fetch engines
// (scraper.HTTPScraper, scraper.RodScraper) and the decision of when to
// escalate from one to the other via scraper.FetchPage; this package's
// job is the bounded fan-out and the cleaned-text/byte-cap shaping
// around that single fetch, plus the per-page failure accounting the
// orchestrator treats as non-fatal.
package extract

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"researchengine/internal/errkind"
	"researchengine/internal/model"
	"researchengine/internal/scraper"
)

// Options controls the extraction fan-out.
type Options struct {
	Concurrency    int
	PerPageTimeout time.Duration
	ByteCap        int
	TextCap        int
	UserAgent      string
	UseRodFallback bool
	// ThinContentThreshold is the cleaned-text byte count below which
	// the HTTP engine's result is considered suspect (likely a
	// JS-rendered shell) and the Rod engine is retried.
	ThinContentThreshold int
}

// PageOutcome pairs an ExtractedPage with the error encountered
// fetching it, if any — partial failures are expected and handled by
// the orchestrator: a failed page does not fail the job, it is simply
// omitted from aggregation input.
type PageOutcome struct {
	Page model.ExtractedPage
	Err  error
}

// Extractor runs the two scraping engines.
type Extractor struct {
	http *scraper.HTTPScraper
	rod  *scraper.RodScraper
	log  *slog.Logger
	opts Options
}

// New constructs an Extractor. rodEnabled controls whether the
// headless-browser fallback engine is available at all (some
// deployments run without a Chromium binary present).
func New(opts Options, rodEnabled bool, log *slog.Logger) *Extractor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.PerPageTimeout <= 0 {
		opts.PerPageTimeout = 20 * time.Second
	}
	if opts.ThinContentThreshold <= 0 {
		opts.ThinContentThreshold = 200
	}

	e := &Extractor{
		http: scraper.NewHTTPScraper(opts.PerPageTimeout),
		log:  log,
		opts: opts,
	}
	if rodEnabled {
		e.rod = scraper.NewRodScraper(opts.PerPageTimeout)
	}
	return e
}

// FetchAll fetches every URL concurrently (bounded by opts.Concurrency)
// and returns one PageOutcome per URL, in the same order as urls.
func (e *Extractor) FetchAll(ctx context.Context, urls []string) []PageOutcome {
	sem := make(chan struct{}, e.opts.Concurrency)
	results := make([]PageOutcome, len(urls))
	var wg sync.WaitGroup

	for i, u := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, u string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.fetchOne(ctx, u)
		}(i, u)
	}
	wg.Wait()
	return results
}

func (e *Extractor) fetchOne(ctx context.Context, pageURL string) PageOutcome {
	pageCtx, cancel := context.WithTimeout(ctx, e.opts.PerPageTimeout)
	defer cancel()

	start := time.Now()
	req := scraper.Request{URL: pageURL, UserAgent: e.opts.UserAgent, Timeout: e.opts.PerPageTimeout}

	// A thin-content escalation is only attempted when UseRodFallback is
	// set; an outright fetch error still escalates to the browser engine
	// whenever it's enabled at all, so the threshold alone gates that path.
	thinThreshold := 0
	if e.opts.UseRodFallback {
		thinThreshold = e.opts.ThinContentThreshold
	}
	result, err := scraper.FetchPage(pageCtx, e.http, e.rod, req, thinThreshold)
	if err != nil {
		e.log.Debug("page fetch failed on both engines", "url", pageURL, "error", err)
		return PageOutcome{
			Page: model.ExtractedPage{URL: pageURL},
			Err:  errkind.New(errkind.Transient, "page_fetch_failed", "content_extraction", "failed to fetch page: "+pageURL, err),
		}
	}
	if result.Engine == "browser" {
		e.log.Debug("escalated to browser engine", "url", pageURL)
	}

	cleaned := result.Markdown
	if e.opts.TextCap > 0 && len(cleaned) > e.opts.TextCap {
		cleaned = cleaned[:e.opts.TextCap]
	}

	page := model.ExtractedPage{
		URL:         result.URL,
		CleanedText: cleaned,
		ByteCount:   len(cleaned),
		FetchMs:     time.Since(start).Milliseconds(),
		Engine:      result.Engine,
		Metadata: model.Metadata{
			Title:       toString(result.Metadata["title"]),
			Description: toString(result.Metadata["description"]),
			Language:    toString(result.Metadata["language"]),
			SourceURL:   toString(result.Metadata["sourceURL"]),
			StatusCode:  result.Status,
		},
	}
	return PageOutcome{Page: page}
}

// Screenshot captures a full-page screenshot of targetURL via the Rod
// engine, exposed as an optional research-job side artifact. Returns
// an error if the Rod engine is disabled.
func (e *Extractor) Screenshot(ctx context.Context, targetURL string, fullPage bool) ([]byte, error) {
	if e.rod == nil {
		return nil, errkind.New(errkind.Permanent, "rod_engine_disabled", "screenshot", "browser engine is not enabled in this deployment", nil)
	}
	return scraper.CaptureScreenshot(ctx, targetURL, e.opts.PerPageTimeout, fullPage)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
