// Package scraper holds the two page-fetch engines the content
// extractor drives for company research: a plain net/http+goquery
// fetch and a go-rod headless-browser fetch for pages that render
// client-side. FetchPage owns the decision of when a research page
// needs the browser engine (an HTTP fetch error, or HTTP content
// thinner than the configured threshold), so that decision lives next
// to the engines it dispatches rather than in the caller. A non-2xx
// response is not an error: it comes back as a Result with its Status.
package scraper

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Request is one page fetch: the target URL plus the headers/timeout a
// research job's crawl config supplies.
type Request struct {
	URL       string
	Headers   map[string]string
	Timeout   time.Duration
	UserAgent string
}

// Result is one engine's cleaned output for a single page: enough for
// internal/extract to build a model.ExtractedPage from, without
// carrying the outbound-link/image extraction a generic scrape API
// would need (internal/linkdiscovery owns link discovery separately).
type Result struct {
	URL      string
	Markdown string
	HTML     string
	RawHTML  string
	Metadata map[string]any
	Status   int
	Engine   string
}

// Scraper defines the interface for URL scrapers.
type Scraper interface {
	Scrape(ctx context.Context, req Request) (*Result, error)
}

// HTTPScraper is a basic implementation using net/http and goquery.
type HTTPScraper struct {
	client *http.Client
}

func NewHTTPScraper(timeout time.Duration) *HTTPScraper {
	return &HTTPScraper{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	if u.Scheme == "" {
		u.Scheme = "http"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	htmlStr := string(bodyBytes)

	// First, attempt HTML -> Markdown conversion (CommonMark-enabled)
	converter := htmlmd.NewConverter(u.Hostname(), true, nil)
	markdown, mdErr := converter.ConvertString(htmlStr)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(bodyBytes))
	if err != nil {
		// If parsing fails, still return raw HTML, status, and best-effort markdown
		if mdErr != nil {
			markdown = ""
		}
		return &Result{
			URL:      u.String(),
			Markdown: markdown,
			HTML:     htmlStr,
			RawHTML:  htmlStr,
			Status:   resp.StatusCode,
			Engine:   "http",
			Metadata: map[string]any{
				"statusCode": resp.StatusCode,
				"sourceURL":  u.String(),
			},
		}, nil
	}

	if mdErr != nil {
		markdown = doc.Text()
	}

	// Build richer metadata
	title := strings.TrimSpace(doc.Find("title").First().Text())
	desc := doc.Find("meta[name=description]").AttrOr("content", "")
	keywords := doc.Find("meta[name=keywords]").AttrOr("content", "")
	robots := doc.Find("meta[name=robots]").AttrOr("content", "")
	lang, _ := doc.Find("html").First().Attr("lang")

	ogTitle := doc.Find("meta[property=og:title]").AttrOr("content", "")
	ogDesc := doc.Find("meta[property=og:description]").AttrOr("content", "")
	ogURL := doc.Find("meta[property=og:url]").AttrOr("content", "")
	ogImage := doc.Find("meta[property=og:image]").AttrOr("content", "")
	ogSiteName := doc.Find("meta[property=og:site_name]").AttrOr("content", "")

	// Canonical URL
	canonical := doc.Find("link[rel=canonical]").AttrOr("href", "")
	sourceURL := u.String()
	if canonical != "" {
		if cu, err := url.Parse(canonical); err == nil {
			if cu.Scheme == "" {
				cu = u.ResolveReference(cu)
			}
			sourceURL = cu.String()
		}
	}

	metadata := map[string]any{
		"title":         title,
		"description":   desc,
		"language":      lang,
		"keywords":      keywords,
		"robots":        robots,
		"ogTitle":       ogTitle,
		"ogDescription": ogDesc,
		"ogUrl":         ogURL,
		"ogImage":       ogImage,
		"ogSiteName":    ogSiteName,
		"statusCode":    resp.StatusCode,
		"sourceURL":     sourceURL,
	}

	return &Result{
		URL:      u.String(),
		Markdown: markdown,
		HTML:     htmlStr,
		RawHTML:  htmlStr,
		Metadata: metadata,
		Status:   resp.StatusCode,
		Engine:   "http",
	}, nil
}

// FetchPage fetches req with http, escalating to rod when the HTTP
// engine either fails outright or returns content thinner than
// thinContentThreshold bytes — the signal that a page renders its
// actual content client-side rather than in the initial HTML response.
// rod may be nil, in which case no escalation is attempted and the
// HTTP engine's own result or error is returned as-is.
func FetchPage(ctx context.Context, httpEngine *HTTPScraper, rod *RodScraper, req Request, thinContentThreshold int) (*Result, error) {
	result, err := httpEngine.Scrape(ctx, req)
	if err == nil {
		if rod != nil && thinContentThreshold > 0 && len(result.Markdown) < thinContentThreshold {
			if rodResult, rodErr := rod.Scrape(ctx, req); rodErr == nil {
				return rodResult, nil
			}
		}
		return result, nil
	}

	if rod != nil {
		if rodResult, rodErr := rod.Scrape(ctx, req); rodErr == nil {
			return rodResult, nil
		}
	}
	return nil, err
}
