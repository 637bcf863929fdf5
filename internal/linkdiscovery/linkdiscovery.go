// Package linkdiscovery implements link discovery: robots.txt
// compliance, sitemap.xml parsing, and a bounded, same-host breadth-
// first crawl that tags each discovered URL with a coarse category
// (navigation keyword match) so the page selector has signal to fall
// back on when the LLM call is unavailable.
//
// Grounded on internal/crawler/map.go (robots fetch, sitemap parse,
// host-scope filtering, dedup-by-canonical-URL) and
// internal/scrapeutil/helpers.go's FilterLinks, generalized here from
// a single-page link scrape into a multi-depth BFS with per-host
// concurrency.
package linkdiscovery

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"

	"researchengine/internal/errkind"
)

// Options controls the BFS crawl.
type Options struct {
	MaxLinks           int
	MaxDepth           int
	PerHostConcurrency int
	TotalDeadline      time.Duration
	RespectRobots      bool
	UserAgent          string
}

// Link is one discovered URL with its crawl depth and a coarse
// navigation category used by internal/pageselect's heuristic fallback.
type Link struct {
	URL      string
	Title    string
	Depth    int
	Category string
}

// Result is the outcome of a Discover call.
type Result struct {
	Links   []Link
	Warning string
}

// categoryKeywords maps a coarse page category to the path/anchor-text
// substrings that indicate it, checked in order (first match wins).
var categoryKeywords = []struct {
	category string
	needles  []string
}{
	{"about", []string{"about", "company", "who-we-are", "mission"}},
	{"team", []string{"team", "leadership", "management", "founders", "people"}},
	{"pricing", []string{"pricing", "plans", "price"}},
	{"product", []string{"product", "platform", "solutions", "features"}},
	{"careers", []string{"careers", "jobs", "join-us", "hiring"}},
	{"news", []string{"news", "press", "blog", "announcement"}},
	{"contact", []string{"contact", "support"}},
	{"customers", []string{"customers", "case-studies", "testimonials", "clients"}},
}

func categorize(u, title string) string {
	hay := strings.ToLower(u + " " + title)
	for _, ck := range categoryKeywords {
		for _, n := range ck.needles {
			if strings.Contains(hay, n) {
				return ck.category
			}
		}
	}
	return "other"
}

// Discover crawls rootURL up to opts.MaxDepth, respecting robots.txt
// when requested, and returns every same-host URL found (including
// sitemap.xml entries), each tagged with a coarse category.
func Discover(ctx context.Context, rootURL string, opts Options) (*Result, error) {
	base, err := url.Parse(rootURL)
	if err != nil {
		return nil, errkind.New(errkind.Input, "invalid_url", "link_discovery", "could not parse target URL", err)
	}
	if base.Scheme == "" {
		base.Scheme = "https"
	}
	if base.Host == "" {
		return nil, errkind.New(errkind.Input, "invalid_url", "link_discovery", "target URL has no host", nil)
	}

	deadline := opts.TotalDeadline
	if deadline <= 0 {
		deadline = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}

	var robotsData *robotstxt.RobotsData
	if opts.RespectRobots {
		robotsData, _ = fetchRobots(ctx, client, base, opts.UserAgent)
	}
	allowed := func(u string) bool {
		if robotsData == nil {
			return true
		}
		grp := robotsData.FindGroup(opts.UserAgent)
		return grp.Test(u)
	}

	maxLinks := opts.MaxLinks
	if maxLinks <= 0 {
		maxLinks = 1000
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	concurrency := opts.PerHostConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	seen := map[string]Link{}
	var mu sync.Mutex

	addLink := func(raw, title string, depth int) (string, bool) {
		parsed, err := base.Parse(raw)
		if err != nil {
			return "", false
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return "", false
		}
		if !strings.EqualFold(parsed.Hostname(), base.Hostname()) {
			return "", false
		}
		parsed.Fragment = ""
		final := parsed.String()
		if !allowed(final) {
			return "", false
		}

		mu.Lock()
		defer mu.Unlock()
		if len(seen) >= maxLinks {
			return "", false
		}
		if existing, ok := seen[final]; ok {
			if existing.Depth <= depth {
				return final, false
			}
		}
		seen[final] = Link{URL: final, Title: strings.TrimSpace(title), Depth: depth, Category: categorize(final, title)}
		return final, true
	}

	// Seed from sitemap.xml (depth 1, not followed further).
	_ = collectFromSitemap(ctx, client, base, func(loc string) {
		addLink(loc, "", 1)
	})

	// BFS over HTML pages starting at the root, bounded by maxDepth.
	rootLink, _ := addLink(base.String(), "", 0)
	if rootLink == "" {
		rootLink = base.String()
		mu.Lock()
		seen[rootLink] = Link{URL: rootLink, Depth: 0, Category: "home"}
		mu.Unlock()
	}

	frontier := []string{rootLink}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := fetchAndExpand(ctx, client, frontier, concurrency, func(raw, title string) (string, bool) {
			return addLink(raw, title, depth+1)
		})
		frontier = next

		mu.Lock()
		full := len(seen) >= maxLinks
		mu.Unlock()
		if full {
			break
		}
	}

	mu.Lock()
	links := make([]Link, 0, len(seen))
	for _, l := range seen {
		links = append(links, l)
	}
	mu.Unlock()

	warning := ""
	if len(links) <= 1 {
		warning = "discovered only the root page; site may block crawlers or require JavaScript rendering"
	}

	return &Result{Links: links, Warning: warning}, nil
}

// fetchAndExpand fetches each URL in frontier (bounded by concurrency)
// and returns the set of newly-discovered same-host URLs via add.
func fetchAndExpand(ctx context.Context, client *http.Client, frontier []string, concurrency int, add func(raw, title string) (string, bool)) []string {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var discovered []string

	for _, pageURL := range frontier {
		select {
		case <-ctx.Done():
			wg.Wait()
			return discovered
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(pageURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			doc, err := fetchDocument(ctx, client, pageURL)
			if err != nil || doc == nil {
				return
			}
			doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
				href, ok := sel.Attr("href")
				if !ok {
					return
				}
				title := strings.TrimSpace(sel.Text())
				if newURL, added := add(href, title); added {
					mu.Lock()
					discovered = append(discovered, newURL)
					mu.Unlock()
				}
			})
		}(pageURL)
	}
	wg.Wait()
	return discovered
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

func fetchRobots(ctx context.Context, client *http.Client, base *url.URL, userAgent string) (*robotstxt.RobotsData, error) {
	robotsURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return robotstxt.FromStatusAndBytes(resp.StatusCode, body)
}

func collectFromSitemap(ctx context.Context, client *http.Client, base *url.URL, add func(loc string)) error {
	sitemapURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/sitemap.xml"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL.String(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	type urlEntry struct {
		Loc string `xml:"loc"`
	}
	type urlSet struct {
		URLs []urlEntry `xml:"url"`
	}
	var us urlSet
	if err := xml.Unmarshal(body, &us); err != nil {
		return err
	}
	for _, ue := range us.URLs {
		add(ue.Loc)
	}
	return nil
}

// Map is the adjunct, single-call discovery operation (no content
// extraction) exposed for standalone site-mapping use, matching
// crawler.Map's shape as a distinct primitive from the full research
// pipeline.
func Map(ctx context.Context, rootURL string, opts Options) (*Result, error) {
	opts.MaxDepth = 1
	return Discover(ctx, rootURL, opts)
}
