// Package pageselect implements page selection: choosing which of the
// URLs link discovery found are worth fetching, within the per-job
// page budget. When there are more candidates than the budget, the LLM
// is asked for a subset of URLs (no per-URL reasons are requested); if
// there is no pool or the pool call fails, a deterministic
// category-based ranker is used instead so the pipeline never stalls
// entirely on one LLM call. Candidates within the budget are all
// returned unranked.
package pageselect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"researchengine/internal/errkind"
	"researchengine/internal/linkdiscovery"
	"researchengine/internal/llmpool"
	"researchengine/internal/llmprovider"
)

// categoryPriority is the deterministic fallback ordering: pages most
// likely to carry company-intelligence signal sort first.
var categoryPriority = map[string]int{
	"home":      0,
	"about":     1,
	"product":   2,
	"team":      3,
	"pricing":   4,
	"customers": 5,
	"news":      6,
	"careers":   7,
	"contact":   8,
	"other":     9,
}

// Select picks at most maxPages URLs from candidates for companyName.
// It first tries an LLM-backed ranking through pool; on any pool error
// (schema exhaustion, permanent failure, deadline) it falls back to
// the deterministic category ranker rather than failing the phase —
// the orchestrator only ever sees an error here if candidates is empty.
func Select(ctx context.Context, pool *llmpool.Pool, companyName string, candidates []linkdiscovery.Link, maxPages int) ([]linkdiscovery.Link, error) {
	if len(candidates) == 0 {
		return nil, errkind.New(errkind.Permanent, "no_candidate_pages", "page_selection", "no candidate pages were discovered to select from", nil)
	}
	if maxPages <= 0 {
		maxPages = 15
	}
	if len(candidates) <= maxPages {
		return candidates, nil
	}

	if pool != nil {
		if selected, err := selectWithLLM(ctx, pool, companyName, candidates, maxPages); err == nil {
			return selected, nil
		}
	}

	return selectDeterministic(candidates, maxPages), nil
}

type selectionResponse struct {
	SelectedURLs []string `json:"selected_urls"`
}

func selectWithLLM(ctx context.Context, pool *llmpool.Pool, companyName string, candidates []linkdiscovery.Link, maxPages int) ([]linkdiscovery.Link, error) {
	byURL := make(map[string]linkdiscovery.Link, len(candidates))
	var listing strings.Builder
	for _, c := range candidates {
		byURL[c.URL] = c
		fmt.Fprintf(&listing, "- %s (category: %s, title: %q)\n", c.URL, c.Category, c.Title)
	}

	userPrompt := fmt.Sprintf(
		"Company: %s\nFrom the following %d URLs discovered on the company's website, select at most %d that are most likely to contain information about the company's business model, products, team, pricing, and positioning. Respond with JSON: {\"selected_urls\": [\"...\"]}\n\n%s",
		companyName, len(candidates), maxPages, listing.String())

	resp, err := pool.Submit(ctx, llmpool.Task{
		Phase: "page_selection",
		Request: llmprovider.Request{
			SystemPrompt: "You are a precise research assistant. Respond with strictly valid JSON and nothing else.",
			UserPrompt:   userPrompt,
		},
		Validate: func(r llmprovider.Response) error {
			var out selectionResponse
			if err := llmprovider.ParseJSONObject(r.Content, &out); err != nil {
				return err
			}
			if len(out.SelectedURLs) == 0 {
				return fmt.Errorf("selected_urls must not be empty")
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	var out selectionResponse
	if err := llmprovider.ParseJSONObject(resp.Content, &out); err != nil {
		return nil, err
	}

	selected := make([]linkdiscovery.Link, 0, maxPages)
	for _, u := range out.SelectedURLs {
		if link, ok := byURL[u]; ok {
			selected = append(selected, link)
		}
		if len(selected) >= maxPages {
			break
		}
	}
	if len(selected) == 0 {
		return nil, errkind.New(errkind.Schema, "llm_selected_no_known_urls", "page_selection", "llm selection referenced no known candidate urls", nil)
	}
	return selected, nil
}

func selectDeterministic(candidates []linkdiscovery.Link, maxPages int) []linkdiscovery.Link {
	ranked := make([]linkdiscovery.Link, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := categoryPriority[ranked[i].Category], categoryPriority[ranked[j].Category]
		if pi != pj {
			return pi < pj
		}
		if ranked[i].Depth != ranked[j].Depth {
			return ranked[i].Depth < ranked[j].Depth
		}
		return ranked[i].URL < ranked[j].URL
	})

	if len(ranked) > maxPages {
		ranked = ranked[:maxPages]
	}
	return ranked
}
