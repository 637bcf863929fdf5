// Package aggregate implements content aggregation: a single
// large-context LLM call that synthesizes every extracted page into
// the narrative and list fields of a model.CompanyRecord. Grounded on
// internal/llm's field-schema prompt construction, adapted to a fixed
// CompanyRecord-shaped schema and routed through internal/llmpool
// rather than calling a provider directly.
package aggregate

import (
	"context"
	"fmt"
	"strings"

	"researchengine/internal/errkind"
	"researchengine/internal/llmpool"
	"researchengine/internal/llmprovider"
	"researchengine/internal/model"
)

// Result is the subset of CompanyRecord fields the aggregation phase
// produces; internal/research merges it into the record under
// construction alongside the classification and embedding phases'
// output.
type Result struct {
	Description           string            `json:"description"`
	ValueProposition       string            `json:"value_proposition"`
	CompanyCulture         string            `json:"company_culture"`
	Industry               string            `json:"industry"`
	BusinessModel           string           `json:"business_model"`
	TargetMarket            string           `json:"target_market"`
	CompanySize             string           `json:"company_size"`
	CompanyStage            string           `json:"company_stage"`
	KeyServices             []string         `json:"key_services"`
	CompetitiveAdvantages   []string         `json:"competitive_advantages"`
	TechStack               []string         `json:"tech_stack"`
	Certifications          []string         `json:"certifications"`
	Partnerships            []string         `json:"partnerships"`
	Awards                  []string         `json:"awards"`
	LeadershipTeam          []string         `json:"leadership_team"`
	RecentNews              []string         `json:"recent_news"`
	SocialMedia             map[string]string `json:"social_media"`
	ContactInfo             map[string]string `json:"contact_info"`
	KeyDecisionMakers       map[string]string `json:"key_decision_makers"`
	FoundingYear            *int             `json:"founding_year"`
	HasChatWidget           bool             `json:"has_chat_widget"`
	HasForms                bool             `json:"has_forms"`
	HasJobListings          bool             `json:"has_job_listings"`
}

// Aggregate synthesizes pages into a Result for companyName/website. When
// pages is empty (every C5 fetch failed), it still issues a name-only
// call rather than refusing outright, so a site that cannot be crawled
// can still yield a minimal, partial record instead of no record at all.
func Aggregate(ctx context.Context, pool *llmpool.Pool, companyName, website string, pages []model.ExtractedPage) (*Result, error) {
	var corpus strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&corpus, "=== PAGE: %s ===\n%s\n\n", p.URL, p.CleanedText)
	}
	if len(pages) == 0 {
		corpus.WriteString("(no page content could be retrieved; infer only what is safely implied by the company name and website domain, and leave everything else empty)")
	}

	systemPrompt := "You are a meticulous company research analyst. You only state facts you can support from the supplied page content; when information is absent, omit the field or leave it empty rather than guessing. Respond with a single strictly valid JSON object and no extra text."

	userPrompt := fmt.Sprintf(`Company: %s
Website: %s

Using ONLY the page content below, extract a JSON object with these exact keys:
description, value_proposition, company_culture, industry, business_model, target_market, company_size, company_stage,
key_services (array), competitive_advantages (array), tech_stack (array), certifications (array),
partnerships (array), awards (array), leadership_team (array of "Name - Title" strings),
recent_news (array), social_media (object of platform->url), contact_info (object),
key_decision_makers (object of name->title), founding_year (integer or null),
has_chat_widget (bool), has_forms (bool), has_job_listings (bool).

PAGES:
%s`, companyName, website, corpus.String())

	resp, err := pool.Submit(ctx, llmpool.Task{
		Phase: "aggregation",
		Request: llmprovider.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			MaxTokens:    4096,
		},
		Validate: func(r llmprovider.Response) error {
			var out Result
			return llmprovider.ParseJSONObject(r.Content, &out)
		},
	})
	if err != nil {
		return nil, err
	}

	var out Result
	if err := llmprovider.ParseJSONObject(resp.Content, &out); err != nil {
		return nil, errkind.New(errkind.Schema, "aggregation_decode_failed", "aggregation", "could not parse aggregation response", err)
	}

	out.KeyServices = model.DedupeCaseInsensitive(out.KeyServices, model.DefaultListFieldCap)
	out.CompetitiveAdvantages = model.DedupeCaseInsensitive(out.CompetitiveAdvantages, model.DefaultListFieldCap)
	out.TechStack = model.DedupeCaseInsensitive(out.TechStack, model.DefaultListFieldCap)
	out.Certifications = model.DedupeCaseInsensitive(out.Certifications, model.DefaultListFieldCap)
	out.Partnerships = model.DedupeCaseInsensitive(out.Partnerships, model.DefaultListFieldCap)
	out.Awards = model.DedupeCaseInsensitive(out.Awards, model.DefaultListFieldCap)
	out.LeadershipTeam = model.DedupeCaseInsensitive(out.LeadershipTeam, model.DefaultListFieldCap)
	out.RecentNews = model.DedupeCaseInsensitive(out.RecentNews, model.DefaultListFieldCap)

	return &out, nil
}
