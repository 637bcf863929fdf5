// Package classify implements business classification: a single
// schema-constrained LLM call that assigns a CompanyRecord to one
// label in the configured taxonomy, along with a SaaS flag, a
// confidence score, and a short justification.
//
// Grounded on the same llmprovider schema-prompt pattern as
// internal/aggregate, narrowed to one fixed-enum output field, mirroring
// raito/internal/llm's ExtractRequest/ExtractResult shape.
package classify

import (
	"context"
	"fmt"
	"strings"

	"researchengine/internal/errkind"
	"researchengine/internal/llmpool"
	"researchengine/internal/llmprovider"
	"researchengine/internal/model"
)

// Result is the classification phase's output.
type Result struct {
	SaaSClassification string  `json:"saas_classification"`
	IsSaaS             bool    `json:"is_saas"`
	Confidence         float64 `json:"confidence"`
	Justification      string  `json:"justification"`
}

// Classify assigns summary (the aggregated description + key services,
// typically) to one label from taxonomy.
func Classify(ctx context.Context, pool *llmpool.Pool, taxonomy model.Taxonomy, companyName, summary string) (*Result, error) {
	if strings.TrimSpace(summary) == "" {
		return nil, errkind.New(errkind.Permanent, "no_summary_to_classify", "classification", "no aggregated summary available to classify", nil)
	}

	labels := taxonomy.Labels
	if len(labels) == 0 {
		labels = model.DefaultTaxonomy.Labels
	}

	systemPrompt := "You are a precise business-model classifier. Respond with a single strictly valid JSON object and nothing else."
	userPrompt := fmt.Sprintf(`Company: %s

Summary:
%s

Classify this company into exactly one of the following business-model labels:
%s

Respond with JSON: {"saas_classification": "<one label exactly as written above>", "is_saas": <bool>, "confidence": <0.0-1.0>, "justification": "<one sentence>"}`,
		companyName, summary, strings.Join(labels, ", "))

	resp, err := pool.Submit(ctx, llmpool.Task{
		Phase: "classification",
		Request: llmprovider.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
		},
		Validate: func(r llmprovider.Response) error {
			var out Result
			if err := llmprovider.ParseJSONObject(r.Content, &out); err != nil {
				return err
			}
			if !taxonomyContains(labels, out.SaaSClassification) {
				return fmt.Errorf("saas_classification %q is not a member of the configured taxonomy", out.SaaSClassification)
			}
			if out.Confidence < 0 || out.Confidence > 1 {
				return fmt.Errorf("confidence %v is out of range [0,1]", out.Confidence)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	var out Result
	if err := llmprovider.ParseJSONObject(resp.Content, &out); err != nil {
		return nil, errkind.New(errkind.Schema, "classification_decode_failed", "classification", "could not parse classification response", err)
	}
	return &out, nil
}

func taxonomyContains(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
