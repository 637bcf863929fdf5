// Package similarity implements the similarity engine: scoring two
// company records by a fixed set of deterministic factors and
// discovering ranked candidates via the vector store, web search, or
// both.
//
// No retrieved repo does multi-factor business similarity scoring, so
// these rules are hand-authored deterministic rules (group membership,
// compatible-pair tables, string distance) rather than ported from an
// example. The string-distance factor reuses agnivade/levenshtein,
// present in jordigilh-kubernaut's dependency graph.
package similarity

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"researchengine/internal/config"
	"researchengine/internal/model"
)

// Factors is the per-dimension breakdown behind an overall score.
type Factors struct {
	BusinessModel float64 `json:"businessModel"`
	Industry      float64 `json:"industry"`
	CompanySize   float64 `json:"companySize"`
	Tech          float64 `json:"tech"`
	MarketFocus   float64 `json:"marketFocus"`
	GrowthStage   float64 `json:"growthStage"`
}

// ScoreResult is the full output of scoring one candidate against a
// query record.
type ScoreResult struct {
	Score      float64 `json:"score"`
	Factors    Factors `json:"factors"`
	Confidence float64 `json:"confidence"`
}

// businessModelGroups maps a business-model label to a coarse group;
// labels sharing a group but not an exact match score as "same group"
// rather than "compatible pair".
var businessModelGroups = map[string]string{
	"b2b_saas": "saas", "b2c_saas": "saas", "vertical_saas": "saas",
	"horizontal_saas": "saas", "plg_saas": "saas",
	"api_platform": "platform", "developer_tools": "platform",
	"devops_platform": "platform", "data_platform": "platform",
	"analytics_platform": "platform", "ai_ml_platform": "platform",
	"e_commerce": "commerce", "marketplace": "commerce",
	"on_demand_services": "commerce", "gig_economy": "commerce",
	"payments": "fintech", "banking": "fintech", "lending": "fintech",
	"wealth_management": "fintech", "insurance": "fintech", "fintech": "fintech",
}

// businessModelCompatible lists pairs considered compatible-but-not-
// identical, e.g. {b2b_saas, api_platform} or {marketplace, e_commerce}.
var businessModelCompatible = map[[2]string]bool{
	{"b2b_saas", "vertical_saas"}:    true,
	{"b2b_saas", "horizontal_saas"}:  true,
	{"b2b_saas", "api_platform"}:     true,
	{"marketplace", "e_commerce"}:    true,
	{"marketplace", "on_demand_services"}: true,
	{"fintech", "payments"}:          true,
	{"fintech", "banking"}:           true,
}

func compatiblePair(a, b string) bool {
	if businessModelCompatible[[2]string{a, b}] || businessModelCompatible[[2]string{b, a}] {
		return true
	}
	return false
}

func scoreBusinessModel(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == "" || b == "" {
		return 0.2
	}
	if a == b {
		return 1.0
	}
	if compatiblePair(a, b) {
		return 0.8
	}
	if ga, ok := businessModelGroups[a]; ok {
		if gb, ok := businessModelGroups[b]; ok && ga == gb {
			return 0.6
		}
	}
	return 0.2
}

// industryParents is a small fixed taxonomy tree: child industry ->
// parent industry. Entries absent here have no registered parent.
var industryParents = map[string]string{
	"fintech": "financial_services", "insurtech": "financial_services",
	"banking": "financial_services", "payments": "financial_services",
	"healthtech": "healthcare", "medtech": "healthcare", "biotech": "healthcare",
	"edtech": "education", "legaltech": "professional_services",
	"hrtech": "professional_services", "martech": "marketing",
	"adtech": "marketing", "salestech": "sales",
	"proptech": "real_estate", "agtech": "agriculture",
	"cleantech": "energy", "climate_tech": "energy",
	"logistics_tech": "supply_chain", "supply_chain": "supply_chain",
}

func scoreIndustry(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0.3
	}
	if a == b {
		return 1.0
	}
	pa, aOK := industryParents[a]
	pb, bOK := industryParents[b]
	if aOK && pa == b {
		return 0.8
	}
	if bOK && pb == a {
		return 0.8
	}
	if aOK && bOK && pa == pb {
		return 0.7
	}
	if levenshteinSimilarity(a, b) > 0.7 {
		return 0.6
	}
	return 0.3
}

func levenshteinSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// sizeOrdinal maps a free-text company-size bucket to an ordinal rank.
// A pair with an unrecognized value scores 0.2, the same as maximal
// distance.
var sizeOrdinal = map[string]int{
	"1-10": 0, "11-50": 1, "51-200": 2, "201-500": 3, "501-1000": 4, "1000+": 5,
}

func scoreOrdinal(a, b string, ordinals map[string]int) float64 {
	ra, aOK := ordinals[strings.ToLower(strings.TrimSpace(a))]
	rb, bOK := ordinals[strings.ToLower(strings.TrimSpace(b))]
	if !aOK || !bOK {
		return 0.2
	}
	d := ra - rb
	if d < 0 {
		d = -d
	}
	switch {
	case d == 0:
		return 1.0
	case d == 1:
		return 0.8
	case d == 2:
		return 0.5
	default:
		return 0.2
	}
}

var stageOrdinal = map[string]int{
	"seed": 0, "early": 1, "growth": 2, "expansion": 3, "mature": 4,
}

func scoreTech(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.5
	}
	setA := toLowerSet(a)
	setB := toLowerSet(b)
	var intersection, union int
	union = len(setA)
	for k := range setB {
		if _, ok := setA[k]; ok {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0.5
	}
	return float64(intersection) / float64(union)
}

func toLowerSet(s []string) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, v := range s {
		out[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}

func scoreMarket(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0.2
	}
	if a == b {
		return 1.0
	}
	if levenshteinSimilarity(a, b) > 0.7 {
		return 0.6
	}
	return 0.3
}

// completeness reports the fraction of a fixed set of key fields that
// are non-empty on rec, used to derive scoring confidence.
func completeness(rec *model.CompanyRecord) float64 {
	fields := []string{
		rec.Industry, rec.BusinessModel, rec.TargetMarket, rec.CompanyStage,
		rec.CompanySize, rec.Description, rec.SaaSClassification,
	}
	nonEmpty := 0
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			nonEmpty++
		}
	}
	score := float64(nonEmpty) / float64(len(fields))
	if len(rec.TechStack) > 0 {
		score = (score*float64(len(fields)) + 1) / float64(len(fields)+1)
	}
	return clamp01(score)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Score computes a's similarity to b using weights, defaulting to an
// even split when weights sum to zero (unconfigured).
func Score(a, b *model.CompanyRecord, weights config.SimilarityWeights) ScoreResult {
	f := Factors{
		BusinessModel: scoreBusinessModel(a.BusinessModel, b.BusinessModel),
		Industry:      scoreIndustry(a.Industry, b.Industry),
		CompanySize:   scoreOrdinal(a.CompanySize, b.CompanySize, sizeOrdinal),
		Tech:          scoreTech(a.TechStack, b.TechStack),
		MarketFocus:   scoreMarket(a.TargetMarket, b.TargetMarket),
		GrowthStage:   scoreOrdinal(a.CompanyStage, b.CompanyStage, stageOrdinal),
	}

	w := weights
	total := w.BusinessModel + w.Industry + w.CompanySize + w.Tech + w.MarketFocus + w.GrowthStage
	if total <= 0 {
		w = config.SimilarityWeights{BusinessModel: 1, Industry: 1, CompanySize: 1, Tech: 1, MarketFocus: 1, GrowthStage: 1}
		total = 6
	}

	score := (f.BusinessModel*w.BusinessModel + f.Industry*w.Industry + f.CompanySize*w.CompanySize +
		f.Tech*w.Tech + f.MarketFocus*w.MarketFocus + f.GrowthStage*w.GrowthStage) / total

	confidence := clamp01((completeness(a) + completeness(b)) / 2)

	return ScoreResult{Score: clamp01(score), Factors: f, Confidence: confidence}
}
