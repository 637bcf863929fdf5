package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"researchengine/internal/config"
	"researchengine/internal/model"
)

func defaultWeights() config.SimilarityWeights {
	return config.SimilarityWeights{
		BusinessModel: 0.25, Industry: 0.20, CompanySize: 0.15,
		Tech: 0.15, MarketFocus: 0.15, GrowthStage: 0.10,
	}
}

func TestScore_IdenticalRecordsScoreNearOne(t *testing.T) {
	rec := &model.CompanyRecord{
		Name: "Acme", BusinessModel: "b2b_saas", Industry: "fintech",
		CompanySize: "51-200", CompanyStage: "growth", TargetMarket: "enterprise",
		TechStack: []string{"Go", "Postgres"}, Description: "desc", SaaSClassification: "b2b_saas",
	}
	result := Score(rec, rec, defaultWeights())
	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.Equal(t, 1.0, result.Factors.BusinessModel)
	assert.Equal(t, 1.0, result.Factors.Industry)
}

func TestScore_CompletelyDifferentRecordsScoreLow(t *testing.T) {
	a := &model.CompanyRecord{BusinessModel: "b2b_saas", Industry: "fintech", CompanySize: "1-10", CompanyStage: "seed", TargetMarket: "smb", TechStack: []string{"Go"}}
	b := &model.CompanyRecord{BusinessModel: "marketplace", Industry: "agtech", CompanySize: "1000+", CompanyStage: "mature", TargetMarket: "consumer", TechStack: []string{"PHP"}}
	result := Score(a, b, defaultWeights())
	assert.Less(t, result.Score, 0.5)
}

func TestScoreBusinessModel_CompatiblePairScoresHigherThanUnrelated(t *testing.T) {
	compatible := scoreBusinessModel("b2b_saas", "vertical_saas")
	unrelated := scoreBusinessModel("b2b_saas", "agtech")
	assert.Equal(t, 0.8, compatible)
	assert.Less(t, unrelated, compatible)
}

func TestScoreIndustry_ParentChildScoresHigherThanUnrelated(t *testing.T) {
	parentChild := scoreIndustry("fintech", "financial_services")
	unrelated := scoreIndustry("fintech", "agtech")
	assert.Equal(t, 0.8, parentChild)
	assert.Less(t, unrelated, parentChild)
}

func TestScoreOrdinal_AdjacentBandsScoreHigherThanDistant(t *testing.T) {
	adjacent := scoreOrdinal("51-200", "201-500", sizeOrdinal)
	distant := scoreOrdinal("1-10", "1000+", sizeOrdinal)
	assert.Equal(t, 0.8, adjacent)
	assert.Less(t, distant, adjacent)
}

func TestScoreTech_JaccardOverlap(t *testing.T) {
	full := scoreTech([]string{"Go", "Postgres"}, []string{"go", "postgres"})
	assert.InDelta(t, 1.0, full, 1e-9)

	partial := scoreTech([]string{"Go", "Postgres", "Redis"}, []string{"go", "Kafka"})
	assert.InDelta(t, 1.0/4.0, partial, 1e-9)

	none := scoreTech(nil, nil)
	assert.Equal(t, 0.5, none)
}

func TestScore_WeightsSumZeroFallsBackToEvenSplit(t *testing.T) {
	a := &model.CompanyRecord{BusinessModel: "b2b_saas"}
	b := &model.CompanyRecord{BusinessModel: "b2b_saas"}
	result := Score(a, b, config.SimilarityWeights{})
	assert.Greater(t, result.Score, 0.0)
}
