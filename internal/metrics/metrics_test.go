package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPhaseDuration_RecordsObservation(t *testing.T) {
	before := testutil.CollectAndCount(PhaseDuration)
	PhaseDuration.WithLabelValues("aggregation", "success").Observe(1.5)
	after := testutil.CollectAndCount(PhaseDuration)
	assert.Greater(t, after, before)
}

func TestJobsTotal_CountsByStatus(t *testing.T) {
	before := testutil.ToFloat64(JobsTotal.WithLabelValues("success"))
	JobsTotal.WithLabelValues("success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(JobsTotal.WithLabelValues("success")))
}

func TestBatchConcurrency_IsAGauge(t *testing.T) {
	BatchConcurrency.Set(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(BatchConcurrency))
	BatchConcurrency.Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(BatchConcurrency))
}

func TestLLMCallsTotal_CountsByPhaseAndOutcome(t *testing.T) {
	before := testutil.ToFloat64(LLMCallsTotal.WithLabelValues("classification", "failed"))
	LLMCallsTotal.WithLabelValues("classification", "failed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LLMCallsTotal.WithLabelValues("classification", "failed")))
}
