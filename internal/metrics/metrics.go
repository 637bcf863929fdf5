// Package metrics exposes process-wide Prometheus collectors for the
// research pipeline's orchestrator, the LLM worker pool, and the batch
// coordinator.
//
// raito/internal/metrics was a hand-rolled in-memory counter map with
// its own text exporter; prometheus/client_golang already appears in
// jordigilh-kubernaut's dependency graph as the idiomatic replacement
// for exactly this, so collectors here are registered against the
// default registry and served by promhttp rather than reinventing
// exposition-format encoding by hand.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PhaseDuration records how long each research phase takes, labeled
	// by phase name and outcome (success/failed/partial), so a slow
	// phase or a phase whose failure rate climbed shows up without
	// log-diving.
	PhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "research_engine",
		Subsystem: "research",
		Name:      "phase_duration_seconds",
		Help:      "Duration of each research phase in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase", "outcome"})

	// JobsTotal counts terminal job outcomes (success/partial/failed);
	// exactly one is recorded per job whose input passes validation.
	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "research_engine",
		Subsystem: "research",
		Name:      "jobs_total",
		Help:      "Total research jobs by terminal status.",
	}, []string{"status"})

	// LLMPoolQueueDepth is the current number of Tasks waiting on the
	// pool's queue channel, the signal the batch coordinator's
	// back-pressure policy is meant to keep bounded.
	LLMPoolQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "research_engine",
		Subsystem: "llmpool",
		Name:      "queue_depth",
		Help:      "Number of LLM tasks currently queued in the worker pool.",
	})

	// LLMCallsTotal counts LLM calls by phase and outcome.
	LLMCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "research_engine",
		Subsystem: "llmpool",
		Name:      "calls_total",
		Help:      "Total LLM calls dispatched through the pool, by phase and outcome.",
	}, []string{"phase", "outcome"})

	// BatchConcurrency is the current adaptive concurrency limit the
	// batch coordinator is running at, the direct observable for the
	// ramp/cooldown logic.
	BatchConcurrency = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "research_engine",
		Subsystem: "batch",
		Name:      "concurrency_limit",
		Help:      "Current adaptive concurrency limit of the batch coordinator.",
	})

	// BatchRowsTotal counts processed batch rows by outcome.
	BatchRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "research_engine",
		Subsystem: "batch",
		Name:      "rows_total",
		Help:      "Total batch rows processed, by outcome (success/failed/cached).",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(PhaseDuration, JobsTotal, LLMPoolQueueDepth, LLMCallsTotal, BatchConcurrency, BatchRowsTotal)
}
