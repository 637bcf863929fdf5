// Package batch implements the batch coordinator: driving a research
// job across many rows with adaptive concurrency, a circuit breaker
// against a failing upstream, retry with backoff, and a resumable row
// cache.
//
// Grounded on internal/jobs/runner.go's semaphore-gated dispatch loop
// (generalized here into dynamicLimiter so the semaphore's capacity can
// change mid-run) and internal/jobs/retention.go's TTL-sweep shape,
// repurposed for the row cache's expiry.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"researchengine/internal/config"
	"researchengine/internal/errkind"
	"researchengine/internal/metrics"
	"researchengine/internal/model"
	"researchengine/internal/progressbus"
)

// Row is one unit of batch work.
type Row struct {
	Name    string
	Website string
}

// RowResult is the outcome of processing one Row.
type RowResult struct {
	Row     Row
	Record  *model.CompanyRecord
	Err     error
	Cached  bool
	Attempt int
}

// Stats is the aggregate progress snapshot streamed during a run as a
// lazy sequence of aggregate progress events.
type Stats struct {
	Processed      int     `json:"processed"`
	Successful     int     `json:"successful"`
	Failed         int     `json:"failed"`
	CurrentMessage string  `json:"currentMessage"`
	RatePerHour    float64 `json:"ratePerHour"`
}

// Researcher is the capability the coordinator drives per row —
// satisfied by *internal/research.Orchestrator, narrowed to an
// interface so this package does not depend on its concrete type.
type Researcher interface {
	Research(ctx context.Context, jobID uuid.UUID, companyName, website string) (*model.CompanyRecord, error)
}

// Coordinator runs a batch of rows against a Researcher.
type Coordinator struct {
	cfg        *config.Config
	researcher Researcher
	cache      RowCache
	breaker    *gobreaker.CircuitBreaker
	bus        *progressbus.Bus
	log        *slog.Logger

	limiter              *dynamicLimiter
	consecutiveSuccesses int32
	cooldownUntil        atomic.Int64
}

// Deps bundles the Coordinator's collaborators. Cache may be nil, in
// which case rows are never skipped for having run before.
type Deps struct {
	Config     *config.Config
	Researcher Researcher
	Cache      RowCache
	Bus        *progressbus.Bus
	Log        *slog.Logger
}

func New(d Deps) *Coordinator {
	cache := d.Cache
	if cache == nil {
		cache = noopRowCache{}
	}
	start := d.Config.Batch.ConcurrencyStart
	if start <= 0 {
		start = 3
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "batch-researcher",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 8
		},
		Timeout: 30 * time.Second,
	})

	metrics.BatchConcurrency.Set(float64(start))
	return &Coordinator{
		cfg:        d.Config,
		researcher: d.Researcher,
		cache:      cache,
		breaker:    breaker,
		bus:        d.Bus,
		log:        d.Log,
		limiter:    newDynamicLimiter(start),
	}
}

// Run drives rows through the researcher, returning final stats once
// every row has been processed or ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, batchID uuid.UUID, rows []Row) (Stats, error) {
	var stats Stats
	var mu sync.Mutex
	start := time.Now()

	results := make(chan RowResult, len(rows))
	var wg sync.WaitGroup

	for _, row := range rows {
		row := row
		if err := c.limiter.acquire(ctx); err != nil {
			results <- RowResult{Row: row, Err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.limiter.release()
			results <- c.processRow(ctx, row)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		mu.Lock()
		stats.Processed++
		if res.Err != nil {
			stats.Failed++
			stats.CurrentMessage = "failed: " + res.Row.Website
			metrics.BatchRowsTotal.WithLabelValues("failed").Inc()
		} else {
			stats.Successful++
			stats.CurrentMessage = "completed: " + res.Row.Website
			outcome := "success"
			if res.Cached {
				outcome = "cached"
			}
			metrics.BatchRowsTotal.WithLabelValues(outcome).Inc()
		}
		elapsed := time.Since(start).Hours()
		if elapsed > 0 {
			stats.RatePerHour = float64(stats.Processed) / elapsed
		}
		snapshot := stats
		mu.Unlock()

		c.publish(batchID, snapshot)
	}

	return stats, ctx.Err()
}

func (c *Coordinator) publish(batchID uuid.UUID, stats Stats) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(progressbus.Event{
		JobID:   batchID,
		Type:    progressbus.EventProgress,
		Message: stats.CurrentMessage,
		Counters: map[string]int{
			"processed":  stats.Processed,
			"successful": stats.Successful,
			"failed":     stats.Failed,
		},
	})
}

func (c *Coordinator) processRow(ctx context.Context, row Row) RowResult {
	if rec, hit, err := c.cache.Get(ctx, row.Website); err == nil && hit {
		return RowResult{Row: row, Record: rec, Cached: true}
	}

	rowCtx := ctx
	if d := time.Duration(c.cfg.Batch.PerRowTimeoutS) * time.Second; d > 0 {
		var cancel context.CancelFunc
		rowCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	rec, err, attempt := c.withRetry(rowCtx, row)
	if err != nil {
		c.onRowOutcome(err)
		return RowResult{Row: row, Err: err, Attempt: attempt}
	}

	c.onRowOutcome(nil)
	ttl := time.Duration(c.cfg.Batch.CacheTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_ = c.cache.Set(ctx, row.Website, rec, ttl)
	return RowResult{Row: row, Record: rec, Attempt: attempt}
}

// withRetry classifies the terminal error from a research run and
// retries Transient failures with exponential backoff + jitter, up to
// the configured maximum; Permanent failures are never retried.
func (c *Coordinator) withRetry(ctx context.Context, row Row) (*model.CompanyRecord, error, int) {
	maxRetries := c.cfg.Batch.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	var rec *model.CompanyRecord
	attempt := 0

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries))
	op := func() error {
		attempt++
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.researcher.Research(ctx, uuid.New(), row.Name, row.Website)
		})
		if err != nil {
			lastErr = err
			kind := errkind.Classify(err)
			if !errkind.Retryable(kind) {
				return backoff.Permanent(err)
			}
			return err
		}
		rec = result.(*model.CompanyRecord)
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, lastErr, attempt
	}
	return rec, nil, attempt
}

// onRowOutcome drives the adaptive-concurrency ramp: consecutive
// successes raise the limit, a Transient row failure (after retries
// exhausted) drops it to 1, and no ramp happens until the cooldown has
// elapsed.
func (c *Coordinator) onRowOutcome(err error) {
	if err == nil {
		n := atomic.AddInt32(&c.consecutiveSuccesses, 1)
		rampAfter := int32(c.cfg.Batch.SuccessesToRamp)
		if rampAfter <= 0 {
			rampAfter = 5
		}
		if n >= rampAfter && time.Now().UnixNano() >= c.cooldownUntil.Load() {
			atomic.StoreInt32(&c.consecutiveSuccesses, 0)
			max := c.cfg.Batch.ConcurrencyMax
			if max <= 0 {
				max = 10
			}
			if next := c.limiter.currentLimit() + 1; next <= max {
				c.limiter.setLimit(next)
				metrics.BatchConcurrency.Set(float64(next))
			}
		}
		return
	}

	if errkind.Classify(err) != errkind.Transient {
		return
	}

	atomic.StoreInt32(&c.consecutiveSuccesses, 0)
	c.limiter.setLimit(1)
	metrics.BatchConcurrency.Set(1)
	cooldown := time.Duration(c.cfg.Batch.CooldownS) * time.Second
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	c.cooldownUntil.Store(time.Now().Add(cooldown).UnixNano())
	go func() {
		time.Sleep(cooldown)
		c.log.Info("batch cooldown elapsed, concurrency ramp may resume")
	}()
}
