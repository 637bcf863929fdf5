// Package llmpool implements the rate-limited LLM worker pool: every
// LLM call made anywhere in the pipeline — page selection, content
// aggregation, classification — is submitted here rather than calling
// internal/llmprovider directly, so a single token bucket and a single
// fixed worker count govern the whole job's request rate.
//
// Grounded on internal/jobs/runner.go's dispatch-loop shape (fixed
// worker goroutines draining a channel) combined with a real
// token-bucket limiter in place of raito's Redis fixed-window counter,
// since golang.org/x/time/rate is the idiomatic single-process
// primitive for this and several other pack repos already depend on it.
package llmpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"researchengine/internal/config"
	"researchengine/internal/errkind"
	"researchengine/internal/llmprovider"
	"researchengine/internal/metrics"
)

// Validator inspects a provider response for schema conformance. A
// non-nil error triggers the schema-retry path: up to schemaRetries
// further attempts, each with a corrective instruction appended to the
// prompt.
type Validator func(llmprovider.Response) error

// Task is one unit of work submitted to the pool.
type Task struct {
	Phase     string
	Request   llmprovider.Request
	Validate  Validator
	resultCh  chan taskResult
}

type taskResult struct {
	resp llmprovider.Response
	err  error
}

// Pool is the shared, rate-limited gateway to an llmprovider.Client.
// One Pool is constructed per process and shared by every research job
// and batch run, so that the token bucket enforces the provider's
// actual rate limit across every phase that needs to call out to the
// model.
type Pool struct {
	client  llmprovider.Client
	limiter *rate.Limiter
	queue   chan *Task
	log     *slog.Logger

	maxRetries    int
	schemaRetries int
}

// New constructs a Pool and starts its fixed worker goroutines. Workers
// run until ctx is cancelled.
func New(ctx context.Context, cfg *config.Config, client llmprovider.Client, log *slog.Logger) *Pool {
	rps := float64(cfg.LLM.Pool.RequestsPerMinute) / 60.0
	burst := cfg.LLM.Pool.RequestsPerMinute
	if burst <= 0 {
		burst = 1
	}
	p := &Pool{
		client:        client,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		queue:         make(chan *Task, 256),
		log:           log,
		maxRetries:    cfg.LLM.Pool.MaxRetries,
		schemaRetries: cfg.LLM.Pool.SchemaRetries,
	}
	for i := 0; i < cfg.LLM.Pool.Workers; i++ {
		go p.worker(ctx, i)
	}
	return p
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, t)
		}
	}
}

// Submit enqueues a task and blocks until it completes or ctx is done.
// The caller's ctx carries
// the phase-specific deadline (selection 30s, aggregation 60s,
// classification 25s by default).
func (p *Pool) Submit(ctx context.Context, t Task) (llmprovider.Response, error) {
	t.resultCh = make(chan taskResult, 1)
	select {
	case p.queue <- &t:
		metrics.LLMPoolQueueDepth.Set(float64(len(p.queue)))
	case <-ctx.Done():
		return llmprovider.Response{}, errkind.New(errkind.Internal, "llmpool_submit_cancelled", t.Phase, "context cancelled before task was accepted", ctx.Err())
	}

	select {
	case r := <-t.resultCh:
		outcome := "success"
		if r.err != nil {
			outcome = "failed"
		}
		metrics.LLMCallsTotal.WithLabelValues(t.Phase, outcome).Inc()
		return r.resp, r.err
	case <-ctx.Done():
		metrics.LLMCallsTotal.WithLabelValues(t.Phase, "failed").Inc()
		return llmprovider.Response{}, errkind.New(errkind.Transient, "llmpool_deadline_exceeded", t.Phase, "phase deadline exceeded waiting on llm pool", ctx.Err())
	}
}

func (p *Pool) run(ctx context.Context, t *Task) {
	if err := p.limiter.Wait(ctx); err != nil {
		t.resultCh <- taskResult{err: errkind.New(errkind.Internal, "llmpool_limiter_wait", t.Phase, "rate limiter wait failed", err)}
		return
	}

	resp, err := p.callWithRetry(ctx, t)
	t.resultCh <- taskResult{resp: resp, err: err}
}

// callWithRetry retries Transient/Quota errors with exponential
// backoff (cenkalti/backoff/v4), and retries Schema validation
// failures up to schemaRetries by appending a corrective instruction.
func (p *Pool) callWithRetry(ctx context.Context, t *Task) (llmprovider.Response, error) {
	req := t.Request
	var lastErr error

	schemaAttempts := 0
	for {
		var resp llmprovider.Response
		op := func() error {
			r, err := p.client.Complete(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		}

		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.maxRetries)), ctx)
		err := backoff.Retry(func() error {
			if err := op(); err != nil {
				if errkind.Retryable(errkind.Classify(err)) {
					return err
				}
				return backoff.Permanent(err)
			}
			return nil
		}, bo)

		if err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return llmprovider.Response{}, perm.Err
			}
			return llmprovider.Response{}, err
		}

		if t.Validate == nil {
			return resp, nil
		}
		if verr := t.Validate(resp); verr == nil {
			return resp, nil
		} else {
			lastErr = verr
		}

		schemaAttempts++
		if schemaAttempts > p.schemaRetries {
			return llmprovider.Response{}, errkind.New(errkind.Schema, "llmpool_schema_exhausted", t.Phase,
				fmt.Sprintf("response failed schema validation after %d attempts: %v", schemaAttempts, lastErr), lastErr)
		}

		p.log.Warn("llm response failed schema validation, retrying with correction",
			"phase", t.Phase, "attempt", schemaAttempts, "error", lastErr)
		req.UserPrompt = req.UserPrompt + "\n\nYour previous response was invalid: " + lastErr.Error() + ". Respond again with strictly valid JSON matching the requested schema."
	}
}

// Close stops accepting new tasks. In-flight tasks already read off
// the queue are allowed to finish; it is the caller's responsibility
// to cancel the context passed to New to actually stop the workers.
func (p *Pool) Close() {
	close(p.queue)
}
