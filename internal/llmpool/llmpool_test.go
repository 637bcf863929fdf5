package llmpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchengine/internal/config"
	"researchengine/internal/errkind"
	"researchengine/internal/llmprovider"
)

type fakeClient struct {
	calls   int32
	fn      func(call int32) (llmprovider.Response, error)
}

func (f *fakeClient) Name() llmprovider.Provider { return "fake" }

func (f *fakeClient) Complete(ctx context.Context, req llmprovider.Request) (llmprovider.Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	return f.fn(n)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.Pool.Workers = 2
	cfg.LLM.Pool.RequestsPerMinute = 6000
	cfg.LLM.Pool.MaxRetries = 2
	cfg.LLM.Pool.SchemaRetries = 2
	return cfg
}

func TestPool_SubmitSuccess(t *testing.T) {
	client := &fakeClient{fn: func(n int32) (llmprovider.Response, error) {
		return llmprovider.Response{Content: `{"ok":true}`}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, testConfig(), client, testLogger())

	resp, err := p.Submit(context.Background(), Task{Phase: "test", Request: llmprovider.Request{UserPrompt: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
}

func TestPool_RetriesTransientThenSucceeds(t *testing.T) {
	client := &fakeClient{fn: func(n int32) (llmprovider.Response, error) {
		if n < 2 {
			return llmprovider.Response{}, errkind.New(errkind.Transient, "x", "", "transient failure", nil)
		}
		return llmprovider.Response{Content: "ok"}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, testConfig(), client, testLogger())

	resp, err := p.Submit(context.Background(), Task{Phase: "test", Request: llmprovider.Request{}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestPool_PermanentErrorNotRetried(t *testing.T) {
	client := &fakeClient{fn: func(n int32) (llmprovider.Response, error) {
		return llmprovider.Response{}, errkind.New(errkind.Permanent, "x", "", "nope", nil)
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, testConfig(), client, testLogger())

	_, err := p.Submit(context.Background(), Task{Phase: "test", Request: llmprovider.Request{}})
	require.Error(t, err)
	assert.Equal(t, errkind.Permanent, errkind.Classify(err))
	assert.Equal(t, int32(1), client.calls)
}

func TestPool_SchemaValidationRetriesWithCorrection(t *testing.T) {
	client := &fakeClient{fn: func(n int32) (llmprovider.Response, error) {
		return llmprovider.Response{Content: "bad"}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, testConfig(), client, testLogger())

	validateCalls := int32(0)
	_, err := p.Submit(context.Background(), Task{
		Phase:   "test",
		Request: llmprovider.Request{UserPrompt: "go"},
		Validate: func(r llmprovider.Response) error {
			atomic.AddInt32(&validateCalls, 1)
			if r.Content != "good" {
				return errors.New("content must equal good")
			}
			return nil
		},
	})
	require.Error(t, err)
	assert.Equal(t, errkind.Schema, errkind.Classify(err))
	assert.GreaterOrEqual(t, validateCalls, int32(3))
}

func TestPool_DeadlineExceeded(t *testing.T) {
	client := &fakeClient{fn: func(n int32) (llmprovider.Response, error) {
		time.Sleep(50 * time.Millisecond)
		return llmprovider.Response{Content: "ok"}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, testConfig(), client, testLogger())

	taskCtx, taskCancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer taskCancel()
	_, err := p.Submit(taskCtx, Task{Phase: "test", Request: llmprovider.Request{}})
	require.Error(t, err)
}
