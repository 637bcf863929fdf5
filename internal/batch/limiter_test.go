package batch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDynamicLimiter_RespectsInitialLimit(t *testing.T) {
	l := newDynamicLimiter(2)
	ctx := context.Background()

	require := func(err error) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require(l.acquire(ctx))
	require(l.acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		_ = l.acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked at limit 2")
	case <-time.After(50 * time.Millisecond):
	}

	l.release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should have unblocked after release")
	}
}

func TestDynamicLimiter_SetLimitWakesWaiters(t *testing.T) {
	l := newDynamicLimiter(1)
	ctx := context.Background()
	_ = l.acquire(ctx)

	var unblocked int32
	go func() {
		_ = l.acquire(ctx)
		atomic.StoreInt32(&unblocked, 1)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&unblocked))

	l.setLimit(2)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&unblocked))
}

func TestDynamicLimiter_AcquireRespectsCancellation(t *testing.T) {
	l := newDynamicLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())
	_ = l.acquire(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.acquire(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after context cancellation")
	}
}
