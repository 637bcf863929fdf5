package progressbus

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishAndSubscribe(t *testing.T) {
	b := New(4, time.Hour)
	jobID := uuid.New()

	sub := b.Subscribe(jobID)
	defer sub.Close()

	b.Publish(Event{JobID: jobID, Type: EventPhaseStarted, Phase: "link_discovery"})

	select {
	case ev := <-sub.Events:
		assert.Equal(t, EventPhaseStarted, ev.Type)
		assert.Equal(t, "link_discovery", ev.Phase)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_SnapshotReplaysHistory(t *testing.T) {
	b := New(4, time.Hour)
	jobID := uuid.New()

	b.Publish(Event{JobID: jobID, Type: EventPhaseStarted, Phase: "p1"})
	b.Publish(Event{JobID: jobID, Type: EventPhaseCompleted, Phase: "p1"})

	snap := b.Snapshot(jobID)
	require.Len(t, snap, 2)
	assert.Equal(t, EventPhaseStarted, snap[0].Type)
	assert.Equal(t, EventPhaseCompleted, snap[1].Type)
}

func TestBus_OverflowDeliversLostMarkerWithoutBlocking(t *testing.T) {
	b := New(1, time.Hour)
	jobID := uuid.New()
	sub := b.Subscribe(jobID)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{JobID: jobID, Type: EventProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	var sawLost bool
	for {
		select {
		case ev := <-sub.Events:
			if ev.Type == EventLost {
				sawLost = true
				assert.Equal(t, "_bus", ev.Phase)
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawLost, "subscriber must receive a visible marker for events lost to overflow")
}

func TestBus_GCRemovesIdleStreams(t *testing.T) {
	b := New(4, -time.Second)
	jobID := uuid.New()
	b.Publish(Event{JobID: jobID, Type: EventJobCompleted})

	removed := b.GC()
	assert.Equal(t, 1, removed)
	assert.Empty(t, b.Snapshot(jobID))
}
