// Package progressbus implements the per-job progress event bus: the
// orchestrator (internal/research) publishes phase-transition and
// counter events as they happen, and any number of subscribers (an SSE
// handler, a CLI poller, a test) can observe them without blocking the
// orchestrator.
//
// Grounded on internal/crawl/jobs.go's Manager (a mutex-guarded
// map[string]*Job polled by callers), generalized from one polled
// struct per job into N independent per-job subscriber channels. No
// pub/sub library in the dependency pack targets single-process
// fan-out with per-subscriber backpressure, so this is a deliberate
// stdlib (sync + channels) implementation rather than a gap — channels
// are the idiomatic Go primitive for this shape.
package progressbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the kinds of events a job can emit.
type EventType string

const (
	EventPhaseStarted   EventType = "phase_started"
	EventPhaseCompleted EventType = "phase_completed"
	EventProgress       EventType = "progress"
	EventJobCompleted   EventType = "job_completed"
	EventJobFailed      EventType = "job_failed"
	// EventLost is the synthetic marker published in place of an event
	// dropped to an overflowing subscriber buffer; always carries
	// Phase "_bus" so a consumer can distinguish it from real phases.
	EventLost EventType = "lost"
)

// busPhase is the Phase value stamped on every EventLost marker.
const busPhase = "_bus"

// Event is one message published on a job's stream. Counters is a
// free-form snapshot (e.g. "pages_fetched": 4, "pages_total": 12) so
// the orchestrator doesn't need a new event shape per phase.
type Event struct {
	JobID     uuid.UUID
	Type      EventType
	Phase     string
	Message   string
	Counters  map[string]int
	Err       string
	Timestamp time.Time
}

// subscriber is one listener's bounded mailbox.
type subscriber struct {
	ch chan Event
}

type jobStream struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	lastEvent   time.Time
	history     []Event
}

// Bus is the process-wide event bus. One Bus is constructed at startup
// and shared by every research/batch job.
type Bus struct {
	mu           sync.Mutex
	jobs         map[uuid.UUID]*jobStream
	bufferSize   int
	gcAfter      time.Duration
	historyCap   int
}

// New constructs a Bus. bufferSize bounds each subscriber's channel;
// gcAfter is how long an idle job's stream is retained before a
// background sweep (see Bus.GC) reclaims it.
func New(bufferSize int, gcAfter time.Duration) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		jobs:       make(map[uuid.UUID]*jobStream),
		bufferSize: bufferSize,
		gcAfter:    gcAfter,
		historyCap: 200,
	}
}

func (b *Bus) streamFor(jobID uuid.UUID) *jobStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	js, ok := b.jobs[jobID]
	if !ok {
		js = &jobStream{subscribers: make(map[int]*subscriber), lastEvent: time.Now()}
		b.jobs[jobID] = js
	}
	return js
}

// Publish broadcasts ev to every current subscriber of ev.JobID,
// without blocking: a subscriber whose buffer is full never simply
// loses ev — its oldest buffered event is dropped to make room for a
// synthetic EventLost marker, so the subscriber always sees visible
// evidence that it fell behind instead of a silent gap.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	js := b.streamFor(ev.JobID)

	js.mu.Lock()
	defer js.mu.Unlock()
	js.lastEvent = time.Now()
	js.history = append(js.history, ev)
	if len(js.history) > b.historyCap {
		js.history = js.history[len(js.history)-b.historyCap:]
	}
	for _, sub := range js.subscribers {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			lost := Event{
				JobID:     ev.JobID,
				Type:      EventLost,
				Phase:     busPhase,
				Message:   "subscriber buffer overflowed; oldest event dropped",
				Timestamp: time.Now(),
			}
			select {
			case sub.ch <- lost:
			default:
			}
		}
	}
}

// Subscription is returned by Subscribe. Events delivers the live
// stream; Close releases the subscriber's slot.
type Subscription struct {
	Events <-chan Event
	close  func()
}

func (s *Subscription) Close() { s.close() }

// Subscribe attaches a new bounded-buffer listener to jobID's stream.
func (b *Bus) Subscribe(jobID uuid.UUID) *Subscription {
	js := b.streamFor(jobID)

	js.mu.Lock()
	id := js.nextID
	js.nextID++
	sub := &subscriber{ch: make(chan Event, b.bufferSize)}
	js.subscribers[id] = sub
	js.mu.Unlock()

	closed := false
	var once sync.Mutex
	closeFn := func() {
		once.Lock()
		defer once.Unlock()
		if closed {
			return
		}
		closed = true
		js.mu.Lock()
		delete(js.subscribers, id)
		js.mu.Unlock()
		close(sub.ch)
	}

	return &Subscription{Events: sub.ch, close: closeFn}
}

// Snapshot returns the retained event history for jobID, for callers
// that join after some events have already fired (e.g. a late HTTP
// poller) and need to replay rather than miss them.
func (b *Bus) Snapshot(jobID uuid.UUID) []Event {
	js := b.streamFor(jobID)
	js.mu.Lock()
	defer js.mu.Unlock()
	out := make([]Event, len(js.history))
	copy(out, js.history)
	return out
}

// GC removes job streams that have had no published event and no
// active subscribers for longer than gcAfter, bounding the bus's
// memory use across a long-running process. cmd/research-engine calls
// it once a minute from a background ticker.
func (b *Bus) GC() int {
	cutoff := time.Now().Add(-b.gcAfter)
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, js := range b.jobs {
		js.mu.Lock()
		idle := js.lastEvent.Before(cutoff) && len(js.subscribers) == 0
		js.mu.Unlock()
		if idle {
			delete(b.jobs, id)
			removed++
		}
	}
	return removed
}
