package events

import (
	"log/slog"
	"sync"

	"github.com/roach88/tether/internal/clock"
	"github.com/roach88/tether/internal/invoker"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/shadow"
)

// Event is one dispatched view event.
type Event struct {
	Seq     int64            `json:"seq"`
	Surface shadow.SurfaceID `json:"surface"`
	Tag     shadow.Tag       `json:"tag"`
	Type    string           `json:"type"`
	Payload ir.Value         `json:"payload"`

	// CoalescingKey is empty for discrete events.
	CoalescingKey string `json:"coalescing_key,omitempty"`
}

// Continuous reports whether the event may be coalesced.
func (e Event) Continuous() bool {
	return e.CoalescingKey != ""
}

// Listener receives events on the runtime loop.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(e Event) { f(e) }

type coalesceKey struct {
	surface shadow.SurfaceID
	tag     shadow.Tag
	typ     string
	key     string
}

// Queue buffers events between beats.
//
// Thread-safety: Enqueue is safe from any goroutine. Delivery happens on
// the runtime invoker, one batch per beat, in queue order.
type Queue struct {
	runtime  invoker.CallInvoker
	listener Listener
	beat     EventBeat
	clock    *clock.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	pending   []Event
	coalesced uint64
	delivered uint64
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithClock sets the clock stamping events. Default: a fresh clock.
func WithClock(c *clock.Clock) QueueOption {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithLogger sets the queue's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = l
	}
}

// NewQueue creates a queue flushing to listener on runtime at every tick of
// beat.
func NewQueue(runtime invoker.CallInvoker, beat EventBeat, listener Listener, opts ...QueueOption) *Queue {
	q := &Queue{
		runtime:  runtime,
		listener: listener,
		beat:     beat,
		clock:    clock.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	beat.SetCallback(q.flush)
	return q
}

// Enqueue stamps ev with the next sequence number and buffers it.
func (q *Queue) Enqueue(ev Event) {
	q.mu.Lock()
	ev.Seq = q.clock.Next()
	if ev.Continuous() {
		k := coalesceKey{ev.Surface, ev.Tag, ev.Type, ev.CoalescingKey}
		for i := range q.pending {
			p := q.pending[i]
			if p.Continuous() && (coalesceKey{p.Surface, p.Tag, p.Type, p.CoalescingKey}) == k {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				q.coalesced++
				break
			}
		}
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	q.beat.Request()
}

// flush hands the buffered batch to the listener on the runtime loop.
func (q *Queue) flush() {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.delivered += uint64(len(batch))
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	q.runtime.InvokeAsync(func() {
		for _, ev := range batch {
			q.listener.OnEvent(ev)
		}
	})
	q.logger.Debug("events flushed", "count", len(batch))
}

// Len returns the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns how many events were coalesced away and how many were
// handed to the runtime loop.
func (q *Queue) Stats() (coalesced, delivered uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.coalesced, q.delivered
}
