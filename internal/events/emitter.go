package events

import (
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/shadow"
)

// Emitter dispatches events for one view.
type Emitter struct {
	handle   Handle
	registry *Registry
	queue    *Queue
}

// NewEmitter registers the view in reg and returns its emitter.
func NewEmitter(reg *Registry, q *Queue, surface shadow.SurfaceID, tag shadow.Tag) *Emitter {
	return &Emitter{
		handle:   reg.Register(surface, tag),
		registry: reg,
		queue:    q,
	}
}

// Handle returns the emitter's view handle.
func (e *Emitter) Handle() Handle {
	return e.handle
}

// DispatchOption configures a dispatched event.
type DispatchOption func(*Event)

// Coalesce marks the event continuous under key.
func Coalesce(key string) DispatchOption {
	return func(ev *Event) {
		ev.CoalescingKey = key
	}
}

// Dispatch queues an event. It reports false, and does nothing, once the
// view has been unmounted.
func (e *Emitter) Dispatch(eventType string, payload ir.Value, opts ...DispatchOption) bool {
	if !e.registry.Alive(e.handle) {
		return false
	}
	if payload == nil {
		payload = ir.Null{}
	}
	ev := Event{
		Surface: e.handle.Surface,
		Tag:     e.handle.Tag,
		Type:    eventType,
		Payload: payload,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	e.queue.Enqueue(ev)
	return true
}
