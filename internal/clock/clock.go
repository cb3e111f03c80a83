// Package clock provides the monotonic logical clock used to stamp
// mounting transactions, bridge calls and events.
package clock

import "sync/atomic"

// Clock hands out strictly increasing sequence numbers.
//
// Sequence numbers order work without consulting wall time, so a replayed
// trace produces the same order. Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// New creates a clock starting at 0. The first Next returns 1.
func New() *Clock {
	return &Clock{}
}

// NewAt creates a clock whose next value is start+1.
// Used to resume numbering from a persisted position.
func NewAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
