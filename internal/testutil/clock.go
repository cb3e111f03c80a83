package testutil

import (
	"sync"
	"time"
)

// StepClock is a wall clock that advances by a fixed step on every read.
//
// Handing StepClock.Now to components that take a `now func() time.Time`
// makes recorded timestamps and durations reproducible across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	reads int64
}

// DefaultEpoch is the first instant returned by a StepClock built with a
// zero start.
var DefaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewStepClock creates a clock whose first Now returns start. A zero start
// uses DefaultEpoch; a non-positive step uses one millisecond.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	if step <= 0 {
		step = time.Millisecond
	}
	return &StepClock{start: start, step: step}
}

// Now returns start + reads*step and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.reads) * c.step)
	c.reads++
	return t
}

// Reads returns how many times Now was called.
func (c *StepClock) Reads() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Reset rewinds the clock so the next Now returns start again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = 0
}
