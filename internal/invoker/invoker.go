package invoker

import (
	"context"
	"errors"
)

// Priority is an advisory scheduling hint. Lower values run first.
type Priority int

const (
	// PriorityImmediate is for work that must run before anything queued.
	PriorityImmediate Priority = iota
	// PriorityUserBlocking is for user-interaction driven work.
	PriorityUserBlocking
	// PriorityNormal is the default lane.
	PriorityNormal
	// PriorityLow is for background work.
	PriorityLow
	// PriorityIdle runs only when nothing else is queued.
	PriorityIdle

	numPriorities
)

// String returns the lane name used in logs and metrics.
func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "immediate"
	case PriorityUserBlocking:
		return "user_blocking"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Valid reports whether p names a lane.
func (p Priority) Valid() bool {
	return p >= PriorityImmediate && p < numPriorities
}

// Errors returned by InvokeSync.
var (
	// ErrReentrantSync is returned when InvokeSync is called from the
	// loop's own goroutine, which would otherwise deadlock.
	ErrReentrantSync = errors.New("invoker: InvokeSync called from the target loop")

	// ErrClosed is returned when work is handed to a stopped loop.
	ErrClosed = errors.New("invoker: loop is closed")
)

// CallInvoker is the single choke point for scheduling work onto a loop.
type CallInvoker interface {
	// InvokeAsync enqueues work and returns immediately.
	InvokeAsync(work func())

	// InvokeAsyncWithPriority enqueues work with an advisory priority.
	InvokeAsyncWithPriority(p Priority, work func())

	// InvokeSync blocks until work has run on the loop or ctx is done.
	InvokeSync(ctx context.Context, work func()) error
}

// FIFOInvoker wraps a CallInvoker and ignores priorities, so every call
// lands in the same lane in enqueue order.
type FIFOInvoker struct {
	Inner CallInvoker
}

// InvokeAsync implements CallInvoker.
func (f FIFOInvoker) InvokeAsync(work func()) {
	f.Inner.InvokeAsync(work)
}

// InvokeAsyncWithPriority implements CallInvoker; the priority is dropped.
func (f FIFOInvoker) InvokeAsyncWithPriority(_ Priority, work func()) {
	f.Inner.InvokeAsync(work)
}

// InvokeSync implements CallInvoker.
func (f FIFOInvoker) InvokeSync(ctx context.Context, work func()) error {
	return f.Inner.InvokeSync(ctx, work)
}
