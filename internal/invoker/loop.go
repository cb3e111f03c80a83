package invoker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// PanicHandler receives panics recovered from work items.
type PanicHandler func(loop string, recovered any)

// Loop is a single-goroutine work loop.
//
// The queue is unbounded so work scheduled from inside work never blocks.
// A buffered signal channel (size 1) coalesces wakeups and lets Run wait
// on ctx at the same time.
type Loop struct {
	name     string
	logger   *slog.Logger
	onPanic  PanicHandler
	capacity int

	mu     sync.Mutex
	lanes  [numPriorities][]func()
	size   int
	closed bool
	signal chan struct{}

	gid      atomic.Int64 // goroutine id of Run, 0 when not running
	executed atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(loop *Loop) {
		loop.logger = l
	}
}

// WithPanicHandler sets the handler for panics raised by work items.
// Default: log at error level and keep running.
func WithPanicHandler(h PanicHandler) Option {
	return func(loop *Loop) {
		loop.onPanic = h
	}
}

// WithLaneCapacity preallocates n slots per priority lane. Lanes still
// grow past n. Default: 16.
func WithLaneCapacity(n int) Option {
	return func(loop *Loop) {
		if n > 0 {
			loop.capacity = n
		}
	}
}

// NewLoop creates a stopped loop. Call Run to start processing.
func NewLoop(name string, opts ...Option) *Loop {
	l := &Loop{
		name:     name,
		logger:   slog.Default(),
		signal:   make(chan struct{}, 1),
		capacity: 16,
	}
	for _, opt := range opts {
		opt(l)
	}
	for i := range l.lanes {
		l.lanes[i] = make([]func(), 0, l.capacity)
	}
	return l
}

// Name returns the loop name ("runtime", "main", ...).
func (l *Loop) Name() string {
	return l.name
}

// InvokeAsync implements CallInvoker.
func (l *Loop) InvokeAsync(work func()) {
	l.InvokeAsyncWithPriority(PriorityNormal, work)
}

// InvokeAsyncWithPriority implements CallInvoker.
// Work handed to a closed loop is dropped and logged.
func (l *Loop) InvokeAsyncWithPriority(p Priority, work func()) {
	if !l.enqueue(p, work) {
		l.logger.Warn("work dropped: loop closed", "loop", l.name, "priority", p.String())
	}
}

// InvokeSync implements CallInvoker.
//
// The work item joins the normal lane, so it runs after work the caller
// enqueued earlier. Returns ErrReentrantSync when called from the loop
// itself and ErrClosed when the loop is stopped. If ctx ends first the
// call returns ctx.Err(); the work item stays queued and still runs.
func (l *Loop) InvokeSync(ctx context.Context, work func()) error {
	if l.IsCurrent() {
		return ErrReentrantSync
	}

	done := make(chan struct{})
	var panicked any
	wrapped := func() {
		defer close(done)
		defer func() {
			panicked = recover()
		}()
		work()
	}

	if !l.enqueue(PriorityNormal, wrapped) {
		return ErrClosed
	}

	select {
	case <-done:
		if panicked != nil {
			return fmt.Errorf("invoker: work on %s panicked: %v", l.name, panicked)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) enqueue(p Priority, work func()) bool {
	if !p.Valid() {
		p = PriorityNormal
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.lanes[p] = append(l.lanes[p], work)
	l.size++

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the oldest item of the highest non-empty lane.
func (l *Loop) tryDequeue() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for p := range l.lanes {
		lane := l.lanes[p]
		if len(lane) == 0 {
			continue
		}
		work := lane[0]
		// Nil the slot so the closure can be collected.
		lane[0] = nil
		if len(lane) == 1 {
			l.lanes[p] = lane[:0]
		} else {
			l.lanes[p] = lane[1:]
		}
		l.size--
		return work, true
	}
	return nil, false
}

// Run processes work until ctx is cancelled or Stop is called.
// Must be called from exactly one goroutine; that goroutine becomes the
// loop's identity for IsCurrent.
func (l *Loop) Run(ctx context.Context) error {
	if !l.gid.CompareAndSwap(0, goid.Get()) {
		return fmt.Errorf("invoker: loop %s is already running", l.name)
	}
	defer l.gid.Store(0)

	l.logger.Debug("loop starting", "loop", l.name)

	for {
		if work, ok := l.tryDequeue(); ok {
			l.execute(work)
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Debug("loop stopping: context cancelled", "loop", l.name)
			l.Stop()
			return ctx.Err()

		case <-l.signal:
			// Signal channel closes on Stop; drain whatever is left first.
			if l.isClosed() && l.Len() == 0 {
				l.logger.Debug("loop stopping: closed", "loop", l.name)
				return nil
			}
		}
	}
}

func (l *Loop) execute(work func()) {
	defer func() {
		if r := recover(); r != nil {
			if l.onPanic != nil {
				l.onPanic(l.name, r)
				return
			}
			l.logger.Error("work panicked", "loop", l.name, "panic", r)
		}
	}()
	work()
	l.executed.Add(1)
}

// Stop closes the loop. Queued work still drains before Run returns.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.signal)
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// IsCurrent reports whether the caller is running on this loop.
func (l *Loop) IsCurrent() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == goid.Get()
}

// Goroutine returns the goroutine id running the loop, or 0.
func (l *Loop) Goroutine() int64 {
	return l.gid.Load()
}

// Len returns the number of queued work items.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Executed returns how many work items completed without panicking.
func (l *Loop) Executed() uint64 {
	return l.executed.Load()
}
