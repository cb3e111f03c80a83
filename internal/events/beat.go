package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tether/internal/invoker"
)

// EventBeat is a tick source. Request marks that a tick is wanted; the
// beat later calls the callback set with SetCallback.
type EventBeat interface {
	Request()
	SetCallback(fn func())
}

type beatBase struct {
	mu        sync.Mutex
	callback  func()
	requested atomic.Bool
}

func (b *beatBase) SetCallback(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callback = fn
}

// induce runs the callback if a tick was requested.
func (b *beatBase) induce() {
	if !b.requested.CompareAndSwap(true, false) {
		return
	}
	b.mu.Lock()
	fn := b.callback
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ManualBeat ticks only when Induce is called. Used in tests and by the
// harness to control delivery precisely.
type ManualBeat struct {
	beatBase
}

// NewManualBeat creates a manual beat.
func NewManualBeat() *ManualBeat {
	return &ManualBeat{}
}

// Request implements EventBeat.
func (b *ManualBeat) Request() {
	b.requested.Store(true)
}

// Induce ticks on the calling goroutine if a tick was requested.
func (b *ManualBeat) Induce() {
	b.induce()
}

// LoopBeat ticks on a loop as soon as a tick is requested; requests made
// before the tick runs share it.
type LoopBeat struct {
	beatBase
	inv invoker.CallInvoker
}

// NewLoopBeat creates a beat inducing on inv.
func NewLoopBeat(inv invoker.CallInvoker) *LoopBeat {
	return &LoopBeat{inv: inv}
}

// Request implements EventBeat.
func (b *LoopBeat) Request() {
	if b.requested.Swap(true) {
		return
	}
	b.inv.InvokeAsync(b.induce)
}

// TickerBeat ticks on a loop at a fixed interval while a tick is
// requested, like a display link.
type TickerBeat struct {
	beatBase
	inv      invoker.CallInvoker
	interval time.Duration
}

// NewTickerBeat creates a beat inducing on inv every interval.
func NewTickerBeat(inv invoker.CallInvoker, interval time.Duration) *TickerBeat {
	return &TickerBeat{inv: inv, interval: interval}
}

// Request implements EventBeat.
func (b *TickerBeat) Request() {
	b.requested.Store(true)
}

// Run ticks until ctx is done.
func (b *TickerBeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.requested.Load() {
				b.inv.InvokeAsync(b.induce)
			}
		}
	}
}
