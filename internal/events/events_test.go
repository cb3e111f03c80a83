package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petermattis/goid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/invoker"
	"github.com/roach88/tether/internal/ir"
)

type collector struct {
	mu     sync.Mutex
	events []Event
	gids   []int64
}

func (c *collector) OnEvent(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	c.gids = append(c.gids, goid.Get())
}

func (c *collector) payloads() []ir.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ir.Value, len(c.events))
	for i, e := range c.events {
		out[i] = e.Payload
	}
	return out
}

func startRuntime(t *testing.T) *invoker.Loop {
	t.Helper()
	l := invoker.NewLoop("runtime")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return l.Goroutine() != 0 }, time.Second, time.Millisecond)
	return l
}

func flushed(t *testing.T, l *invoker.Loop) {
	t.Helper()
	require.NoError(t, l.InvokeSync(context.Background(), func() {}))
}

func setup(t *testing.T) (*invoker.Loop, *ManualBeat, *Registry, *Queue, *collector) {
	rt := startRuntime(t)
	beat := NewManualBeat()
	reg := NewRegistry()
	c := &collector{}
	return rt, beat, reg, NewQueue(rt, beat, c), c
}

func TestEmitter_DiscreteEventsKeepOrder(t *testing.T) {
	rt, beat, reg, q, c := setup(t)
	e := NewEmitter(reg, q, 1, 7)

	for _, name := range []string{"o1", "o2", "o3"} {
		require.True(t, e.Dispatch("onLoad", ir.String(name)))
	}
	assert.Equal(t, 3, q.Len())
	assert.Empty(t, c.payloads(), "nothing delivered before the beat")

	beat.Induce()
	flushed(t, rt)

	assert.Equal(t, []ir.Value{ir.String("o1"), ir.String("o2"), ir.String("o3")}, c.payloads())

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, gid := range c.gids {
		assert.Equal(t, rt.Goroutine(), gid)
		assert.Equal(t, int64(i+1), c.events[i].Seq)
	}
}

func TestEmitter_ContinuousEventsCoalesceToLastValue(t *testing.T) {
	rt, beat, reg, q, c := setup(t)
	e := NewEmitter(reg, q, 1, 7)

	e.Dispatch("onScroll", ir.Int(1), Coalesce("scroll"))
	e.Dispatch("onLoad", ir.String("loaded"))
	e.Dispatch("onScroll", ir.Int(2), Coalesce("scroll"))
	e.Dispatch("onScroll", ir.Int(3), Coalesce("scroll"))

	beat.Induce()
	flushed(t, rt)

	// The final scroll value lands after the discrete event dispatched
	// before it.
	assert.Equal(t, []ir.Value{ir.String("loaded"), ir.Int(3)}, c.payloads())
	coalesced, delivered := q.Stats()
	assert.Equal(t, uint64(2), coalesced)
	assert.Equal(t, uint64(2), delivered)
}

func TestEmitter_CoalescingIsPerViewAndKey(t *testing.T) {
	rt, beat, reg, q, c := setup(t)
	a := NewEmitter(reg, q, 1, 1)
	b := NewEmitter(reg, q, 1, 2)

	a.Dispatch("onScroll", ir.Int(1), Coalesce("y"))
	b.Dispatch("onScroll", ir.Int(10), Coalesce("y"))
	a.Dispatch("onScroll", ir.Int(2), Coalesce("x"))
	a.Dispatch("onScroll", ir.Int(3), Coalesce("y"))

	beat.Induce()
	flushed(t, rt)

	assert.Equal(t, []ir.Value{ir.Int(10), ir.Int(2), ir.Int(3)}, c.payloads())
}

func TestEmitter_DeliveredEventsAreNotCoalescedAgain(t *testing.T) {
	rt, beat, reg, q, c := setup(t)
	e := NewEmitter(reg, q, 1, 1)

	e.Dispatch("onScroll", ir.Int(1), Coalesce("y"))
	beat.Induce()
	e.Dispatch("onScroll", ir.Int(2), Coalesce("y"))
	beat.Induce()
	flushed(t, rt)

	assert.Equal(t, []ir.Value{ir.Int(1), ir.Int(2)}, c.payloads())
}

func TestEmitter_NoOpAfterUnmount(t *testing.T) {
	rt, beat, reg, q, c := setup(t)
	e := NewEmitter(reg, q, 1, 7)

	reg.Unregister(1, 7)
	assert.False(t, e.Dispatch("onLoad", nil))
	assert.Equal(t, 0, q.Len())

	// A remount under the same tag does not revive the old emitter.
	fresh := NewEmitter(reg, q, 1, 7)
	assert.False(t, e.Dispatch("onLoad", nil))
	assert.True(t, fresh.Dispatch("onLoad", nil))

	beat.Induce()
	flushed(t, rt)
	require.Len(t, c.payloads(), 1)
	assert.Equal(t, ir.Null{}, c.payloads()[0])
}

func TestRegistry_ReleaseSurface(t *testing.T) {
	reg := NewRegistry()
	h1 := reg.Register(1, 1)
	h2 := reg.Register(1, 2)
	h3 := reg.Register(2, 1)

	reg.Release(1, 1)
	assert.False(t, reg.Alive(h1))
	assert.True(t, reg.Alive(h2))

	reg.ReleaseSurface(1)
	assert.False(t, reg.Alive(h2))
	assert.True(t, reg.Alive(h3))
	assert.Equal(t, 1, reg.Len())
}

func TestManualBeat_InducesOnlyWhenRequested(t *testing.T) {
	beat := NewManualBeat()
	var ticks int
	beat.SetCallback(func() { ticks++ })

	beat.Induce()
	assert.Equal(t, 0, ticks)

	beat.Request()
	beat.Request()
	beat.Induce()
	beat.Induce()
	assert.Equal(t, 1, ticks)
}

func TestLoopBeat_DeliversWithoutManualInduce(t *testing.T) {
	rt := startRuntime(t)
	main := startRuntime(t)
	c := &collector{}
	reg := NewRegistry()
	q := NewQueue(rt, NewLoopBeat(main), c)
	e := NewEmitter(reg, q, 1, 1)

	e.Dispatch("onPress", ir.Bool(true))

	require.Eventually(t, func() bool { return len(c.payloads()) == 1 }, time.Second, time.Millisecond)
}

func TestTickerBeat_Delivers(t *testing.T) {
	rt := startRuntime(t)
	c := &collector{}
	beat := NewTickerBeat(rt, time.Millisecond)
	q := NewQueue(rt, beat, c)
	e := NewEmitter(NewRegistry(), q, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = beat.Run(ctx) }()

	e.Dispatch("onLayout", ir.NewObject(ir.P("width", ir.Int(100))))
	require.Eventually(t, func() bool { return len(c.payloads()) == 1 }, time.Second, time.Millisecond)
}
