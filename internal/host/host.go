// Package host assembles a complete bridge: the runtime, main and native
// loops, the module registry and dispatcher, the mounting pipeline, the
// event queue, the script runtime, metrics and the diagnostics session.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/events"
	"github.com/roach88/tether/internal/invoker"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/jsruntime"
	"github.com/roach88/tether/internal/module"
	"github.com/roach88/tether/internal/mounting"
	"github.com/roach88/tether/internal/shadow"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/telemetry"
)

// Host owns every component of one bridge instance.
type Host struct {
	cfg    config.Config
	logger *slog.Logger

	Runtime *invoker.Loop
	Main    *invoker.Loop
	Native  *invoker.Loop

	Registry   *module.Registry
	Dispatcher *bridge.Dispatcher
	Script     *jsruntime.Runtime

	Views   mounting.ViewHost
	Mounter *mounting.Manager

	Handles *events.Registry
	Queue   *events.Queue
	beat    events.EventBeat

	Metrics *telemetry.Collector
	Session *store.Session
	store   *store.Store
	ownsDB  bool

	delegate  mounting.Delegate
	recorders []bridge.CallRecorder
	now       func() time.Time

	mu      sync.Mutex
	fatal   []error
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	closed  bool
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// WithViewHost replaces the in-memory view host.
func WithViewHost(v mounting.ViewHost) Option {
	return func(h *Host) {
		h.Views = v
	}
}

// WithDelegate observes willMount/didMount.
func WithDelegate(d mounting.Delegate) Option {
	return func(h *Host) {
		h.delegate = d
	}
}

// WithStore records diagnostics into an already open store. The host does
// not close it.
func WithStore(s *store.Store) Option {
	return func(h *Host) {
		h.store = s
	}
}

// WithBeat replaces the beat derived from events.beat_interval.
func WithBeat(b events.EventBeat) Option {
	return func(h *Host) {
		h.beat = b
	}
}

// WithCallRecorder adds a call recorder next to metrics and diagnostics.
func WithCallRecorder(r bridge.CallRecorder) Option {
	return func(h *Host) {
		h.recorders = append(h.recorders, r)
	}
}

// WithNow sets the wall clock used for call and transaction timings.
func WithNow(now func() time.Time) Option {
	return func(h *Host) {
		h.now = now
	}
}

// New wires a host for cfg and registers modules in order. Nothing runs
// until Start.
func New(ctx context.Context, cfg config.Config, modules []module.NativeModule, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	h := &Host{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}

	loopOpts := func() []invoker.Option {
		return []invoker.Option{
			invoker.WithLogger(h.logger),
			invoker.WithLaneCapacity(cfg.Invoker.LaneCapacity),
			invoker.WithPanicHandler(func(loop string, recovered any) {
				h.logger.Error("work item panicked", "loop", loop, "panic", recovered)
			}),
		}
	}
	h.Runtime = invoker.NewLoop("runtime", loopOpts()...)
	h.Main = invoker.NewLoop("main", loopOpts()...)
	h.Native = invoker.NewLoop("native", loopOpts()...)

	h.Registry = module.NewRegistry(
		module.WithDuplicatePolicy(cfg.DuplicatePolicy()),
		module.WithLogger(h.logger),
	)
	for _, m := range modules {
		if _, err := h.Registry.Register(m); err != nil {
			return nil, err
		}
	}

	h.Metrics = telemetry.NewCollector(cfg.Metrics.Namespace)

	if h.store == nil && cfg.Store.Path != "" {
		s, err := store.Open(cfg.Store.Path, store.WithLogger(h.logger))
		if err != nil {
			return nil, fmt.Errorf("open diagnostics store: %w", err)
		}
		h.store = s
		h.ownsDB = true
	}
	if h.store != nil {
		sess, err := h.store.StartSession(ctx, cfg.Capability, h.logger)
		if err != nil {
			h.closeStore()
			return nil, err
		}
		h.Session = sess
	}

	h.Script = jsruntime.New(h.Runtime, jsruntime.WithLogger(h.logger))

	callRecorders := bridge.Recorders{h.Metrics}
	txRecorders := mounting.TransactionRecorders{h.Metrics}
	if h.Session != nil {
		callRecorders = append(callRecorders, h.Session)
		txRecorders = append(txRecorders, h.Session)
	}
	callRecorders = append(callRecorders, h.recorders...)

	h.Dispatcher = bridge.NewDispatcher(h.Registry, h.Native, h.Runtime, h.Script,
		bridge.WithCodec(cfg.Codec()),
		bridge.WithExceptionsManager(h.Script),
		bridge.WithDoubleSettlePolicy(cfg.DoubleSettlePolicy()),
		bridge.WithCapability(cfg.Capability),
		bridge.WithRecorder(callRecorders),
		bridge.WithNow(h.now),
		bridge.WithLogger(h.logger),
	)

	if h.Views == nil {
		h.Views = mounting.NewMemoryHost(mounting.WithOwner(h.Main))
	}
	h.Handles = events.NewRegistry()

	mountOpts := []mounting.Option{
		mounting.WithReleaser(h.Handles),
		mounting.WithRecorder(txRecorders),
		mounting.WithFatalHandler(h.onFatal),
		mounting.WithNow(h.now),
		mounting.WithTreeOptions(shadow.WithNow(h.now)),
		mounting.WithLogger(h.logger),
	}
	if h.delegate != nil {
		mountOpts = append(mountOpts, mounting.WithDelegate(h.delegate))
	}
	h.Mounter = mounting.NewManager(h.Main, h.Views, mountOpts...)

	if h.beat == nil {
		if interval := time.Duration(cfg.Events.BeatInterval); interval > 0 {
			h.beat = events.NewTickerBeat(h.Runtime, interval)
		} else {
			h.beat = events.NewLoopBeat(h.Runtime)
		}
	}
	h.Queue = events.NewQueue(h.Runtime, h.beat, h.Script, events.WithLogger(h.logger))

	h.Metrics.Gauge("bridge", "pending_promises", "Promise calls awaiting settlement",
		func() float64 { return float64(h.Dispatcher.Pending()) })
	h.Metrics.Gauge("bridge", "double_settles", "Settlements dropped because the promise was already settled",
		func() float64 { return float64(h.Dispatcher.DoubleSettles()) })
	h.Metrics.Gauge("events", "queued", "Events waiting for the next beat",
		func() float64 { return float64(h.Queue.Len()) })
	h.Metrics.Gauge("events", "live_handles", "Views with a live event handle",
		func() float64 { return float64(h.Handles.Len()) })
	for _, l := range []*invoker.Loop{h.Runtime, h.Main, h.Native} {
		h.Metrics.CounterFunc("loop", "executed_total", "Work items completed on the loop",
			map[string]string{"loop": l.Name()},
			func() float64 { return float64(l.Executed()) })
	}

	return h, nil
}

// Config returns the configuration the host was built with.
func (h *Host) Config() config.Config {
	return h.cfg
}

// Start runs the loops in the background and installs nativeModules in
// the script runtime.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return errors.New("host already started")
	}
	h.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	h.cancel = cancel
	h.group = g
	h.mu.Unlock()

	for _, l := range []*invoker.Loop{h.Runtime, h.Main, h.Native} {
		l := l
		g.Go(func() error { return l.Run(gctx) })
	}
	if tb, ok := h.beat.(*events.TickerBeat); ok {
		g.Go(func() error { return tb.Run(gctx) })
	}

	if err := h.Script.Bind(ctx, h.Dispatcher); err != nil {
		return fmt.Errorf("bind script runtime: %w", err)
	}
	h.logger.Info("bridge started",
		"modules", h.Registry.Len(),
		"duplicate_policy", h.Registry.Policy(),
		"codec", h.Dispatcher.Codec().Name(),
		"runtime_version", h.cfg.Capability.RuntimeVersion)
	return nil
}

// Eval runs a script on the runtime loop.
func (h *Host) Eval(ctx context.Context, name, src string) (ir.Value, error) {
	return h.Script.Eval(ctx, name, src)
}

// Emitter returns an event emitter for a mounted view.
func (h *Host) Emitter(surface shadow.SurfaceID, tag shadow.Tag) *events.Emitter {
	return events.NewEmitter(h.Handles, h.Queue, surface, tag)
}

// Fatal returns the mounting failures reported so far.
func (h *Host) Fatal() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.fatal...)
}

func (h *Host) onFatal(err error) {
	h.logger.Error("mounting failure", "error", err)
	h.mu.Lock()
	h.fatal = append(h.fatal, err)
	h.mu.Unlock()
}

// Close stops every surface, invalidates the modules, stops the loops and
// closes a store the host opened itself.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	started := h.started
	h.mu.Unlock()

	var errs []error
	if started {
		for _, id := range h.Mounter.Surfaces() {
			if err := h.Mounter.StopSurface(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("stop surface %d: %w", id, err))
			}
		}
	}
	if !started {
		// Nothing would run the invalidation; the dispatcher falls back
		// to invalidating inline on a closed loop.
		h.Native.Stop()
	}
	if err := h.Dispatcher.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if started {
		h.Runtime.Stop()
		h.Main.Stop()
		h.Native.Stop()
		h.cancel()
		if err := h.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}

	if err := h.closeStore(); err != nil {
		errs = append(errs, err)
	}
	h.logger.Info("bridge stopped")
	return errors.Join(errs...)
}

func (h *Host) closeStore() error {
	if h.store != nil && h.ownsDB {
		return h.store.Close()
	}
	return nil
}
