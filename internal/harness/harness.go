package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/events"
	"github.com/roach88/tether/internal/host"
	"github.com/roach88/tether/internal/invoker"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/jsruntime"
	"github.com/roach88/tether/internal/manifest"
	"github.com/roach88/tether/internal/module"
	"github.com/roach88/tether/internal/mounting"
	"github.com/roach88/tether/internal/shadow"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/testutil"
)

// DefaultQuiesceTimeout bounds the wait for the bridge to go quiet after a
// step.
const DefaultQuiesceTimeout = 2 * time.Second

type viewKey struct {
	surface shadow.SurfaceID
	tag     shadow.Tag
}

// Harness executes one scenario against one host.
type Harness struct {
	host      *host.Host
	store     *store.Store
	calls     *testutil.CallLog
	lifecycle *testutil.LifecycleLog
	beat      *events.ManualBeat
	emitters  map[viewKey]*events.Emitter
	surfaces  map[shadow.SurfaceID]bool
	globals   map[string]ir.Value
	timeout   time.Duration
}

// Option configures a run.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	timeout time.Duration
}

// WithLogger sets the logger of the host under test. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithQuiesceTimeout overrides DefaultQuiesceTimeout.
func WithQuiesceTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh host with an in-memory diagnostics store
// and a step clock, so two runs of the same scenario produce the same
// trace. Step expectations and assertions that fail are recorded in the
// result; the returned error is reserved for scenarios that cannot run.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	o := options{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: DefaultQuiesceTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := config.Default()
	if sc.Config != "" {
		var err error
		if cfg, err = config.Parse([]byte(sc.Config)); err != nil {
			return nil, fmt.Errorf("scenario config: %w", err)
		}
	}
	cfg.Store.Path = ""

	mods, err := LoadModules(sc.ManifestDir())
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		calls:    testutil.NewCallLog(),
		emitters: make(map[viewKey]*events.Emitter),
		surfaces: make(map[shadow.SurfaceID]bool),
		globals:  make(map[string]ir.Value),
		timeout:  o.timeout,
	}
	clk := testutil.NewStepClock(time.Time{}, time.Millisecond)
	hostOpts := []host.Option{
		host.WithLogger(o.logger),
		host.WithStore(st),
		host.WithCallRecorder(h.calls),
		host.WithNow(clk.Now),
	}
	if sc.ManualBeat {
		h.beat = events.NewManualBeat()
		hostOpts = append(hostOpts, host.WithBeat(h.beat))
	}

	// The lifecycle log needs the main loop, which only exists once the
	// host is built, so it forwards through a late-bound delegate.
	delegate := &lateDelegate{}
	hostOpts = append(hostOpts, host.WithDelegate(delegate))

	bh, err := host.New(ctx, cfg, mods, hostOpts...)
	if err != nil {
		return nil, fmt.Errorf("build host: %w", err)
	}
	h.host = bh
	h.lifecycle = testutil.NewLifecycleLog(bh.Main)
	delegate.target = h.lifecycle

	if err := bh.Start(ctx); err != nil {
		_ = bh.Close(ctx)
		return nil, fmt.Errorf("start host: %w", err)
	}

	result := NewResult(sc.Name)
	for i, step := range sc.Steps {
		ev := h.execute(ctx, i, step)
		if err := h.quiesce(ctx); err != nil {
			result.AddError("step %d: %v", i, err)
		}
		if ev.Kind == KindCall {
			h.settleCall(ctx, i, &ev)
		}
		if step.Expect != nil {
			if err := checkExpect(ev, *step.Expect); err != nil {
				result.AddError("step %d (%s): %v", i, ev.Kind, err)
			}
		}
		result.Trace = append(result.Trace, ev)
	}

	h.collect(ctx, result)
	h.captureGlobals(ctx, sc.Assertions, result)
	if err := bh.Close(ctx); err != nil {
		result.AddError("close: %v", err)
	}

	for i, a := range sc.Assertions {
		if err := h.evaluate(result, a); err != nil {
			result.AddError("assertion %d: %v", i, err)
		}
	}
	return result, nil
}

// LoadModules compiles and builds every module manifest in dir.
func LoadModules(dir string) ([]module.NativeModule, error) {
	res, errs := manifest.Load(dir, manifest.CollectAll)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load manifests: %w", errors.Join(errs...))
	}
	defs, err := manifest.BuildAll(res.Modules)
	if err != nil {
		return nil, err
	}
	mods := make([]module.NativeModule, len(defs))
	for i, d := range defs {
		mods[i] = d
	}
	return mods, nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step) TraceEvent {
	switch {
	case step.Call != "":
		return h.call(ctx, i, step)
	case step.Script != "":
		return h.script(ctx, i, step.Script)
	case step.Mount != nil:
		return h.mount(ctx, i, step.Mount)
	case step.Event != nil:
		return h.event(i, step.Event)
	case step.Flush:
		if h.beat != nil {
			h.beat.Induce()
		}
		return TraceEvent{Step: i, Kind: KindFlush}
	default:
		return h.stop(ctx, i, shadow.SurfaceID(step.StopSurface))
	}
}

func callGlobal(i int) string { return "__harness_call_" + strconv.Itoa(i) }

func callErrorGlobal(i int) string { return callGlobal(i) + "_error" }

// call invokes the method through nativeModules so it crosses the same
// script boundary as application code. The return value is parked in a
// global and read back by settleCall once the bridge is quiet.
func (h *Harness) call(ctx context.Context, i int, step Step) TraceEvent {
	mod, meth, _ := splitMethod(step.Call)
	args, _ := ir.FromGo(step.Args)
	ev := TraceEvent{Step: i, Kind: KindCall, Method: step.Call, Args: args}

	argsJSON, err := ir.Encode(args)
	if err != nil {
		ev.Error = &bridge.CallError{Message: err.Error()}
		return ev
	}
	src := fmt.Sprintf(`try {
  globalThis[%q] = nativeModules[%q][%q].apply(null, %s);
} catch (e) {
  globalThis[%q] = {code: String((e && e.code) || ""), message: String((e && e.message) || e)};
}
undefined;`, callGlobal(i), mod, meth, argsJSON, callErrorGlobal(i))

	if _, err := h.host.Eval(ctx, fmt.Sprintf("call_%d.js", i), src); err != nil {
		ev.Error = &bridge.CallError{Message: err.Error()}
	}
	return ev
}

func (h *Harness) settleCall(ctx context.Context, i int, ev *TraceEvent) {
	if ev.Error != nil {
		return
	}
	thrown, err := h.host.Script.Global(ctx, callErrorGlobal(i))
	if err == nil && !ir.IsNull(thrown) {
		obj, _ := thrown.(ir.Object)
		code, _ := obj["code"].(ir.String)
		msg, _ := obj["message"].(ir.String)
		ev.Error = &bridge.CallError{Code: string(code), Message: string(msg)}
		return
	}

	v, err := h.host.Script.Global(ctx, callGlobal(i))
	var rej *jsruntime.Rejection
	switch {
	case err == nil:
		ev.Result = v
	case errors.Is(err, jsruntime.ErrPending):
		ev.Pending = true
	case errors.As(err, &rej):
		ev.Error = &bridge.CallError{Code: rej.Code, Message: rej.Message}
	default:
		ev.Error = &bridge.CallError{Message: err.Error()}
	}
}

func (h *Harness) script(ctx context.Context, i int, src string) TraceEvent {
	ev := TraceEvent{Step: i, Kind: KindScript}
	v, err := h.host.Eval(ctx, fmt.Sprintf("step_%d.js", i), src)
	if err != nil {
		ev.Error = &bridge.CallError{Message: err.Error()}
		return ev
	}
	ev.Result = v
	return ev
}

func (h *Harness) mount(ctx context.Context, i int, m *MountStep) TraceEvent {
	surface := shadow.SurfaceID(m.Surface)
	ev := TraceEvent{Step: i, Kind: KindMount, Surface: m.Surface}

	if !h.surfaces[surface] {
		if _, err := h.host.Mounter.StartSurface(surface); err != nil {
			ev.Failure = err.Error()
			return ev
		}
		h.surfaces[surface] = true
	}

	root, err := m.Root.node(surface)
	if err != nil {
		ev.Failure = err.Error()
		return ev
	}
	tx, err := h.host.Mounter.Commit(ctx, surface, root)
	if tx != nil {
		ev.Seq = tx.Seq
		ev.Mutations = mutationStrings(tx.Mutations)
	}
	if err != nil {
		ev.Failure = err.Error()
		return ev
	}

	// Every created view gets an emitter, as a platform view would.
	for _, mut := range tx.Mutations {
		if mut.Kind == shadow.Create {
			h.emitters[viewKey{surface, mut.Tag}] = h.host.Emitter(surface, mut.Tag)
		}
	}
	return ev
}

func (h *Harness) event(i int, e *EventStep) TraceEvent {
	ev := TraceEvent{Step: i, Kind: KindEvent, Surface: e.Surface, Tag: e.Tag, Type: e.Type}
	payload, _ := ir.FromGo(e.Payload)

	delivered := false
	if em, ok := h.emitters[viewKey{shadow.SurfaceID(e.Surface), shadow.Tag(e.Tag)}]; ok {
		var opts []events.DispatchOption
		if e.Coalesce != "" {
			opts = append(opts, events.Coalesce(e.Coalesce))
		}
		delivered = em.Dispatch(e.Type, payload, opts...)
	}
	ev.Delivered = &delivered
	return ev
}

func (h *Harness) stop(ctx context.Context, i int, surface shadow.SurfaceID) TraceEvent {
	ev := TraceEvent{Step: i, Kind: KindStop, Surface: int64(surface)}
	if err := h.host.Mounter.StopSurface(ctx, surface); err != nil {
		ev.Failure = err.Error()
	}
	delete(h.surfaces, surface)
	return ev
}

// quiesce waits until no promise is pending, every loop has drained the
// work queued before it and, unless beats are manual, no event is queued.
func (h *Harness) quiesce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	noop := func() {}
	for {
		for _, l := range []invoker.CallInvoker{h.host.Native, h.host.Main, h.host.Runtime} {
			if err := l.InvokeSync(ctx, noop); err != nil {
				return fmt.Errorf("bridge did not go quiet: %w", err)
			}
		}
		scriptPending, err := h.host.Script.Pending(ctx)
		if err != nil {
			return fmt.Errorf("bridge did not go quiet: %w", err)
		}
		queued := h.host.Queue.Len()
		if h.beat != nil {
			queued = 0
		}
		if h.host.Dispatcher.Pending() == 0 && scriptPending == 0 && queued == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("bridge did not go quiet: %d native and %d script promises pending, %d events queued",
				h.host.Dispatcher.Pending(), scriptPending, queued)
		case <-time.After(time.Millisecond):
		}
	}
}

// collect copies the recorders' state into result. Runs before Close so
// live views are still attached.
func (h *Harness) collect(ctx context.Context, result *Result) {
	for _, rec := range h.calls.Records() {
		result.Calls = append(result.Calls, CallEvent{
			CallID:     rec.CallID,
			Method:     rec.Module + "." + rec.Method,
			Convention: rec.Convention.String(),
			State:      rec.State.String(),
			Code:       rec.Code,
		})
	}

	if h.host.Session != nil {
		summary, err := h.store.SummarizeCalls(ctx, h.host.Session.ID())
		if err != nil {
			result.AddError("summarize calls: %v", err)
		}
		for _, m := range summary {
			result.Summary = append(result.Summary, MethodCount{
				Method:   m.Module + "." + m.Method,
				Calls:    m.Calls,
				Failures: m.Failures,
			})
		}
	}

	if mem, ok := h.host.Views.(*mounting.MemoryHost); ok {
		for surface := range h.surfaces {
			if snap := mem.Snapshot(surface); snap != nil {
				result.Views[strconv.FormatInt(int64(surface), 10)] = snap
			}
		}
	}

	result.Lifecycle = append(result.Lifecycle, h.lifecycle.Entries()...)
	if n := h.lifecycle.OffOwner(); n > 0 {
		result.AddError("%d mount notifications arrived off the main loop", n)
	}
	result.Exceptions = append(result.Exceptions, h.host.Script.Exceptions()...)
	result.Console = append(result.Console, h.host.Script.Console()...)
	result.DoubleSettles = h.host.Dispatcher.DoubleSettles()
}

// captureGlobals reads the globals named by assertions while the script
// runtime is still running.
func (h *Harness) captureGlobals(ctx context.Context, assertions []Assertion, result *Result) {
	for _, a := range assertions {
		if a.Type != AssertGlobal {
			continue
		}
		if _, done := h.globals[a.Global]; done {
			continue
		}
		v, err := h.host.Script.Global(ctx, a.Global)
		if err != nil {
			result.AddError("read global %s: %v", a.Global, err)
			continue
		}
		h.globals[a.Global] = v
	}
}

func checkExpect(ev TraceEvent, want Expect) error {
	switch {
	case want.Error != "":
		if ev.Error == nil {
			return fmt.Errorf("expected error %s, got result %s", want.Error, show(ev.Result))
		}
		if ev.Error.Code != want.Error {
			return fmt.Errorf("expected error %s, got %s: %s", want.Error, ev.Error.Code, ev.Error.Message)
		}
		return nil
	case want.Failure:
		if ev.Failure == "" {
			return fmt.Errorf("expected mounting failure")
		}
		return nil
	case want.Pending:
		if !ev.Pending {
			return fmt.Errorf("expected call to stay pending")
		}
		return nil
	}

	if ev.Error != nil {
		return fmt.Errorf("unexpected error %s: %s", ev.Error.Code, ev.Error.Message)
	}
	if ev.Failure != "" {
		return fmt.Errorf("unexpected failure: %s", ev.Failure)
	}
	if ev.Pending {
		return fmt.Errorf("call still pending")
	}
	if want.Delivered != nil {
		got := ev.Delivered != nil && *ev.Delivered
		if got != *want.Delivered {
			return fmt.Errorf("expected delivered=%t, got %t", *want.Delivered, got)
		}
	}
	if want.Result != nil {
		expected, err := ir.FromGo(want.Result)
		if err != nil {
			return fmt.Errorf("expected result: %w", err)
		}
		if !ir.Equal(expected, ev.Result) {
			return fmt.Errorf("expected result %s, got %s", show(expected), show(ev.Result))
		}
	}
	return nil
}

func mutationStrings(muts []shadow.Mutation) []string {
	out := make([]string, len(muts))
	for i, m := range muts {
		out[i] = m.String()
	}
	return out
}

func show(v ir.Value) string {
	data, err := ir.Encode(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

type lateDelegate struct {
	target mounting.Delegate
}

func (d *lateDelegate) WillMount(s shadow.SurfaceID) {
	if d.target != nil {
		d.target.WillMount(s)
	}
}

func (d *lateDelegate) DidMount(s shadow.SurfaceID) {
	if d.target != nil {
		d.target.DidMount(s)
	}
}
