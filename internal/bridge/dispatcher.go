package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/tether/internal/clock"
	"github.com/roach88/tether/internal/codec"
	"github.com/roach88/tether/internal/invoker"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/module"
)

// Dispatcher routes serialized calls to native modules.
//
// Thread-safety model:
//   - Invoke / InvokeSync: safe from any goroutine
//   - Normal and Promise bodies run on the native invoker
//   - Responder.Respond always runs on the runtime invoker
type Dispatcher struct {
	registry   *module.Registry
	native     invoker.CallInvoker
	runtime    invoker.CallInvoker
	responder  Responder
	codec      codec.Codec
	exceptions ExceptionsManager
	observer   StateObserver
	recorder   CallRecorder
	policy     DoubleSettlePolicy
	capability Capability
	clock      *clock.Clock
	now        func() time.Time
	logger     *slog.Logger

	pending       atomic.Int64
	doubleSettles atomic.Uint64
	closed        atomic.Bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCodec sets the argument/result codec. Default: codec.JSON.
func WithCodec(c codec.Codec) Option {
	return func(d *Dispatcher) {
		d.codec = c
	}
}

// WithExceptionsManager sets the side channel for Normal call failures and
// double settlements. Default: log at error level.
func WithExceptionsManager(m ExceptionsManager) Option {
	return func(d *Dispatcher) {
		d.exceptions = m
	}
}

// WithStateObserver sets a hook called on every state transition.
func WithStateObserver(o StateObserver) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// WithRecorder sets the sink for finished-call records.
func WithRecorder(r CallRecorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithDoubleSettlePolicy sets the double settlement policy.
// Default: Ignore.
func WithDoubleSettlePolicy(p DoubleSettlePolicy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithCapability sets the capability descriptor exposed to method bodies.
func WithCapability(c Capability) Option {
	return func(d *Dispatcher) {
		d.capability = c
	}
}

// WithClock sets the clock stamping call records.
func WithClock(c *clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithNow sets the wall clock used for call timings. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithLogger sets the dispatcher's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher creates a dispatcher over reg.
//
// native runs method bodies; runtime receives responses.
func NewDispatcher(
	reg *module.Registry,
	native, runtime invoker.CallInvoker,
	responder Responder,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		registry:  reg,
		native:    native,
		runtime:   runtime,
		responder: responder,
		codec:     codec.JSON{},
		clock:     clock.New(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.exceptions == nil {
		d.exceptions = ExceptionsFunc(func(err error) {
			d.logger.Error("native exception", "error", err)
		})
	}
	return d
}

// Registry returns the module registry.
func (d *Dispatcher) Registry() *module.Registry {
	return d.registry
}

// Capability returns the capability descriptor.
func (d *Dispatcher) Capability() Capability {
	return d.capability
}

// Codec returns the argument/result codec.
func (d *Dispatcher) Codec() codec.Codec {
	return d.codec
}

// Pending returns the number of promises not yet settled.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

// DoubleSettles returns how many extra settlements were dropped.
func (d *Dispatcher) DoubleSettles() uint64 {
	return d.doubleSettles.Load()
}

// callState tracks one call through the state machine.
type callState struct {
	id      int64
	method  module.Method
	started time.Time
	done    atomic.Bool
}

// Invoke dispatches a call.
//
// Resolution and argument errors are returned synchronously for every
// convention. For Sync methods the result (or the method's failure, as a
// NATIVE_INVOCATION_EXCEPTION) is returned. Normal and Promise methods
// return (nil, nil) once scheduled.
func (d *Dispatcher) Invoke(ctx context.Context, call Call) (ir.Value, error) {
	cs, args, err := d.prepare(call)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, cs, args)
}

// InvokeSync runs a Sync-convention call and returns its encoded result.
func (d *Dispatcher) InvokeSync(ctx context.Context, call Call) ([]byte, error) {
	cs, args, err := d.prepare(call)
	if err != nil {
		return nil, err
	}
	if cs.method.Descriptor.Convention != module.ConventionSync {
		err := NewArgumentMismatch(call.CallID, cs.method.QualifiedName(),
			fmt.Errorf("%w: %s is %s", ErrNotSync, cs.method.QualifiedName(), cs.method.Descriptor.Convention))
		d.finish(cs, StateFailed, string(err.Code))
		return nil, err
	}

	v, err := d.dispatch(ctx, cs, args)
	if err != nil {
		return nil, err
	}
	return d.codec.EncodeValue(v)
}

// prepare runs Received -> Resolved: decode, resolve, check arity.
func (d *Dispatcher) prepare(call Call) (*callState, ir.Array, error) {
	d.observe(call.CallID, StateReceived)
	started := d.now()

	if d.closed.Load() {
		err := &Error{Code: CodeModuleNotFound, Message: "bridge is closed", CallID: call.CallID, Err: module.ErrRegistryInvalidated}
		d.observe(call.CallID, StateFailed)
		return nil, nil, err
	}

	m, err := d.registry.Resolve(call.ModuleID, call.MethodID)
	if err != nil {
		be := resolveError(call.CallID, err)
		d.observe(call.CallID, StateFailed)
		d.logger.Debug("call resolution failed", "call_id", call.CallID, "module_id", call.ModuleID, "method_id", call.MethodID, "code", be.Code)
		return nil, nil, be
	}

	cs := &callState{id: call.CallID, method: m, started: started}

	args, err := d.codec.DecodeArgs(call.Args)
	if err != nil {
		be := NewArgumentMismatch(call.CallID, m.QualifiedName(), fmt.Errorf("decode arguments: %w", err))
		d.finish(cs, StateFailed, string(be.Code))
		return nil, nil, be
	}
	if err := m.Descriptor.CheckArgs(len(args)); err != nil {
		be := NewArgumentMismatch(call.CallID, m.QualifiedName(), err)
		d.finish(cs, StateFailed, string(be.Code))
		return nil, nil, be
	}

	d.observe(call.CallID, StateResolved)
	return cs, args, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, cs *callState, args ir.Array) (ir.Value, error) {
	ctx = ContextWithCapability(ctx, d.capability)

	switch cs.method.Descriptor.Convention {
	case module.ConventionSync:
		d.observe(cs.id, StateInvoking)
		v, err := safeInvoke(ctx, cs.method, args, nil)
		if err != nil {
			be := NewNativeInvocation(cs.id, cs.method.QualifiedName(), err)
			d.finish(cs, StateFailed, string(be.Code))
			return nil, be
		}
		d.finish(cs, StateCompleted, "")
		if v == nil {
			v = ir.Null{}
		}
		return v, nil

	case module.ConventionPromise:
		// The body may settle long after the caller's context is gone.
		bodyCtx := context.WithoutCancel(ctx)
		p := &promise{d: d, call: cs}
		d.pending.Add(1)
		d.native.InvokeAsync(func() {
			d.observe(cs.id, StateInvoking)
			if _, err := safeInvoke(bodyCtx, cs.method, args, p); err != nil {
				var pe *PanicError
				if errors.As(err, &pe) {
					err = NewNativeInvocation(cs.id, cs.method.QualifiedName(), err)
				}
				p.Reject(err)
			}
		})
		return nil, nil

	default:
		bodyCtx := context.WithoutCancel(ctx)
		d.native.InvokeAsync(func() {
			d.observe(cs.id, StateInvoking)
			if _, err := safeInvoke(bodyCtx, cs.method, args, nil); err != nil {
				be := NewNativeInvocation(cs.id, cs.method.QualifiedName(), err)
				d.finish(cs, StateFailed, string(be.Code))
				d.exceptions.ReportException(be)
				return
			}
			d.finish(cs, StateCompleted, "")
		})
		return nil, nil
	}
}

// safeInvoke runs a method body, converting panics into errors.
func safeInvoke(ctx context.Context, m module.Method, args ir.Array, p module.Promise) (v ir.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = &PanicError{Value: r}
		}
	}()
	return m.Invoke(ctx, args, p)
}

func (d *Dispatcher) respond(resp Response) {
	d.runtime.InvokeAsync(func() {
		d.responder.Respond(resp)
	})
}

func (d *Dispatcher) doubleSettled(cs *callState, n int) {
	d.doubleSettles.Add(1)
	d.logger.Debug("promise settled again", "call_id", cs.id, "method", cs.method.QualifiedName(), "settlements", n)
	if d.policy == Report {
		d.exceptions.ReportException(&Error{
			Code:    CodeNativeInvocation,
			Message: ErrPromiseAlreadySettled.Error(),
			CallID:  cs.id,
			Method:  cs.method.QualifiedName(),
			Err:     ErrPromiseAlreadySettled,
		})
	}
}

// finish moves a call to a terminal state exactly once and records it.
func (d *Dispatcher) finish(cs *callState, s State, code string) {
	if !cs.done.CompareAndSwap(false, true) {
		return
	}
	d.observe(cs.id, s)
	if d.recorder == nil {
		return
	}
	d.recorder.RecordCall(CallRecord{
		Seq:        d.clock.Next(),
		CallID:     cs.id,
		Module:     cs.method.ModuleName,
		Method:     cs.method.Descriptor.Name,
		Convention: cs.method.Descriptor.Convention,
		State:      s,
		Code:       code,
		Started:    cs.started,
		Duration:   d.now().Sub(cs.started),
	})
}

func (d *Dispatcher) observe(callID int64, s State) {
	if d.observer != nil {
		d.observer(callID, s)
	}
}

// Close invalidates the registry on the native invoker and waits for it.
// Calls arriving afterwards fail with MODULE_NOT_FOUND.
func (d *Dispatcher) Close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := d.native.InvokeSync(ctx, d.registry.Invalidate)
	if errors.Is(err, invoker.ErrReentrantSync) || errors.Is(err, invoker.ErrClosed) {
		d.registry.Invalidate()
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalidate modules: %w", err)
	}
	d.logger.Debug("bridge closed", "pending_promises", d.Pending())
	return nil
}
