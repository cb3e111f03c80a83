// Package jsruntime hosts a goja script engine on the runtime loop and
// connects it to the bridge: `nativeModules` exposes the stub table,
// promise responses settle script promises and view events reach the
// script through `__dispatchEvent`.
package jsruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/events"
	"github.com/roach88/tether/internal/invoker"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/module"
)

// Global names installed into the script environment.
const (
	GlobalModules   = "nativeModules"
	GlobalEvents    = "__dispatchEvent"
	GlobalException = "__onNativeException"
)

var (
	// ErrPending is returned by Global for an unsettled promise.
	ErrPending = errors.New("promise is still pending")

	// ErrNotBound is returned when the runtime has no dispatcher.
	ErrNotBound = errors.New("runtime is not bound to a bridge")
)

// Invoker is the runtime loop.
type Invoker interface {
	invoker.CallInvoker
	IsCurrent() bool
}

// Rejection is a promise rejected on the script side.
type Rejection struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Code == "" {
		return "promise rejected: " + r.Message
	}
	return fmt.Sprintf("promise rejected: %s: %s", r.Code, r.Message)
}

type settler struct {
	resolve func(any)
	reject  func(any)
}

// Runtime is a script engine bound to one bridge. The goja VM is only
// touched on the runtime loop.
type Runtime struct {
	loop   Invoker
	logger *slog.Logger

	vm         *goja.Runtime
	flush      *goja.Program
	dispatcher *bridge.Dispatcher
	callCtx    context.Context
	nextCallID int64
	pending    map[int64]settler

	mu         sync.Mutex
	console    []string
	exceptions []string
}

var (
	_ bridge.Responder         = (*Runtime)(nil)
	_ bridge.ExceptionsManager = (*Runtime)(nil)
	_ events.Listener          = (*Runtime)(nil)
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for console output and dropped
// deliveries. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// New creates a runtime that runs on loop. Bind it to a dispatcher
// before evaluating scripts that touch nativeModules.
func New(loop Invoker, opts ...Option) *Runtime {
	r := &Runtime{
		loop:    loop,
		logger:  slog.Default(),
		vm:      goja.New(),
		flush:   goja.MustCompile("flush", "", false),
		callCtx: context.Background(),
		pending: make(map[int64]settler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.installConsole()
	return r
}

// onLoop runs fn on the runtime loop and waits for it.
func (r *Runtime) onLoop(ctx context.Context, fn func() error) error {
	if r.loop.IsCurrent() {
		return fn()
	}
	var err error
	if invErr := r.loop.InvokeSync(ctx, func() { err = fn() }); invErr != nil {
		return invErr
	}
	return err
}

// Bind installs nativeModules for every module registered with d.
// Method calls made by scripts run with ctx.
func (r *Runtime) Bind(ctx context.Context, d *bridge.Dispatcher) error {
	return r.onLoop(ctx, func() error {
		r.dispatcher = d
		r.callCtx = context.WithoutCancel(ctx)

		table := r.vm.NewObject()
		for _, cfg := range d.Registry().Config() {
			obj, err := r.moduleObject(cfg)
			if err != nil {
				return fmt.Errorf("install %s: %w", cfg.Name, err)
			}
			if err := table.Set(cfg.Name, obj); err != nil {
				return err
			}
		}
		return r.vm.Set(GlobalModules, table)
	})
}

func (r *Runtime) moduleObject(cfg module.Config) (*goja.Object, error) {
	obj := r.vm.NewObject()
	for _, k := range cfg.Constants.SortedKeys() {
		if err := obj.Set(k, r.toJS(cfg.Constants[k])); err != nil {
			return nil, err
		}
	}
	for methodID, desc := range cfg.Methods {
		if err := obj.Set(desc.Name, r.methodFunc(cfg.ID, methodID, desc)); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// methodFunc builds the script-side stub of one method.
func (r *Runtime) methodFunc(moduleID, methodID int, desc module.MethodDescriptor) func(goja.FunctionCall) goja.Value {
	return func(fc goja.FunctionCall) goja.Value {
		args := make(ir.Array, len(fc.Arguments))
		for i, a := range fc.Arguments {
			v, err := toIR(a)
			if err != nil {
				panic(r.vm.NewTypeError("argument %d of %s: %v", i, desc.Name, err))
			}
			args[i] = v
		}
		data, err := r.dispatcher.Codec().EncodeArgs(args)
		if err != nil {
			panic(r.vm.NewTypeError("%s: %v", desc.Name, err))
		}

		r.nextCallID++
		call := bridge.Call{ModuleID: moduleID, MethodID: methodID, Args: data, CallID: r.nextCallID}

		switch desc.Convention {
		case module.ConventionSync:
			out, err := r.dispatcher.InvokeSync(r.callCtx, call)
			if err != nil {
				panic(r.errorObject(bridge.ToCallError(err)))
			}
			v, err := r.dispatcher.Codec().DecodeValue(out)
			if err != nil {
				panic(r.vm.NewTypeError("%s: %v", desc.Name, err))
			}
			return r.toJS(v)

		case module.ConventionPromise:
			p, resolve, reject := r.vm.NewPromise()
			if _, err := r.dispatcher.Invoke(r.callCtx, call); err != nil {
				reject(r.errorObject(bridge.ToCallError(err)))
				return r.vm.ToValue(p)
			}
			r.pending[call.CallID] = settler{resolve: resolve, reject: reject}
			return r.vm.ToValue(p)

		default:
			if _, err := r.dispatcher.Invoke(r.callCtx, call); err != nil {
				panic(r.errorObject(bridge.ToCallError(err)))
			}
			return goja.Undefined()
		}
	}
}

// Respond implements bridge.Responder.
func (r *Runtime) Respond(resp bridge.Response) {
	if !r.loop.IsCurrent() {
		r.loop.InvokeAsync(func() { r.Respond(resp) })
		return
	}
	s, ok := r.pending[resp.CallID]
	if !ok {
		r.logger.Warn("response for unknown call", "call_id", resp.CallID)
		return
	}
	delete(r.pending, resp.CallID)
	if resp.OK() {
		s.resolve(r.toJS(resp.Result))
	} else {
		s.reject(r.errorObject(resp.Error))
	}
	r.runJobs()
}

// OnEvent implements events.Listener.
func (r *Runtime) OnEvent(ev events.Event) {
	if !r.loop.IsCurrent() {
		r.loop.InvokeAsync(func() { r.OnEvent(ev) })
		return
	}
	fn, ok := goja.AssertFunction(r.vm.Get(GlobalEvents))
	if !ok {
		r.logger.Debug("event dropped: no handler", "type", ev.Type, "tag", ev.Tag)
		return
	}
	obj := r.vm.NewObject()
	_ = obj.Set("seq", ev.Seq)
	_ = obj.Set("surface", int64(ev.Surface))
	_ = obj.Set("tag", int64(ev.Tag))
	_ = obj.Set("type", ev.Type)
	_ = obj.Set("payload", r.toJS(ev.Payload))
	if _, err := fn(goja.Undefined(), obj); err != nil {
		r.logger.Error("event handler failed", "type", ev.Type, "tag", ev.Tag, "error", err)
	}
}

// ReportException implements bridge.ExceptionsManager. Failures of
// Normal methods are recorded and passed to __onNativeException when
// the script defines it.
func (r *Runtime) ReportException(err error) {
	r.mu.Lock()
	r.exceptions = append(r.exceptions, err.Error())
	r.mu.Unlock()

	r.loop.InvokeAsync(func() {
		fn, ok := goja.AssertFunction(r.vm.Get(GlobalException))
		if !ok {
			r.logger.Warn("native exception", "error", err)
			return
		}
		if _, callErr := fn(goja.Undefined(), r.errorObject(bridge.ToCallError(err))); callErr != nil {
			r.logger.Error("exception handler failed", "error", callErr)
		}
	})
}

// Eval runs src on the runtime loop and returns its completion value.
// Completion values with no ir form (functions, promises, objects holding
// them) come back as null.
func (r *Runtime) Eval(ctx context.Context, name, src string) (ir.Value, error) {
	var out ir.Value
	err := r.onLoop(ctx, func() error {
		v, err := r.vm.RunScript(name, src)
		if err != nil {
			return fmt.Errorf("script error: %w", err)
		}
		if out, err = toIR(v); err != nil {
			r.logger.Debug("completion value dropped", "script", name, "error", err)
			out = ir.Null{}
		}
		return nil
	})
	return out, err
}

// Global reads a global variable. A settled promise yields its value or
// a *Rejection; a pending one yields ErrPending.
func (r *Runtime) Global(ctx context.Context, name string) (ir.Value, error) {
	var out ir.Value
	err := r.onLoop(ctx, func() error {
		v := r.vm.Get(name)
		if p, ok := exportPromise(v); ok {
			switch p.State() {
			case goja.PromiseStatePending:
				return ErrPending
			case goja.PromiseStateRejected:
				return r.rejection(p.Result())
			}
			v = p.Result()
		}
		var err error
		out, err = toIR(v)
		return err
	})
	return out, err
}

// Pending returns the number of unsettled script promises.
func (r *Runtime) Pending(ctx context.Context) (int, error) {
	var n int
	err := r.onLoop(ctx, func() error {
		n = len(r.pending)
		return nil
	})
	return n, err
}

// Console returns the lines written through console.*.
func (r *Runtime) Console() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.console...)
}

// Exceptions returns the reported native exceptions.
func (r *Runtime) Exceptions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.exceptions...)
}

// Interrupt aborts the running script. Safe from any goroutine.
func (r *Runtime) Interrupt(reason string) {
	r.vm.Interrupt(reason)
}

func (r *Runtime) installConsole() {
	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		level := level
		_ = console.Set(level, func(fc goja.FunctionCall) goja.Value {
			parts := make([]string, len(fc.Arguments))
			for i, a := range fc.Arguments {
				parts[i] = a.String()
			}
			line := strings.Join(parts, " ")
			r.mu.Lock()
			r.console = append(r.console, line)
			r.mu.Unlock()
			r.logger.Debug("console", "level", level, "line", line)
			return goja.Undefined()
		})
	}
	_ = r.vm.Set("console", console)
}

// runJobs drains promise reactions queued by a settlement made from Go.
func (r *Runtime) runJobs() {
	if _, err := r.vm.RunProgram(r.flush); err != nil {
		r.logger.Error("promise job failed", "error", err)
	}
}

func (r *Runtime) errorObject(ce *bridge.CallError) goja.Value {
	obj, err := r.vm.New(r.vm.Get("Error"), r.vm.ToValue(ce.Message))
	if err != nil {
		return r.vm.ToValue(ce.Message)
	}
	_ = obj.Set("code", ce.Code)
	return obj
}

func (r *Runtime) rejection(reason goja.Value) error {
	rej := &Rejection{}
	if obj, ok := reason.(*goja.Object); ok {
		if code := obj.Get("code"); code != nil && !goja.IsUndefined(code) {
			rej.Code = code.String()
		}
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			rej.Message = msg.String()
			return rej
		}
	}
	if reason != nil {
		rej.Message = reason.String()
	}
	return rej
}

func (r *Runtime) toJS(v ir.Value) goja.Value {
	if ir.IsNull(v) {
		return goja.Null()
	}
	return r.vm.ToValue(ir.ToGo(v))
}

func exportPromise(v goja.Value) (*goja.Promise, bool) {
	if v == nil {
		return nil, false
	}
	p, ok := v.Export().(*goja.Promise)
	return p, ok
}

func toIR(v goja.Value) (ir.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ir.Null{}, nil
	}
	if _, ok := exportPromise(v); ok {
		return nil, errors.New("cannot convert a promise")
	}
	return ir.FromGo(v.Export())
}
