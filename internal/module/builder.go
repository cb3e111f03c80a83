package module

import (
	"context"
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// Func is the body of a Normal or Sync method.
type Func func(ctx context.Context, args ir.Array) (ir.Value, error)

// PromiseFunc is the body of a Promise method. It must eventually call
// p.Resolve or p.Reject, possibly from another goroutine. A returned
// error rejects p.
type PromiseFunc func(ctx context.Context, args ir.Array, p Promise) error

// MethodOption configures a method added through a Builder.
type MethodOption func(*MethodDescriptor)

// WithOptional marks the last n of the method's arity arguments as
// optional, so Normal("log", 2, fn, WithOptional(1)) accepts 1 or 2.
func WithOptional(n int) MethodOption {
	return func(d *MethodDescriptor) {
		d.Optional = n
	}
}

type builtMethod struct {
	desc    MethodDescriptor
	fn      Func
	promise PromiseFunc
}

// Builder assembles a NativeModule from Go funcs.
//
//	counter := module.NewBuilder("Counter").
//		Constant("initial", ir.Int(0)).
//		Promise("increment", 0, incr).
//		MustBuild()
type Builder struct {
	name         string
	methods      []builtMethod
	constants    ir.Object
	onInvalidate func()
	err          error
}

// NewBuilder starts a module definition.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, constants: ir.Object{}}
}

// Normal adds a fire-and-forget method.
func (b *Builder) Normal(name string, arity int, fn Func, opts ...MethodOption) *Builder {
	return b.add(MethodDescriptor{Name: name, Convention: ConventionNormal, Arity: arity}, fn, nil, opts)
}

// Sync adds a method that returns its value to the caller directly.
func (b *Builder) Sync(name string, arity int, fn Func, opts ...MethodOption) *Builder {
	return b.add(MethodDescriptor{Name: name, Convention: ConventionSync, Arity: arity}, fn, nil, opts)
}

// Promise adds a method settled through a resolve/reject pair.
func (b *Builder) Promise(name string, arity int, fn PromiseFunc, opts ...MethodOption) *Builder {
	return b.add(MethodDescriptor{Name: name, Convention: ConventionPromise, Arity: arity}, nil, fn, opts)
}

// Constant exports a value in the stub table.
func (b *Builder) Constant(key string, v ir.Value) *Builder {
	b.constants[key] = v
	return b
}

// OnInvalidate registers a teardown hook run when the registry is
// invalidated.
func (b *Builder) OnInvalidate(fn func()) *Builder {
	b.onInvalidate = fn
	return b
}

func (b *Builder) add(desc MethodDescriptor, fn Func, pfn PromiseFunc, opts []MethodOption) *Builder {
	for _, opt := range opts {
		opt(&desc)
	}
	if fn == nil && pfn == nil && b.err == nil {
		b.err = fmt.Errorf("%w: %s.%s has no body", ErrInvalidModule, b.name, desc.Name)
	}
	b.methods = append(b.methods, builtMethod{desc: desc, fn: fn, promise: pfn})
	return b
}

// Build validates the definition and returns the module.
func (b *Builder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	descs := make([]MethodDescriptor, len(b.methods))
	index := make(map[string]builtMethod, len(b.methods))
	for i, m := range b.methods {
		descs[i] = m.desc
		index[m.desc.Name] = m
	}
	if err := validateDescriptors(b.name, descs); err != nil {
		return nil, err
	}
	return &Definition{
		name:         b.name,
		descs:        descs,
		index:        index,
		constants:    b.constants,
		onInvalidate: b.onInvalidate,
	}, nil
}

// MustBuild is Build for setup code; it panics on error.
func (b *Builder) MustBuild() *Definition {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

// Definition is a NativeModule produced by a Builder.
type Definition struct {
	name         string
	descs        []MethodDescriptor
	index        map[string]builtMethod
	constants    ir.Object
	onInvalidate func()
}

// Name implements NativeModule.
func (d *Definition) Name() string { return d.name }

// Methods implements NativeModule.
func (d *Definition) Methods() []MethodDescriptor { return d.descs }

// Constants implements NativeModule.
func (d *Definition) Constants() ir.Object { return d.constants }

// Invoke implements NativeModule.
func (d *Definition) Invoke(ctx context.Context, method string, args ir.Array, p Promise) (ir.Value, error) {
	m, ok := d.index[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, d.name, method)
	}
	if m.promise != nil {
		if p == nil {
			return nil, fmt.Errorf("%s.%s: promise method invoked without a promise", d.name, method)
		}
		return nil, m.promise(ctx, args, p)
	}
	return m.fn(ctx, args)
}

// Invalidate implements Invalidator.
func (d *Definition) Invalidate() {
	if d.onInvalidate != nil {
		d.onInvalidate()
	}
}
