package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/tether/internal/ir"
)

// DuplicatePolicy decides what Register does with a name that is already
// registered.
type DuplicatePolicy int

const (
	// Reject fails the registration with ErrDuplicateModule.
	Reject DuplicatePolicy = iota
	// Overwrite replaces the instance and keeps its module id.
	Overwrite
)

// String returns the config spelling of the policy.
func (p DuplicatePolicy) String() string {
	if p == Overwrite {
		return "overwrite"
	}
	return "reject"
}

// ParseDuplicatePolicy parses "reject" or "overwrite".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "reject", "":
		return Reject, nil
	case "overwrite":
		return Overwrite, nil
	default:
		return 0, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

var (
	// ErrDuplicateModule is returned by Register under the Reject policy.
	ErrDuplicateModule = errors.New("module already registered")

	// ErrModuleNotFound is returned when a module id or name is unknown.
	ErrModuleNotFound = errors.New("module not found")

	// ErrMethodNotFound is returned when a method id or name is unknown.
	ErrMethodNotFound = errors.New("method not found")

	// ErrInvalidModule is returned when a module's descriptors are malformed.
	ErrInvalidModule = errors.New("invalid module")

	// ErrRegistryInvalidated is returned after Invalidate.
	ErrRegistryInvalidated = errors.New("registry invalidated")
)

// Method is a resolved method: its ids, descriptor and owning module.
type Method struct {
	ModuleID   int
	MethodID   int
	ModuleName string
	Descriptor MethodDescriptor

	module NativeModule
}

// Invoke runs the method body on the calling goroutine.
func (m Method) Invoke(ctx context.Context, args ir.Array, p Promise) (ir.Value, error) {
	return m.module.Invoke(ctx, m.Descriptor.Name, args, p)
}

// QualifiedName returns "Module.method".
func (m Method) QualifiedName() string {
	return m.ModuleName + "." + m.Descriptor.Name
}

// Config is one row of the stub table handed to the script side.
type Config struct {
	ID        int                `json:"id"`
	Name      string             `json:"name"`
	Methods   []MethodDescriptor `json:"methods"`
	Constants ir.Object          `json:"constants"`
}

type entry struct {
	id      int
	module  NativeModule
	methods []MethodDescriptor
}

// Registry owns the native modules of one bridge instance.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	policy DuplicatePolicy
	logger *slog.Logger

	mu          sync.RWMutex
	entries     []*entry // registration order; index == module id
	byName      map[string]*entry
	invalidated bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDuplicatePolicy sets the duplicate registration policy.
// Default: Reject.
func WithDuplicatePolicy(p DuplicatePolicy) RegistryOption {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithLogger sets the registry's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		policy: Reject,
		logger: slog.Default(),
		byName: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the duplicate registration policy.
func (r *Registry) Policy() DuplicatePolicy {
	return r.policy
}

// Register adds a module and returns its id.
//
// The method list is copied at registration, so later changes to what the
// module returns from Methods() do not affect resolution.
func (r *Registry) Register(m NativeModule) (int, error) {
	name := m.Name()
	methods := slices.Clone(m.Methods())
	if err := validateDescriptors(name, methods); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.invalidated {
		return 0, ErrRegistryInvalidated
	}

	if existing, ok := r.byName[name]; ok {
		if r.policy == Reject {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateModule, name)
		}
		existing.module = m
		existing.methods = methods
		r.logger.Debug("module overwritten", "module", name, "id", existing.id)
		return existing.id, nil
	}

	e := &entry{
		id:      len(r.entries),
		module:  m,
		methods: methods,
	}
	r.entries = append(r.entries, e)
	r.byName[name] = e

	r.logger.Debug("module registered", "module", name, "id", e.id, "methods", len(methods))
	return e.id, nil
}

// MustRegister is Register for setup code; it panics on error.
func (r *Registry) MustRegister(m NativeModule) int {
	id, err := r.Register(m)
	if err != nil {
		panic(err)
	}
	return id
}

// MethodsFor returns the ordered descriptors of the named module.
// The returned slice is a copy.
func (r *Registry) MethodsFor(name string) ([]MethodDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return slices.Clone(e.methods), nil
}

// Resolve maps serialized ids to a method.
func (r *Registry) Resolve(moduleID, methodID int) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if moduleID < 0 || moduleID >= len(r.entries) {
		return Method{}, fmt.Errorf("%w: id %d", ErrModuleNotFound, moduleID)
	}
	e := r.entries[moduleID]
	if methodID < 0 || methodID >= len(e.methods) {
		return Method{}, fmt.Errorf("%w: %s method id %d", ErrMethodNotFound, e.module.Name(), methodID)
	}
	return Method{
		ModuleID:   e.id,
		MethodID:   methodID,
		ModuleName: e.module.Name(),
		Descriptor: e.methods[methodID],
		module:     e.module,
	}, nil
}

// ResolveName maps a module name and method name to a method.
func (r *Registry) ResolveName(moduleName, methodName string) (Method, error) {
	r.mu.RLock()
	e, ok := r.byName[moduleName]
	r.mu.RUnlock()
	if !ok {
		return Method{}, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleName)
	}

	idx := slices.IndexFunc(e.methods, func(d MethodDescriptor) bool { return d.Name == methodName })
	if idx < 0 {
		return Method{}, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, moduleName, methodName)
	}
	return r.Resolve(e.id, idx)
}

// ModuleID returns the id of the named module.
func (r *Registry) ModuleID(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return e.id, true
}

// Lookup returns the named module instance.
func (r *Registry) Lookup(name string) (NativeModule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.module, true
}

// Names returns module names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.module.Name()
	}
	return names
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Config returns the stub table: one row per module in id order.
func (r *Registry) Config() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, len(r.entries))
	for i, e := range r.entries {
		constants := e.module.Constants()
		if constants == nil {
			constants = ir.Object{}
		}
		out[i] = Config{
			ID:        e.id,
			Name:      e.module.Name(),
			Methods:   slices.Clone(e.methods),
			Constants: constants,
		}
	}
	return out
}

// Invalidate tears the registry down. Modules implementing Invalidator are
// invalidated in reverse registration order. Afterwards the registry is
// empty and Register returns ErrRegistryInvalidated. Calling it twice is a
// no-op.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	if r.invalidated {
		r.mu.Unlock()
		return
	}
	r.invalidated = true
	entries := r.entries
	r.entries = nil
	r.byName = make(map[string]*entry)
	r.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		inv, ok := entries[i].module.(Invalidator)
		if !ok {
			continue
		}
		r.invalidate(entries[i].module.Name(), inv)
	}
	r.logger.Debug("registry invalidated", "modules", len(entries))
}

func (r *Registry) invalidate(name string, inv Invalidator) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("module invalidation panicked", "module", name, "panic", rec)
		}
	}()
	inv.Invalidate()
}

// Invalidated reports whether Invalidate has been called.
func (r *Registry) Invalidated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.invalidated
}
