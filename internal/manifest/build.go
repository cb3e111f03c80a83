package manifest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/module"
)

// counters is the mutable state shared by a module's methods.
type counters struct {
	mu     sync.Mutex
	values map[string]int64
}

func (c *counters) add(key string, delta int64, limit *int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.values[key] + delta
	if limit != nil && next > *limit {
		return c.values[key], bridge.Reject("E_LIMIT", fmt.Sprintf("%s would exceed %d", key, *limit))
	}
	c.values[key] = next
	return next, nil
}

func (c *counters) get(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

// Build turns a spec into a registrable module. Every call to Build gets
// fresh counter state.
func (s ModuleSpec) Build() (*module.Definition, error) {
	state := &counters{values: map[string]int64{}}
	b := module.NewBuilder(s.Name)
	for _, k := range s.Constants.SortedKeys() {
		b.Constant(k, s.Constants[k])
	}
	b.OnInvalidate(func() {
		state.mu.Lock()
		clear(state.values)
		state.mu.Unlock()
	})

	for _, m := range s.Methods {
		opts := []module.MethodOption{module.WithOptional(m.Optional)}
		switch m.Convention {
		case module.ConventionPromise:
			b.Promise(m.Name, m.Arity, promiseBody(m, state), opts...)
		case module.ConventionSync:
			b.Sync(m.Name, m.Arity, body(m, state), opts...)
		default:
			b.Normal(m.Name, m.Arity, body(m, state), opts...)
		}
	}
	return b.Build()
}

// BuildAll builds every spec in order.
func BuildAll(specs []ModuleSpec) ([]*module.Definition, error) {
	defs := make([]*module.Definition, 0, len(specs))
	for _, s := range specs {
		d, err := s.Build()
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", s.Name, err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// body evaluates a behavior for Normal and Sync methods.
func body(m MethodSpec, state *counters) module.Func {
	return func(_ context.Context, args ir.Array) (ir.Value, error) {
		return evaluate(m, state, args)
	}
}

func promiseBody(m MethodSpec, state *counters) module.PromiseFunc {
	return func(_ context.Context, args ir.Array, p module.Promise) error {
		settle := func() {
			if m.Behavior == BehaviorSettleTwice {
				p.Resolve(valueOrNull(m.Value))
				p.Resolve(valueOrNull(m.Value))
				return
			}
			v, err := evaluate(m, state, args)
			if err != nil {
				p.Reject(err)
				return
			}
			p.Resolve(v)
		}
		if m.Delay > 0 {
			time.AfterFunc(m.Delay, settle)
			return nil
		}
		settle()
		return nil
	}
}

func evaluate(m MethodSpec, state *counters, args ir.Array) (ir.Value, error) {
	switch m.Behavior {
	case BehaviorEcho:
		if len(args) == 0 {
			return ir.Null{}, nil
		}
		return args[0], nil
	case BehaviorIncrement:
		delta := int64(1)
		if len(args) > 0 && !ir.IsNull(args[0]) {
			n, ok := args[0].(ir.Int)
			if !ok {
				return nil, bridge.Reject("E_ARG_TYPE", fmt.Sprintf("%s expects an int, got %s", m.Name, ir.Kind(args[0])))
			}
			delta = int64(n)
		}
		next, err := state.add(m.counterKey(), delta, m.Limit)
		if err != nil {
			return nil, err
		}
		return ir.Int(next), nil
	case BehaviorRead:
		return ir.Int(state.get(m.counterKey())), nil
	case BehaviorReject:
		return nil, bridge.Reject(m.Code, m.Message)
	case BehaviorPanic:
		panic(m.Message)
	default:
		return valueOrNull(m.Value), nil
	}
}

func valueOrNull(v ir.Value) ir.Value {
	if v == nil {
		return ir.Null{}
	}
	return v
}
