package module

import (
	"context"
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// Convention is the calling pattern of a native method.
type Convention int

const (
	// Normal methods are fire-and-forget. Failures go to the exceptions
	// manager and never reach the caller.
	ConventionNormal Convention = iota
	// Promise methods settle an implicit resolve/reject pair.
	ConventionPromise
	// Sync methods run on the calling goroutine and return a value.
	ConventionSync
)

// String returns the manifest spelling of the convention.
func (c Convention) String() string {
	switch c {
	case ConventionNormal:
		return "normal"
	case ConventionPromise:
		return "promise"
	case ConventionSync:
		return "sync"
	default:
		return fmt.Sprintf("convention(%d)", int(c))
	}
}

// ParseConvention parses "normal", "promise" or "sync".
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "normal", "":
		return ConventionNormal, nil
	case "promise":
		return ConventionPromise, nil
	case "sync":
		return ConventionSync, nil
	default:
		return 0, fmt.Errorf("unknown call convention %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Convention) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Convention) UnmarshalText(text []byte) error {
	parsed, err := ParseConvention(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MethodDescriptor describes one exported method. Immutable once registered.
type MethodDescriptor struct {
	Name       string     `json:"name"`
	Convention Convention `json:"convention"`

	// Arity is the maximum number of arguments.
	Arity int `json:"arity"`

	// Optional is how many trailing arguments of Arity may be omitted.
	Optional int `json:"optional,omitempty"`
}

// Required is the minimum number of arguments.
func (d MethodDescriptor) Required() int {
	return d.Arity - d.Optional
}

// ArgumentCountError reports a call whose argument count does not fit the
// method's arity.
type ArgumentCountError struct {
	Method   string
	Received int
	Required int
	Expected int
}

func (e *ArgumentCountError) Error() string {
	if e.Required == e.Expected {
		return fmt.Sprintf("%s: received %d arguments, but %d was expected", e.Method, e.Received, e.Expected)
	}
	return fmt.Sprintf("%s: received %d arguments, but between %d and %d were expected",
		e.Method, e.Received, e.Required, e.Expected)
}

// CheckArgs validates the number of arguments received for a call.
// Trailing optional arguments may be omitted; more than Arity is rejected.
func (d MethodDescriptor) CheckArgs(received int) error {
	if received < d.Required() || received > d.Arity {
		return &ArgumentCountError{
			Method:   d.Name,
			Received: received,
			Required: d.Required(),
			Expected: d.Arity,
		}
	}
	return nil
}

// Promise is the implicit resolve/reject pair handed to Promise methods.
// Implementations guard against double settlement.
type Promise interface {
	Resolve(v ir.Value)
	Reject(err error)
}

// NativeModule is implemented by every module exposed to the script side.
type NativeModule interface {
	// Name is the module's registry key.
	Name() string

	// Methods returns the exported methods in stub-table order.
	Methods() []MethodDescriptor

	// Constants are exported once, at stub-table generation.
	Constants() ir.Object

	// Invoke runs the named method. For Promise methods p is non-nil and
	// the returned value is ignored; a returned error rejects p. For
	// Normal and Sync methods p is nil.
	Invoke(ctx context.Context, method string, args ir.Array, p Promise) (ir.Value, error)
}

// Invalidator is implemented by modules that release resources when the
// owning bridge is torn down.
type Invalidator interface {
	Invalidate()
}

func validateDescriptors(name string, methods []MethodDescriptor) error {
	if name == "" {
		return fmt.Errorf("%w: empty module name", ErrInvalidModule)
	}
	seen := make(map[string]bool, len(methods))
	for i, m := range methods {
		switch {
		case m.Name == "":
			return fmt.Errorf("%w: %s: method %d has no name", ErrInvalidModule, name, i)
		case seen[m.Name]:
			return fmt.Errorf("%w: %s: duplicate method %q", ErrInvalidModule, name, m.Name)
		case m.Convention < ConventionNormal || m.Convention > ConventionSync:
			return fmt.Errorf("%w: %s.%s: invalid convention %d", ErrInvalidModule, name, m.Name, int(m.Convention))
		case m.Arity < 0 || m.Optional < 0:
			return fmt.Errorf("%w: %s.%s: negative arity", ErrInvalidModule, name, m.Name)
		case m.Optional > m.Arity:
			return fmt.Errorf("%w: %s.%s: optional %d exceeds arity %d", ErrInvalidModule, name, m.Name, m.Optional, m.Arity)
		}
		seen[m.Name] = true
	}
	return nil
}
