package harness

import (
	"fmt"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/mounting"
)

// Step kinds recorded in the trace.
const (
	KindCall   = "call"
	KindScript = "script"
	KindMount  = "mount"
	KindEvent  = "event"
	KindFlush  = "flush"
	KindStop   = "stop_surface"
)

// TraceEvent is the outcome of one scenario step.
type TraceEvent struct {
	Step int    `json:"step"`
	Kind string `json:"kind"`

	// Call and script steps.
	Method  string            `json:"method,omitempty"`
	Args    ir.Value          `json:"args,omitempty"`
	Result  ir.Value          `json:"result,omitempty"`
	Error   *bridge.CallError `json:"error,omitempty"`
	Pending bool              `json:"pending,omitempty"`

	// Mount, event and stop steps.
	Surface   int64    `json:"surface,omitempty"`
	Seq       int64    `json:"seq,omitempty"`
	Mutations []string `json:"mutations,omitempty"`
	Failure   string   `json:"failure,omitempty"`
	Tag       int64    `json:"tag,omitempty"`
	Type      string   `json:"type,omitempty"`
	Delivered *bool    `json:"delivered,omitempty"`
}

// CallEvent is a finished bridge call as seen by the call recorders.
type CallEvent struct {
	CallID     int64  `json:"call_id"`
	Method     string `json:"method"`
	Convention string `json:"convention"`
	State      string `json:"state"`
	Code       string `json:"code,omitempty"`
}

// MethodCount is the per-method aggregate read back from the store.
type MethodCount struct {
	Method   string `json:"method"`
	Calls    int    `json:"calls"`
	Failures int    `json:"failures"`
}

// Result is the outcome of running a scenario.
type Result struct {
	Name          string                            `json:"name"`
	Pass          bool                              `json:"pass"`
	Trace         []TraceEvent                      `json:"trace"`
	Calls         []CallEvent                       `json:"calls"`
	Summary       []MethodCount                     `json:"summary"`
	Lifecycle     []string                          `json:"lifecycle"`
	Views         map[string]*mounting.ViewSnapshot `json:"views"`
	Exceptions    []string                          `json:"exceptions"`
	Console       []string                          `json:"console"`
	DoubleSettles uint64                            `json:"double_settles"`
	Errors        []string                          `json:"errors,omitempty"`
}

// NewResult creates a passing result with empty collections.
func NewResult(name string) *Result {
	return &Result{
		Name:       name,
		Pass:       true,
		Trace:      []TraceEvent{},
		Calls:      []CallEvent{},
		Summary:    []MethodCount{},
		Lifecycle:  []string{},
		Views:      map[string]*mounting.ViewSnapshot{},
		Exceptions: []string{},
		Console:    []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
