package bridge

import (
	"time"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/module"
)

// Call is a serialized invocation arriving from the script side.
type Call struct {
	ModuleID int    `json:"module_id"`
	MethodID int    `json:"method_id"`
	Args     []byte `json:"args"`
	CallID   int64  `json:"call_id"`
}

// CallError is the wire form of a failure.
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response settles a Promise call. Exactly one of Result or Error is set.
type Response struct {
	CallID int64      `json:"call_id"`
	Result ir.Value   `json:"result,omitempty"`
	Error  *CallError `json:"error,omitempty"`
}

// OK reports whether the response is a resolution.
func (r Response) OK() bool {
	return r.Error == nil
}

// Responder receives promise settlements on the runtime loop.
type Responder interface {
	Respond(Response)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(Response)

// Respond implements Responder.
func (f ResponderFunc) Respond(r Response) { f(r) }

// ExceptionsManager is the side channel for failures nobody awaits.
type ExceptionsManager interface {
	ReportException(err error)
}

// ExceptionsFunc adapts a function to ExceptionsManager.
type ExceptionsFunc func(error)

// ReportException implements ExceptionsManager.
func (f ExceptionsFunc) ReportException(err error) { f(err) }

// State is a call's position in the dispatch state machine.
type State int

const (
	StateReceived State = iota
	StateResolved
	StateInvoking
	StateCompleted
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateResolved:
		return "resolved"
	case StateInvoking:
		return "invoking"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the call.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StateObserver is notified on every state transition. It may be called
// from any goroutine and must not block.
type StateObserver func(callID int64, s State)

// CallRecord summarises a finished call for telemetry and diagnostics.
type CallRecord struct {
	Seq        int64
	CallID     int64
	Module     string
	Method     string
	Convention module.Convention
	State      State
	Code       string
	Started    time.Time
	Duration   time.Duration
}

// CallRecorder receives one record per call that reached a terminal state.
type CallRecorder interface {
	RecordCall(CallRecord)
}

// Recorders fans a record out to several recorders.
type Recorders []CallRecorder

// RecordCall implements CallRecorder.
func (rs Recorders) RecordCall(rec CallRecord) {
	for _, r := range rs {
		r.RecordCall(rec)
	}
}
