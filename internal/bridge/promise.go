package bridge

import (
	"fmt"
	"sync"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/module"
)

// DoubleSettlePolicy decides what happens when a promise is settled twice.
type DoubleSettlePolicy int

const (
	// Ignore drops the second settlement and counts it.
	Ignore DoubleSettlePolicy = iota
	// Report drops the second settlement and reports
	// ErrPromiseAlreadySettled to the ExceptionsManager.
	Report
)

// String returns the config spelling of the policy.
func (p DoubleSettlePolicy) String() string {
	if p == Report {
		return "report"
	}
	return "ignore"
}

// ParseDoubleSettlePolicy parses "ignore" or "report".
func ParseDoubleSettlePolicy(s string) (DoubleSettlePolicy, error) {
	switch s {
	case "ignore", "":
		return Ignore, nil
	case "report":
		return Report, nil
	default:
		return 0, fmt.Errorf("unknown double settle policy %q", s)
	}
}

// promise is the resolve/reject pair of one Promise call. The first
// settlement wins; the dispatcher's policy handles the rest.
type promise struct {
	d    *Dispatcher
	call *callState

	mu      sync.Mutex
	settled int
}

var _ module.Promise = (*promise)(nil)

func (p *promise) Resolve(v ir.Value) {
	if v == nil {
		v = ir.Null{}
	}
	p.complete(Response{CallID: p.call.id, Result: v}, nil)
}

func (p *promise) Reject(err error) {
	if err == nil {
		err = Reject(RejectionUnknown, "rejected without an error")
	}
	p.complete(Response{CallID: p.call.id, Error: ToCallError(err)}, err)
}

func (p *promise) complete(resp Response, cause error) {
	p.mu.Lock()
	p.settled++
	n := p.settled
	p.mu.Unlock()

	if n > 1 {
		p.d.doubleSettled(p.call, n)
		return
	}

	p.d.pending.Add(-1)
	if cause != nil {
		p.d.finish(p.call, StateFailed, resp.Error.Code)
	} else {
		p.d.finish(p.call, StateCompleted, "")
	}
	p.d.respond(resp)
}
