package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/mounting"
)

// TraceSnapshot is the part of a result that is stable across runs and
// compared against golden files.
type TraceSnapshot struct {
	ScenarioName  string                            `json:"scenario_name"`
	Trace         []TraceEvent                      `json:"trace"`
	Calls         []CallEvent                       `json:"calls"`
	Summary       []MethodCount                     `json:"summary"`
	Lifecycle     []string                          `json:"lifecycle"`
	Views         map[string]*mounting.ViewSnapshot `json:"views"`
	Exceptions    []string                          `json:"exceptions"`
	Console       []string                          `json:"console"`
	DoubleSettles uint64                            `json:"double_settles"`
}

// Snapshot extracts the golden part of a result.
func Snapshot(r *Result) *TraceSnapshot {
	return &TraceSnapshot{
		ScenarioName:  r.Name,
		Trace:         r.Trace,
		Calls:         r.Calls,
		Summary:       r.Summary,
		Lifecycle:     r.Lifecycle,
		Views:         r.Views,
		Exceptions:    r.Exceptions,
		Console:       r.Console,
		DoubleSettles: r.DoubleSettles,
	}
}

// MarshalCanonical renders the snapshot as canonical JSON so golden files
// are byte-stable regardless of map iteration order.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	v, err := s.value()
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(v)
}

// Digest identifies the snapshot: two runs with equal digests produced
// byte-identical golden output.
func (s *TraceSnapshot) Digest() (string, error) {
	v, err := s.value()
	if err != nil {
		return "", err
	}
	return ir.Digest(ir.DomainTrace, v)
}

func (s *TraceSnapshot) value() (ir.Value, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	v, err := ir.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return v, nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, Snapshot(result))
}

// AssertGolden compares a snapshot against its golden file. goldie fails
// the test on mismatch; the returned error covers serialization only.
func AssertGolden(t *testing.T, name string, snapshot *TraceSnapshot) error {
	t.Helper()

	data, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
