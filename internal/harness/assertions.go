package harness

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roach88/tether/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

func (h *Harness) evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertPath:
		doc, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		return assertPath(a.Type, doc, a)
	case AssertGlobal:
		return h.assertGlobal(a)
	case AssertCallCount:
		return assertCallCount(result.Calls, a)
	case AssertCallOrder:
		return assertCallOrder(result.Calls, a)
	case AssertExceptions:
		if got := len(result.Exceptions); got != *a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d exceptions", *a.Count),
				Actual:   fmt.Sprintf("%d %v", got, result.Exceptions),
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertGlobal reads a script global. The host is closed by the time
// assertions run, so globals are captured during collect.
func (h *Harness) assertGlobal(a Assertion) error {
	v, ok := h.globals[a.Global]
	if !ok {
		return &AssertionError{Type: a.Type, Expected: "global " + a.Global, Actual: "not captured"}
	}
	doc, err := ir.Encode(v)
	if err != nil {
		return fmt.Errorf("encode global %s: %w", a.Global, err)
	}
	if a.Path == "" {
		return compare(a.Type, a.Global, gjson.ParseBytes(doc), a)
	}
	return assertPath(a.Type, doc, a)
}

func assertPath(kind string, doc []byte, a Assertion) error {
	return compare(kind, a.Path, gjson.GetBytes(doc, a.Path), a)
}

// compare checks a gjson result against Exists and Equals. Numbers compare
// by value, so 1 equals 1.0.
func compare(kind, where string, got gjson.Result, a Assertion) error {
	if a.Exists != nil && got.Exists() != *a.Exists {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s exists=%t", where, *a.Exists),
			Actual:   fmt.Sprintf("exists=%t", got.Exists()),
		}
	}
	if a.Equals == nil {
		if a.Exists == nil && !got.Exists() {
			return &AssertionError{Type: kind, Expected: where + " to exist", Actual: "missing"}
		}
		return nil
	}

	want, err := ir.FromGo(a.Equals)
	if err != nil {
		return fmt.Errorf("%s: equals: %w", kind, err)
	}
	if !got.Exists() {
		return &AssertionError{Type: kind, Expected: fmt.Sprintf("%s = %s", where, show(want)), Actual: "missing"}
	}
	actual, err := ir.Decode([]byte(got.Raw))
	if err != nil {
		return fmt.Errorf("%s: decode %s: %w", kind, where, err)
	}
	if !ir.Equal(want, actual) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s = %s", where, show(want)),
			Actual:   show(actual),
		}
	}
	return nil
}

func assertCallCount(calls []CallEvent, a Assertion) error {
	n := 0
	for _, c := range calls {
		if c.Method == a.Method {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s called %d times", a.Method, *a.Count),
			Actual:   fmt.Sprintf("%d times", n),
		}
	}
	return nil
}

// assertCallOrder checks that the first occurrences of the methods appear
// in the given order. Other calls may be interleaved.
func assertCallOrder(calls []CallEvent, a Assertion) error {
	first := make(map[string]int)
	for i, c := range calls {
		if _, seen := first[c.Method]; !seen {
			first[c.Method] = i
		}
	}

	prev := -1
	for _, m := range a.Methods {
		pos, ok := first[m]
		if !ok {
			return &AssertionError{Type: a.Type, Expected: strings.Join(a.Methods, " -> "), Actual: m + " never called"}
		}
		if pos < prev {
			order := make([]string, len(calls))
			for i, c := range calls {
				order[i] = c.Method
			}
			return &AssertionError{
				Type:     a.Type,
				Expected: strings.Join(a.Methods, " -> "),
				Actual:   strings.Join(order, " -> "),
			}
		}
		prev = pos
	}
	return nil
}
