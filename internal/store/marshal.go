package store

import (
	"fmt"
	"time"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/shadow"
)

// marshalFeatures stores capability features as canonical JSON TEXT.
func marshalFeatures(features []string) (string, error) {
	arr := make(ir.Array, len(features))
	for i, f := range features {
		arr[i] = ir.String(f)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal features: %w", err)
	}
	return string(data), nil
}

func unmarshalFeatures(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var arr ir.Array
	if err := arr.UnmarshalJSON([]byte(data)); err != nil {
		return nil, fmt.Errorf("unmarshal features: %w", err)
	}
	out := make([]string, 0, len(arr))
	for i, v := range arr {
		s, ok := v.(ir.String)
		if !ok {
			return nil, fmt.Errorf("unmarshal features: [%d] is %s", i, ir.Kind(v))
		}
		out = append(out, string(s))
	}
	return out, nil
}

// marshalKinds counts mutations per kind, e.g. {"create":3,"insert":3}.
func marshalKinds(mutations []shadow.Mutation) (string, error) {
	counts := ir.Object{}
	for _, m := range mutations {
		key := m.Kind.String()
		n, _ := counts[key].(ir.Int)
		counts[key] = n + 1
	}
	data, err := ir.MarshalCanonical(counts)
	if err != nil {
		return "", fmt.Errorf("marshal kinds: %w", err)
	}
	return string(data), nil
}

func unmarshalKinds(data string) (map[string]int, error) {
	out := map[string]int{}
	if data == "" || data == "{}" {
		return out, nil
	}
	var obj ir.Object
	if err := obj.UnmarshalJSON([]byte(data)); err != nil {
		return nil, fmt.Errorf("unmarshal kinds: %w", err)
	}
	for k, v := range obj {
		n, ok := v.(ir.Int)
		if !ok {
			return nil, fmt.Errorf("unmarshal kinds: %q is %s", k, ir.Kind(v))
		}
		out[k] = int(n)
	}
	return out, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
