package codec

import (
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// JSON is the default text codec. Arguments travel as a JSON array.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return NameJSON }

// EncodeArgs implements Codec.
func (JSON) EncodeArgs(args ir.Array) ([]byte, error) {
	if args == nil {
		args = ir.Array{}
	}
	data, err := ir.Encode(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return data, nil
}

// DecodeArgs implements Codec.
func (JSON) DecodeArgs(data []byte) (ir.Array, error) {
	if len(data) == 0 {
		return ir.Array{}, nil
	}
	v, err := ir.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("decode args: expected array, got %s", ir.Kind(v))
	}
	return arr, nil
}

// EncodeValue implements Codec.
func (JSON) EncodeValue(v ir.Value) ([]byte, error) {
	data, err := ir.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

// DecodeValue implements Codec.
func (JSON) DecodeValue(data []byte) (ir.Value, error) {
	if len(data) == 0 {
		return ir.Null{}, nil
	}
	v, err := ir.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}
