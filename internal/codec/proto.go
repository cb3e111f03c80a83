package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/roach88/tether/internal/ir"
)

// Proto is a binary codec built on the well-known structpb types.
// Arguments travel as a ListValue and results as a Value.
//
// structpb numbers are doubles, so integers beyond 2^53 lose precision;
// integral doubles decode back to ir.Int.
type Proto struct{}

// Name implements Codec.
func (Proto) Name() string { return NameProto }

// EncodeArgs implements Codec.
func (Proto) EncodeArgs(args ir.Array) ([]byte, error) {
	items := make([]any, len(args))
	for i, a := range args {
		items[i] = ir.ToGo(a)
	}
	list, err := structpb.NewList(items)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	data, err := proto.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return data, nil
}

// DecodeArgs implements Codec.
func (Proto) DecodeArgs(data []byte) (ir.Array, error) {
	if len(data) == 0 {
		return ir.Array{}, nil
	}
	var list structpb.ListValue
	if err := proto.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	v, err := ir.FromGo(list.AsSlice())
	if err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	return v.(ir.Array), nil
}

// EncodeValue implements Codec.
func (Proto) EncodeValue(v ir.Value) ([]byte, error) {
	pv, err := structpb.NewValue(ir.ToGo(v))
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	data, err := proto.Marshal(pv)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

// DecodeValue implements Codec.
func (Proto) DecodeValue(data []byte) (ir.Value, error) {
	var pv structpb.Value
	if err := proto.Unmarshal(data, &pv); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	v, err := ir.FromGo(pv.AsInterface())
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}
