// Package codec owns the serialized form of call arguments and results at
// the scripting boundary. The bridge never inspects raw bytes directly; it
// asks a Codec.
package codec

import (
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// Codec converts between wire bytes and ir values.
type Codec interface {
	// Name identifies the codec in configuration and diagnostics.
	Name() string

	// EncodeArgs serializes a positional argument list.
	EncodeArgs(args ir.Array) ([]byte, error)

	// DecodeArgs parses a positional argument list. Empty input decodes
	// to an empty list.
	DecodeArgs(data []byte) (ir.Array, error)

	// EncodeValue serializes a single result value.
	EncodeValue(v ir.Value) ([]byte, error)

	// DecodeValue parses a single result value.
	DecodeValue(data []byte) (ir.Value, error)
}

// Codec names accepted by ByName.
const (
	NameJSON  = "json"
	NameProto = "proto"
)

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", NameJSON:
		return JSON{}, nil
	case NameProto:
		return Proto{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want %q or %q)", name, NameJSON, NameProto)
	}
}
