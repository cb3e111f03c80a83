// Package ir defines the values that cross the bridge: call arguments,
// results, module constants, view props and event payloads.
//
// This package imports nothing internal; every other package builds on it.
//
// Key constraints:
//   - Value is a sealed interface; only the types in value.go implement it
//   - Integral script numbers decode to Int, others to Float
//   - MarshalCanonical is the only serialization used for digests
package ir
