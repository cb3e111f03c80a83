package bridge

import (
	"context"
	"slices"
)

// Capability describes the runtime a bridge instance serves. One bridge
// implementation is parameterised by it instead of keeping a copy per
// runtime version.
type Capability struct {
	RuntimeVersion string   `json:"runtime_version" toml:"runtime_version"`
	ABI            string   `json:"abi" toml:"abi"`
	Features       []string `json:"features,omitempty" toml:"features"`
}

// Has reports whether feature is enabled.
func (c Capability) Has(feature string) bool {
	return slices.Contains(c.Features, feature)
}

type capabilityKey struct{}

// ContextWithCapability returns a context carrying c.
func ContextWithCapability(ctx context.Context, c Capability) context.Context {
	return context.WithValue(ctx, capabilityKey{}, c)
}

// CapabilityFrom returns the capability of the bridge running the current
// method body.
func CapabilityFrom(ctx context.Context) (Capability, bool) {
	c, ok := ctx.Value(capabilityKey{}).(Capability)
	return c, ok
}
