package ir

// Version constants stamped into diagnostics and the capability descriptor.
const (
	// WireVersion is the version of the call/response wire shape.
	WireVersion = "1"

	// RuntimeVersion is the bridge runtime version.
	RuntimeVersion = "0.3.0"
)
