package mounting

import (
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/shadow"
)

var (
	// ErrOutOfOrderTransaction is returned when a surface receives a
	// transaction whose sequence number is not above the last one mounted.
	ErrOutOfOrderTransaction = errors.New("out-of-order transaction")

	// ErrUnknownSurface is returned for surfaces that were never started.
	ErrUnknownSurface = errors.New("unknown surface")

	// ErrSurfaceExists is returned when starting a running surface.
	ErrSurfaceExists = errors.New("surface already started")

	errUnknownMutation = errors.New("unknown mutation kind")
)

// Failure is a MOUNTING_FAILURE: the transaction stopped at Index and the
// mutations before it stay applied.
type Failure struct {
	SurfaceID shadow.SurfaceID
	Seq       int64

	// Index is the position of the failing mutation, -1 when the
	// transaction was rejected before any mutation ran.
	Index    int
	Mutation shadow.Mutation
	Err      error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Index < 0 {
		return fmt.Sprintf("%s: surface %d seq %d: %v", bridge.CodeMountingFailure, f.SurfaceID, f.Seq, f.Err)
	}
	return fmt.Sprintf("%s: surface %d seq %d: mutation %d (%s): %v",
		bridge.CodeMountingFailure, f.SurfaceID, f.Seq, f.Index, f.Mutation, f.Err)
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Code returns MOUNTING_FAILURE.
func (f *Failure) Code() bridge.ErrorCode {
	return bridge.CodeMountingFailure
}

// IsMountingFailure reports whether err is a Failure.
func IsMountingFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
