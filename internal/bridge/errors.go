package bridge

import (
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/module"
)

// ErrorCode categorizes bridge errors.
type ErrorCode string

const (
	// CodeModuleNotFound indicates an unknown module id.
	CodeModuleNotFound ErrorCode = "MODULE_NOT_FOUND"

	// CodeMethodNotFound indicates an unknown method id.
	CodeMethodNotFound ErrorCode = "METHOD_NOT_FOUND"

	// CodeArgumentMismatch indicates undecodable arguments or a wrong
	// argument count.
	CodeArgumentMismatch ErrorCode = "ARGUMENT_MISMATCH"

	// CodeNativeInvocation indicates the method body failed or panicked.
	CodeNativeInvocation ErrorCode = "NATIVE_INVOCATION_EXCEPTION"

	// CodeMountingFailure indicates a mutation could not be applied.
	CodeMountingFailure ErrorCode = "MOUNTING_FAILURE"
)

// RejectionUnknown is the rejection code used when the error carries none.
const RejectionUnknown = "E_UNKNOWN"

// Error is a bridge-level failure with structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// CallID identifies the failed call, 0 when not call-scoped.
	CallID int64

	// Method is "Module.method" when resolution got that far.
	Method string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Method != "" && e.CallID != 0:
		return fmt.Sprintf("%s: %s (call=%d, method=%s)", e.Code, e.Message, e.CallID, e.Method)
	case e.CallID != 0:
		return fmt.Sprintf("%s: %s (call=%d)", e.Code, e.Message, e.CallID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the bridge code of err, or "" when err is not a bridge
// error.
func CodeOf(err error) ErrorCode {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsModuleNotFound reports whether err is a MODULE_NOT_FOUND error.
func IsModuleNotFound(err error) bool {
	return CodeOf(err) == CodeModuleNotFound
}

// IsMethodNotFound reports whether err is a METHOD_NOT_FOUND error.
func IsMethodNotFound(err error) bool {
	return CodeOf(err) == CodeMethodNotFound
}

// IsArgumentMismatch reports whether err is an ARGUMENT_MISMATCH error.
func IsArgumentMismatch(err error) bool {
	return CodeOf(err) == CodeArgumentMismatch
}

// IsNativeInvocation reports whether err is a NATIVE_INVOCATION_EXCEPTION.
func IsNativeInvocation(err error) bool {
	return CodeOf(err) == CodeNativeInvocation
}

// resolveError maps registry errors onto bridge codes.
func resolveError(callID int64, err error) *Error {
	code := CodeModuleNotFound
	if errors.Is(err, module.ErrMethodNotFound) {
		code = CodeMethodNotFound
	}
	return &Error{Code: code, Message: err.Error(), CallID: callID, Err: err}
}

// NewArgumentMismatch creates an ARGUMENT_MISMATCH error.
func NewArgumentMismatch(callID int64, method string, err error) *Error {
	return &Error{
		Code:    CodeArgumentMismatch,
		Message: err.Error(),
		CallID:  callID,
		Method:  method,
		Err:     err,
	}
}

// NewNativeInvocation creates a NATIVE_INVOCATION_EXCEPTION error.
func NewNativeInvocation(callID int64, method string, err error) *Error {
	return &Error{
		Code:    CodeNativeInvocation,
		Message: err.Error(),
		CallID:  callID,
		Method:  method,
		Err:     err,
	}
}

// CodedError is an error carrying a promise rejection code.
// Method bodies return it (or wrap it) to reject with a specific code.
type CodedError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Reject builds a CodedError.
func Reject(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// PanicError wraps a value recovered from a panicking method body.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ErrPromiseAlreadySettled is reported when a promise is resolved or
// rejected a second time under the Report policy.
var ErrPromiseAlreadySettled = errors.New("promise already settled")

// ErrNotSync is returned by InvokeSync for methods that are not Sync.
var ErrNotSync = errors.New("method is not synchronous")

// ToCallError converts a failure into its wire form.
func ToCallError(err error) *CallError {
	var coded *CodedError
	if errors.As(err, &coded) {
		return &CallError{Code: coded.Code, Message: coded.Message}
	}
	var be *Error
	if errors.As(err, &be) {
		return &CallError{Code: string(be.Code), Message: be.Message}
	}
	return &CallError{Code: RejectionUnknown, Message: err.Error()}
}
