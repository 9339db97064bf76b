// Package relayerr defines the error taxonomy shared by the relay components.
//
// Every failure that crosses a component boundary carries a Code so callers can
// decide between dropping a frame, retrying a read, or tearing the session down
// without matching on message text.
package relayerr

import (
	"errors"
	"fmt"
)

// Code identifies a class of relay failure.
type Code string

// Error codes.
const (
	DeviceUnavailable Code = "DEVICE_UNAVAILABLE"
	CaptureFailed     Code = "CAPTURE_FAILED"
	NoFrame           Code = "NO_FRAME"
	EncodeFailed      Code = "ENCODE_FAILED"
	BridgeStartFailed Code = "BRIDGE_START_FAILED"
	BridgeBroken      Code = "BRIDGE_BROKEN"
	SinkExportFailed  Code = "SINK_EXPORT_FAILED"
	PipelineError     Code = "PIPELINE_ERROR"
	InvalidConfig     Code = "INVALID_CONFIG"
)

// Fatal reports whether errors with this code end the session.
func (c Code) Fatal() bool {
	switch c {
	case DeviceUnavailable, CaptureFailed, BridgeStartFailed, BridgeBroken, PipelineError, InvalidConfig:
		return true
	}
	return false
}

// Error is a relay error with a code, the failing operation and an optional cause.
type Error struct {
	Code    Code           `json:"code"`
	Op      string         `json:"op,omitempty"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	Cause   error          `json:"-"`
}

// New creates an error without a cause.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap creates an error that wraps cause.
func Wrap(code Code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, Cause: cause}
}

// With returns a copy of e carrying an extra context value.
func (e *Error) With(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value

	cp := *e
	cp.Context = ctx
	return &cp
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Op != "" {
		prefix += " " + e.Op + ":"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so sentinels like ErrBridgeBroken work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Message == ""
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code Code) bool {
	return e.Code == code
}

// Sentinels for errors.Is comparisons.
var (
	ErrDeviceUnavailable = &Error{Code: DeviceUnavailable}
	ErrCaptureFailed     = &Error{Code: CaptureFailed}
	ErrNoFrame           = &Error{Code: NoFrame}
	ErrEncodeFailed      = &Error{Code: EncodeFailed}
	ErrBridgeStartFailed = &Error{Code: BridgeStartFailed}
	ErrBridgeBroken      = &Error{Code: BridgeBroken}
	ErrSinkExportFailed  = &Error{Code: SinkExportFailed}
	ErrPipelineError     = &Error{Code: PipelineError}
	ErrInvalidConfig     = &Error{Code: InvalidConfig}
)

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
