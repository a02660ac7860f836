// Package mcperr defines the error taxonomy shared by the daemon, the IPC
// layer, and the client. Every error that crosses the socket carries a Code
// so the client can rebuild the same error type on its side.
package mcperr

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	// CodeConfig indicates a malformed or missing server configuration.
	CodeConfig Code = "config"
	// CodeHandshake indicates capability negotiation failed or timed out.
	CodeHandshake Code = "handshake"
	// CodeTransport indicates a mid-session read/write failure.
	CodeTransport Code = "transport"
	// CodeNotFound indicates an unknown server or tool name.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates the target server is not ready.
	CodeUnavailable Code = "unavailable"
	// CodePoolTimeout indicates a caller waited past the pool acquisition timeout.
	CodePoolTimeout Code = "pool_timeout"
	// CodeAlreadyRunning indicates a daemon is already running.
	CodeAlreadyRunning Code = "already_running"
	// CodeNotRunning indicates no daemon is running.
	CodeNotRunning Code = "not_running"
	// CodeInternal indicates an unclassified failure.
	CodeInternal Code = "internal"
)

// Error is a classified error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around a cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf returns the code carried by err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// FromWire rebuilds an error from the code and message carried in an IPC
// response. An unrecognized code maps to CodeInternal.
func FromWire(code, message string) *Error {
	switch c := Code(code); c {
	case CodeConfig, CodeHandshake, CodeTransport, CodeNotFound,
		CodeUnavailable, CodePoolTimeout, CodeAlreadyRunning, CodeNotRunning:
		return &Error{Code: c, Message: message}
	default:
		return &Error{Code: CodeInternal, Message: message}
	}
}
