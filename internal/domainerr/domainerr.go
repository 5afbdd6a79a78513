// Package domainerr classifies errors crossing component boundaries so the
// transport layer can map them to status codes without string matching.
package domainerr

import (
	"context"
	"errors"
	"fmt"
)

// Code is the coarse class of a domain error.
type Code string

const (
	CodeValidation Code = "validation"
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	CodeUpstream   Code = "upstream"
	CodeTimeout    Code = "timeout"
	CodeInternal   Code = "internal"
)

// Shared upstream failures. Adapters wrap these with Withf so callers can
// match on the class with errors.Is.
var (
	ErrUpstreamUnavailable = New(CodeUpstream, "upstream unavailable")
	ErrUpstreamRejected    = New(CodeUpstream, "upstream rejected request")
	ErrUpstreamTimeout     = New(CodeTimeout, "upstream timed out")
)

// Error carries a code and a message that is safe to show to clients.
// Err holds the underlying cause, which may contain upstream details and
// must only be logged.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error with no underlying cause. Package-level sentinels are
// built with New and compared with errors.Is.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and a client-safe message to err.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Withf returns a new error with the same code whose message is the formatted
// detail and whose cause is e, so errors.Is(result, e) holds.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e}
}

// Because is like Withf but also records cause. The result matches both e
// and cause with errors.Is, and its Error text ends with the cause.
func (e *Error) Because(cause error, format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Err: &causeChain{sentinel: e, cause: cause}}
}

// Upstream classifies a failed adapter call: deadline expiry becomes
// ErrUpstreamTimeout, anything else ErrUpstreamUnavailable.
func Upstream(cause error, format string, args ...any) *Error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return ErrUpstreamTimeout.Because(cause, format, args...)
	}
	return ErrUpstreamUnavailable.Because(cause, format, args...)
}

type causeChain struct {
	sentinel *Error
	cause    error
}

func (c *causeChain) Error() string   { return c.cause.Error() }
func (c *causeChain) Unwrap() []error { return []error{c.sentinel, c.cause} }

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternal when err is not classified.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost classified error in err has code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Message returns the client-safe message of the outermost *Error, or
// fallback when err is not classified.
func Message(err error, fallback string) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return fallback
}
