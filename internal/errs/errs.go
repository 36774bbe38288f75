// Package errs classifies errors into the four kinds the block builder
// reasons about end to end: Validation errors are returned to the caller
// verbatim and never retried; Transient errors are backing-service hiccups
// worth retrying with backoff; Inconsistent errors mean KV or chain state
// violates an invariant the builder relies on, and the current operation
// must abort and trigger a nonce resync; Fatal errors are misconfiguration
// and stop the process at startup.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Validation Kind = iota
	Transient
	Inconsistent
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Transient:
		return "transient"
	case Inconsistent:
		return "inconsistent"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and, for Validation errors
// surfaced over HTTP, a stable machine-readable Code (spec.md error_kind).
type Error struct {
	Kind  Kind
	Code  string
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, cause: cause}
}

func Validationf(code, format string, a ...any) *Error {
	return New(Validation, code, fmt.Errorf(format, a...))
}

func Transientf(code string, cause error) *Error {
	return New(Transient, code, cause)
}

func Inconsistentf(code string, cause error) *Error {
	return New(Inconsistent, code, cause)
}

func Fatalf(code string, cause error) *Error {
	return New(Fatal, code, cause)
}

// KindOf extracts the Kind of err, defaulting to Transient for unclassified
// errors — the safe default is to retry rather than silently drop state.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "unknown"
}
