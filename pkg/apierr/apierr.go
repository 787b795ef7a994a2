// Package apierr classifies internal errors into the small set of kinds the
// three protocol frontends need to map onto their own status codes, without
// every call site re-deriving the taxonomy.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the error classes frontends translate into transport codes.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindUnauthorized  Kind = "unauthorized"
	KindInvalidState  Kind = "invalid_state"
	KindTransient     Kind = "transient"
	KindPermanent     Kind = "permanent"
)

// Error wraps an underlying cause with a Kind and a user-facing message.
// Frontends never leak the wrapped cause to callers; it is logged only.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func InvalidState(format string, args ...interface{}) *Error {
	return New(KindInvalidState, fmt.Sprintf(format, args...))
}

func Transient(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindTransient, fmt.Sprintf(format, args...), cause)
}

func Permanent(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindPermanent, fmt.Sprintf(format, args...), cause)
}

// KindOf extracts the Kind of err, defaulting to KindPermanent for errors
// that were never classified (a programmer error surfaced to a caller).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanent
}

// HTTPStatus maps a Kind to the REST status code it produces.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindUnauthorized:
		return 402
	case KindInvalidState:
		return 400
	case KindTransient:
		return 503
	default:
		return 500
	}
}

// JSONRPCCode maps a Kind to the A2A JSON-RPC error code.
func JSONRPCCode(kind Kind) int {
	switch kind {
	case KindNotFound:
		return -32001
	case KindValidation:
		return -32602
	case KindInvalidState:
		return -32002
	case KindUnauthorized:
		return -32003
	default:
		return -32000
	}
}
