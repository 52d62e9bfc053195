// Package apperr defines the error kinds surfaced by the listening graph
// core. Kinds survive wrapping so callers and the HTTP layer can classify a
// failure without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindForbidden       Kind = "FORBIDDEN"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindUnavailable     Kind = "UNAVAILABLE"
	KindConflict        Kind = "CONFLICT"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindCanceled        Kind = "CANCELED"
	KindInternal        Kind = "INTERNAL"
)

// Error is an error with a kind and an optional cause
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so errors.Is(err, ErrNotFound)
// works for any not-found error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrCanceled        = &Error{Kind: KindCanceled}
)

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to cause
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound creates a not found error for a resource
func NotFound(resource string) *Error {
	return New(KindNotFound, "%s not found", resource)
}

// Forbidden creates a forbidden error
func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

// InvalidArgument creates an invalid argument error
func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// Unauthorized creates an authentication error
func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the message of the outermost *Error, or a generic text for
// unclassified errors so internals do not leak to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps a kind to a response status
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
