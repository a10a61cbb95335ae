package library

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable category of a library error.
type Kind string

const (
	KindUnauthenticated  Kind = "unauthenticated"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUnavailable      Kind = "unavailable"
	KindInvalidOperation Kind = "invalid_operation"
	KindValidation       Kind = "validation_error"
	KindInternal         Kind = "internal"
)

// HTTPStatus maps a kind to the status code the web layer answers with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindUnavailable:
		return http.StatusConflict
	case KindInvalidOperation:
		return http.StatusBadRequest
	case KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is the error type returned by every LibraryManager operation.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field messages for validation failures.
	Fields map[string]string
	Cause  error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrUnavailable      = &Error{Kind: KindUnavailable}
	ErrInvalidOperation = &Error{Kind: KindInvalidOperation}
	ErrValidation       = &Error{Kind: KindValidation}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func notFound(entity string, id int64) *Error {
	return newError(KindNotFound, "%s %d not found", entity, id)
}

func invalidField(field, msg string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf("%s: %s", field, msg),
		Fields:  map[string]string{field: msg},
	}
}

func internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op + " failed", Cause: fmt.Errorf("%s: %w", op, err)}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
