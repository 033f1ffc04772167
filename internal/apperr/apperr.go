// Package apperr defines the error taxonomy shared by the production, isolation,
// print queue and QuickBooks packages. Every error carries a machine-checkable
// Kind, a human-readable message and optional suggestions for the UI.
package apperr

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Kind identifies the error category.
type Kind string

const (
	KindNotFound                Kind = "NOT_FOUND"
	KindConflict                Kind = "CONFLICT"
	KindPrecondition            Kind = "PRECONDITION_FAILED"
	KindIsolationViolation      Kind = "ISOLATION_VIOLATION"
	KindAuthentication          Kind = "AUTHENTICATION_FAILED"
	KindForbidden               Kind = "FORBIDDEN"
	KindReauthorizationRequired Kind = "REAUTHORIZATION_REQUIRED"
	KindConnection              Kind = "CONNECTION_ERROR"
	KindValidation              Kind = "VALIDATION_ERROR"
	KindInternal                Kind = "INTERNAL"
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Kind        Kind
	Message     string
	Suggestions []string
	Details     map[string]any
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the operation unchanged.
func (e *Error) Retryable() bool { return e.Kind == KindConnection }

// WithSuggestion appends an actionable hint and returns the same error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestions = append(e.Suggestions, s)
	return e
}

// WithDetail attaches a structured detail and returns the same error.
func (e *Error) WithDetail(key string, v any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = v
	return e
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error     { return newf(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error     { return newf(KindConflict, format, args...) }
func Precondition(format string, args ...any) *Error { return newf(KindPrecondition, format, args...) }
func Validation(format string, args ...any) *Error   { return newf(KindValidation, format, args...) }

func IsolationViolation(format string, args ...any) *Error {
	return newf(KindIsolationViolation, format, args...)
}

func Authentication(format string, args ...any) *Error {
	return newf(KindAuthentication, format, args...)
}

func Forbidden(format string, args ...any) *Error { return newf(KindForbidden, format, args...) }

// ReauthorizationRequired is returned when the stored QuickBooks credential can
// no longer be used and the OAuth flow must be run again.
func ReauthorizationRequired(format string, args ...any) *Error {
	return newf(KindReauthorizationRequired, format, args...).
		WithSuggestion("reconnect to QuickBooks")
}

// Connection wraps a network or timeout failure talking to an external system.
func Connection(err error, format string, args ...any) *Error {
	e := newf(KindConnection, format, args...)
	e.Err = err
	return e
}

// Internal wraps an unexpected failure (usually a store error).
func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err (or anything it wraps) is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsRetryable reports whether err is a retryable connection failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// FromStore converts a gorm error into the taxonomy. Record-not-found becomes
// NotFound and unique violations become Conflict; anything else is Internal.
func FromStore(err error, what string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound("%s not found", what)
	case IsUniqueViolation(err):
		e := Conflict("%s already exists", what)
		e.Err = err
		return e
	}
	return Internal(err, "%s: store failure", what)
}
