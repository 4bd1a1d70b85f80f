// Package apperr classifies domain errors so the HTTP layer can map them to
// status codes without knowing which package produced them.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrInvalid      = errors.New("invalid request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// Error carries a client-safe message and a kind.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Unwrap exposes the kind to errors.Is.
func (e *Error) Unwrap() error { return e.kind }

func newError(kind error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Invalid reports a validation failure (400).
func Invalid(format string, args ...any) error { return newError(ErrInvalid, format, args...) }

// Unauthorized reports a missing or unknown credential (401).
func Unauthorized(format string, args ...any) error {
	return newError(ErrUnauthorized, format, args...)
}

// Forbidden reports a relationship check failure (403).
func Forbidden(format string, args ...any) error { return newError(ErrForbidden, format, args...) }

// NotFound reports a missing entity (404).
func NotFound(format string, args ...any) error { return newError(ErrNotFound, format, args...) }

// Conflict reports a duplicate (409).
func Conflict(format string, args ...any) error { return newError(ErrConflict, format, args...) }

// Message returns the client-safe message of err, or "" when err is not classified.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.msg
	}
	return ""
}
