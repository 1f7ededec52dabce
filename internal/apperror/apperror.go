// Package apperror defines the error taxonomy shared by every layer of the
// directory: repositories return these, services pass them through, and the
// HTTP layer maps them to status codes.
//
// Callers match on the sentinel with errors.Is, never on the message:
//
//	if errors.Is(err, apperror.ErrConflict) { ... }
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("Validation Error")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation. field names the unique attribute
// ("name", "email") and value is the duplicate.
func Conflict(field, value string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s %q is already taken", field, value),
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means the caller has no valid session, or presented wrong
// credentials. The message is deliberately generic.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// BackendUnavailable wraps a transient storage or network failure. The cause
// stays in the chain so logs keep the detail:
//
//	errors.Is(err, apperror.ErrBackendUnavailable) // true
//	errors.Is(err, context.DeadlineExceeded)        // true when it timed out
func BackendUnavailable(op string, cause error) *AppError {
	msg := fmt.Sprintf("storage backend unavailable during %s", op)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &AppError{
		Err:     &unavailableError{cause: cause},
		Message: msg,
	}
}

// unavailableError lets a BackendUnavailable error match both the sentinel
// and its underlying cause.
type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrBackendUnavailable.Error()
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func (e *unavailableError) Unwrap() error {
	return e.cause
}

// Kind returns the short machine-readable name of err's category, as used on
// the wire by the HTTP layer and the remote document store.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}

// FromKind rebuilds an AppError from its wire representation. Unknown kinds
// yield nil so the caller can decide how to treat them.
func FromKind(kind, message, field string) *AppError {
	var sentinel error
	switch kind {
	case "validation_error":
		sentinel = ErrValidation
	case "not_found":
		sentinel = ErrNotFound
	case "conflict":
		sentinel = ErrConflict
	case "forbidden":
		sentinel = ErrForbidden
	case "unauthorized":
		sentinel = ErrUnauthorized
	case "backend_unavailable":
		return &AppError{Err: &unavailableError{}, Message: message}
	default:
		return nil
	}
	return &AppError{Err: sentinel, Message: message, Field: field}
}
