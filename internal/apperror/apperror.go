// Package apperror defines the typed errors that cross layer boundaries.
//
// Storage and service code return *AppError values wrapping one of the
// sentinels below. The HTTP layer maps them to status codes with
// errors.Is, so no layer below it needs to know about HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrDuplicateUsername  = errors.New("duplicate username")
	ErrDuplicateEmail     = errors.New("duplicate email")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUpstream           = errors.New("upstream service failure")
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

// Conflict reports a write that kept colliding with concurrent writers.
func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
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

// DuplicateUsername reports a sign-up whose username is already taken.
func DuplicateUsername() *AppError {
	return &AppError{
		Err:     ErrDuplicateUsername,
		Message: "Username already taken",
		Field:   "username",
	}
}

// DuplicateEmail reports a sign-up whose email is already registered.
func DuplicateEmail() *AppError {
	return &AppError{
		Err:     ErrDuplicateEmail,
		Message: "Email already registered",
		Field:   "email",
	}
}

// InvalidCredentials covers both an unknown identifier and a wrong
// password. The message is identical for both so callers cannot tell
// which one failed.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "Invalid username/email or password.",
	}
}

// Upstream wraps a failure of an external generative or image service.
func Upstream(service string, err error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %s: %w", ErrUpstream, service, err),
		Message: fmt.Sprintf("%s is unavailable", service),
	}
}
