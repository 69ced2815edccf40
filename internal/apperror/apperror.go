// Package apperror defines the error vocabulary shared by the service and
// handler layers. Services return these; handlers translate them to HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrRateLimited  = errors.New("rate limited")
)

// Fixed client-facing messages. These never vary with the underlying cause.
const (
	MsgInvalidCredentials = "invalid credentials"
	MsgAuthRequired       = "authentication required"
	MsgInvalidResetToken  = "invalid or expired token"
)

type AppError struct {
	Err     error  // sentinel, used with errors.Is
	Message string // human-readable, safe to return to clients
	Field   string // optional: request field that caused the error
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

// Conflict reports a uniqueness violation on one field of a resource,
// e.g. Conflict("user", "username").
func Conflict(resource, field string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s with that %s already exists", resource, field),
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

// Unauthorized is the single outcome for missing, malformed, expired or
// otherwise unusable credentials.
func Unauthorized() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: MsgAuthRequired,
	}
}

// InvalidCredentials is returned by login for an unknown user, an inactive
// user and a wrong password alike.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: MsgInvalidCredentials,
	}
}

// InvalidResetToken covers unknown, expired and already-used reset tokens.
func InvalidResetToken() *AppError {
	return &AppError{
		Err:     ErrInvalidToken,
		Message: MsgInvalidResetToken,
	}
}

func RateLimited() *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: "too many requests, try again later",
	}
}
