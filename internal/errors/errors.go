package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind tags an AppError with one of a closed set of failure categories
type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindConflict    Kind = "CONFLICT"
	KindAuth        Kind = "UNAUTHORIZED"
	KindRateLimited Kind = "RATE_LIMITED"
	KindNotFound    Kind = "NOT_FOUND"
	KindPersistence Kind = "PERSISTENCE"
	KindPaused      Kind = "PAUSED"
	KindTransient   Kind = "TRANSIENT"
)

// AppError represents an application error
type AppError struct {
	Kind    Kind
	Message string
	Err     error

	// ResetAt is only set on rate limit errors when the provider reported it.
	ResetAt *time.Time
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrPaused is the pause signal raised when a job was paused between pages
var ErrPaused = &AppError{Kind: KindPaused, Message: "extraction paused"}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Message: message,
	}
}

// NewConflictError creates an error for a rejected job state transition
func NewConflictError(message string) *AppError {
	return &AppError{
		Kind:    KindConflict,
		Message: message,
	}
}

// NewAuthError creates a new unauthorized error
func NewAuthError(message string, err error) *AppError {
	return &AppError{
		Kind:    KindAuth,
		Message: message,
		Err:     err,
	}
}

// NewRateLimitedError creates a new rate limited error. resetAt may be nil.
func NewRateLimitedError(message string, resetAt *time.Time, err error) *AppError {
	return &AppError{
		Kind:    KindRateLimited,
		Message: message,
		Err:     err,
		ResetAt: resetAt,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewPersistenceError creates an error for a rolled back sink batch or failed store write
func NewPersistenceError(message string, err error) *AppError {
	return &AppError{
		Kind:    KindPersistence,
		Message: message,
		Err:     err,
	}
}

// NewTransientError creates an error for any other provider failure
func NewTransientError(message string, err error) *AppError {
	return &AppError{
		Kind:    KindTransient,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the kind of the first AppError in err's chain.
// Untagged errors are reported as transient.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindTransient
}

// IsPaused checks if the error is the pause signal
func IsPaused(err error) bool {
	return err != nil && KindOf(err) == KindPaused
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == KindRateLimited
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// IsConflict checks if the error is a rejected state transition
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

// HTTPStatus maps an error to the status code the API answers with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
