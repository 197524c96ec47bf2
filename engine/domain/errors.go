package domain

import (
	"errors"
	"fmt"
)

// Backend availability errors. Callers degrade instead of failing.
var (
	// ErrConfigurationAbsent means an optional backend was never initialized.
	ErrConfigurationAbsent = errors.New("backend not configured")
	// ErrBackendUnavailable means a configured backend failed at call time.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Sentinel errors for validation failures.
var (
	ErrInvalidQuery   = errors.New("invalid query")
	ErrQueryTooLong   = errors.New("query too long")
	ErrInvalidLimit   = errors.New("invalid limit")
	ErrInvalidFilter  = errors.New("invalid filter")
	ErrInvalidShop    = errors.New("invalid shop")
	ErrDuplicateShop  = errors.New("duplicate shop id")
	ErrInvalidUser    = errors.New("invalid user")
	ErrUserNotFound   = errors.New("user not found")
	ErrImageRequired  = errors.New("image required")
	ErrUnknownBackend = errors.New("unknown backend")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsValidation reports whether err is a caller input problem.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Unavailable wraps a backend call failure so callers can match ErrBackendUnavailable.
func Unavailable(backend string, err error) error {
	return fmt.Errorf("%s: %w: %w", backend, ErrBackendUnavailable, err)
}
