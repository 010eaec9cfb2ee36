// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common application errors.
var (
	// Validation errors.
	ErrNoFileSelected  = errors.New("no file selected")
	ErrEmptySuggestion = errors.New("suggestion is required")
	ErrEmptyJobID      = errors.New("job id is required")
	ErrInvalidRule     = errors.New("rule label and pattern are required")

	// Storage errors.
	ErrNotFound = errors.New("not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// ValidationError is raised before any network call is made. Key identifies
// the input that failed, e.g. a rule id.
type ValidationError struct {
	Err   error
	Field string
	Key   string
}

func (e *ValidationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("invalid %s [%s]: %v", e.Field, e.Key, e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, key string, err error) error {
	return &ValidationError{Field: field, Key: key, Err: err}
}

// TransportError is a network failure or a non-success HTTP response from
// the job service. StatusCode is zero when no response was received.
type TransportError struct {
	Err        error
	Op         string
	Body       string
	StatusCode int
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: server returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimit) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.StatusCode == 0 ||
			transportErr.StatusCode == http.StatusTooManyRequests ||
			transportErr.StatusCode >= http.StatusInternalServerError
	}

	return false
}
