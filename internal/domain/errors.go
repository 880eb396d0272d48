package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that a provider kept answering 429/403 after bounded retries.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransientNetwork indicates connection failures or 5xx responses that outlived retries.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrCircuitOpen indicates that the provider's circuit breaker rejected the call.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrMalformedResponse indicates an unparsable payload or missing required fields.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrPersistence indicates a datastore write failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrServiceUnavailable indicates that neither a live fetch nor a cached result could serve a request.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrCacheMiss indicates that no cached result exists for a query.
	ErrCacheMiss = errors.New("cache miss")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
	Attempts   int
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s after %d attempts: retry after %s", e.Source, e.Attempts, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// TransientError reports a connection failure or 5xx response that survived every retry.
type TransientError struct {
	Source     string
	StatusCode int
	Attempts   int
	Cause      error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient failure after %d attempts (status %d)", e.Source, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("%s: transient failure after %d attempts: %v", e.Source, e.Attempts, e.Cause)
}

// Is matches ErrTransientNetwork.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransientNetwork
}

// Unwrap returns the underlying cause error.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// CircuitOpenError is returned without any network attempt while a provider's breaker is open.
type CircuitOpenError struct {
	Source  string
	RetryAt time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Source, e.RetryAt.Format(time.RFC3339))
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *CircuitOpenError) Unwrap() error {
	return ErrCircuitOpen
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// MalformedResponseError reports a provider payload that could not be decoded.
type MalformedResponseError struct {
	Source string
	Cause  error
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Source, e.Cause)
}

// Is matches ErrMalformedResponse.
func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

// Unwrap returns the underlying cause error.
func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}

// PersistenceError wraps a datastore write failure with the failing operation.
type PersistenceError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Cause)
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Unwrap returns the underlying cause error.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// ServiceUnavailableError is returned when both the live fetch and the cache fallback failed.
type ServiceUnavailableError struct {
	Operation string
	Reason    string
	Cause     error
}

// Error implements the error interface.
func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Operation, e.Reason)
}

// Is matches ErrServiceUnavailable.
func (e *ServiceUnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// Unwrap returns the underlying cause error.
func (e *ServiceUnavailableError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration, attempts int) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
		Attempts:   attempts,
	}
}

// NewTransientError creates a new TransientError.
func NewTransientError(source string, statusCode, attempts int, cause error) *TransientError {
	return &TransientError{
		Source:     source,
		StatusCode: statusCode,
		Attempts:   attempts,
		Cause:      cause,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewMalformedResponseError creates a new MalformedResponseError.
func NewMalformedResponseError(source string, cause error) *MalformedResponseError {
	return &MalformedResponseError{Source: source, Cause: cause}
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(op string, cause error) *PersistenceError {
	return &PersistenceError{Op: op, Cause: cause}
}

// NewServiceUnavailableError creates a new ServiceUnavailableError.
func NewServiceUnavailableError(operation, reason string, cause error) *ServiceUnavailableError {
	return &ServiceUnavailableError{Operation: operation, Reason: reason, Cause: cause}
}
