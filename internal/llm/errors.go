package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
)

// maxRetryAfter caps a provider-supplied Retry-After.
const maxRetryAfter = 30 * time.Second

// GeneratorError is a failed generation call. StatusCode is zero when no
// HTTP response was received.
type GeneratorError struct {
	Provider   string
	StatusCode int
	Message    string
	// Type and Code are the provider's own error classification, if any.
	Type string
	Code string
	// RetryAfter is the wait the provider asked for, capped at maxRetryAfter.
	RetryAfter time.Duration
}

func newNetworkError(provider, format string, args ...any) *GeneratorError {
	return &GeneratorError{
		Provider: provider,
		Message:  fmt.Sprintf(format, args...),
		Type:     "network_error",
	}
}

// newStatusError builds the error for a non-200 reply. The provider's
// decoded message replaces the raw body when present.
func newStatusError(provider string, resp *http.Response, body []byte, message, errType, code string) *GeneratorError {
	e := &GeneratorError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Type:       errType,
		Code:       code,
		RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
	}
	if message != "" {
		e.Message = message
	}
	return e
}

func (e *GeneratorError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("%s: generation failed (%s): %s", e.Provider, e.Type, e.Message)
	case e.Type != "":
		return fmt.Sprintf("%s: generation failed (status %d, %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	default:
		return fmt.Sprintf("%s: generation failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
}

// Transient reports whether the call may succeed on retry: no response,
// request timeout, rate limiting or a server error.
func (e *GeneratorError) Transient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// Is maps the error onto the domain sentinels so callers can classify
// generator failures like provider failures.
func (e *GeneratorError) Is(target error) bool {
	switch target {
	case domain.ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case domain.ErrTransientNetwork:
		return e.Transient() && e.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// IsTransient reports whether err wraps a GeneratorError that may succeed
// on retry.
func IsTransient(err error) bool {
	var genErr *GeneratorError
	return errors.As(err, &genErr) && genErr.Transient()
}

// retryWait is the delay before the next attempt: the provider's
// Retry-After when it asked for longer than the local backoff.
func retryWait(lastErr error, backoff time.Duration) time.Duration {
	var genErr *GeneratorError
	if errors.As(lastErr, &genErr) && genErr.RetryAfter > backoff {
		return genErr.RetryAfter
	}
	return backoff
}

// retryAfter parses a delta-seconds Retry-After value.
func retryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}
