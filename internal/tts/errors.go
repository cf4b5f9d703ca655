package tts

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for synthesis failures that are not tied to a provider
// HTTP status.
var (
	// ErrEmptyAudio indicates the provider returned a success status with
	// no audio payload.
	ErrEmptyAudio = errors.New("provider returned empty audio data")

	// ErrAttemptsExhausted indicates a chunk kept failing with retryable
	// errors until the attempt budget ran out.
	ErrAttemptsExhausted = errors.New("synthesis attempts exhausted")
)

// ProviderError is a classified failure reported by the speech provider.
// The status code drives the retry decision: client-side failures are
// fatal and abort the job, everything else is worth retrying.
type ProviderError struct {
	// StatusCode is the HTTP status returned by the provider, or zero for
	// transport-level failures.
	StatusCode int

	// Code is the provider's machine-readable error classification, when
	// one was supplied.
	Code string

	// Message is the human-readable error description.
	Message string

	// RetryAfter is the provider-requested backoff from a rate-limit
	// response, or zero when none was given.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf(
			"provider error (status %d, code %s): %s",
			e.StatusCode, e.Code, e.Message,
		)
	}

	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
}

// AuthFailure reports whether the provider rejected the credentials.
func (e *ProviderError) AuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// InvalidRequest reports whether the provider rejected the request payload.
func (e *ProviderError) InvalidRequest() bool {
	return e.StatusCode == 400 || e.StatusCode == 422
}

// RateLimited reports whether the provider throttled the request.
func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == 429
}

// ServerError reports whether the provider failed internally.
func (e *ProviderError) ServerError() bool {
	return e.StatusCode >= 500
}

// Fatal reports whether retrying the same request is pointless. Bad
// credentials and malformed payloads fail the same way every time.
func (e *ProviderError) Fatal() bool {
	return e.AuthFailure() || e.InvalidRequest()
}

// Retryable reports whether a later attempt may succeed.
func (e *ProviderError) Retryable() bool {
	return !e.Fatal()
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}

	return nil, false
}
