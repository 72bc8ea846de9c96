package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means the user has no Strava connection.
	ErrNotConnected = errors.New("strava not connected")

	// ErrInvalidEnvelope is matched by every *InvalidEnvelopeError.
	ErrInvalidEnvelope = errors.New("invalid credential envelope")

	// ErrVerificationFailed is returned when the webhook subscription handshake is rejected.
	ErrVerificationFailed = errors.New("webhook verification failed")

	// ErrUnauthenticated means a callable was invoked without a caller identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrUserNotFound     = errors.New("user not found")
	ErrActivityNotFound = errors.New("activity not found")
	ErrEntryNotFound    = errors.New("webhook queue entry not found")

	// ErrInvalidActivity wraps validation failures of manually logged activities.
	ErrInvalidActivity = errors.New("invalid activity")
)

// ConfigurationError reports a missing or malformed secret. It is fatal.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s not configured", e.Key)
}

// ProviderAuthError is returned when the provider rejects a token grant.
type ProviderAuthError struct {
	StatusCode int
	Body       string
}

func (e *ProviderAuthError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("strava auth failed (status %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("strava auth failed (status %d)", e.StatusCode)
}

// ProviderAPIError is returned for any non-2xx provider response or transport failure.
// StatusCode is 0 when no response was received.
type ProviderAPIError struct {
	StatusCode int
	Body       string
	URL        string
	Timeout    bool
}

func (e *ProviderAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("strava api request to %s failed: %s", e.URL, e.Body)
	}
	if e.Body != "" {
		return fmt.Sprintf("strava api error (status %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("strava api error (status %d)", e.StatusCode)
}

// Retryable reports whether a caller may retry the request later.
func (e *ProviderAPIError) Retryable() bool {
	return e.Timeout || e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// InvalidEnvelopeError means a stored credential could not be decrypted.
// The connection must be re-established.
type InvalidEnvelopeError struct {
	Reason string
	Err    error
}

func (e *InvalidEnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid credential envelope: %s: %v", e.Reason, e.Err)
	}
	return "invalid credential envelope: " + e.Reason
}

func (e *InvalidEnvelopeError) Unwrap() error { return e.Err }

func (e *InvalidEnvelopeError) Is(target error) bool { return target == ErrInvalidEnvelope }
