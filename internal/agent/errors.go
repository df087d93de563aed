package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error is the unified error interface returned by agent implementations.
type Error interface {
	error
	Provider() string
	StatusCode() int
	Retryable() bool
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.TrimSpace(e.Message)
}
func (e *ConfigurationError) Provider() string { return "" }
func (e *ConfigurationError) StatusCode() int  { return 0 }
func (e *ConfigurationError) Retryable() bool  { return false }

type errorBase struct {
	provider   string
	statusCode int
	message    string
	retryable  bool
}

func (e *errorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.provider, e.statusCode, msg)
}
func (e *errorBase) Provider() string { return e.provider }
func (e *errorBase) StatusCode() int  { return e.statusCode }
func (e *errorBase) Retryable() bool  { return e.retryable }

// RateLimitError is the single unconditional abort trigger for a run. It is
// never caught and never retried at any layer.
type RateLimitError struct {
	errorBase
	RetryAfter *time.Duration
}

type InvalidRequestError struct{ errorBase }
type AuthenticationError struct{ errorBase }
type ContextLengthError struct{ errorBase }
type ServerError struct{ errorBase }
type UnknownHTTPError struct{ errorBase }

// NewRateLimitError constructs the rate-limit signal.
func NewRateLimitError(provider, message string, retryAfter *time.Duration) error {
	return &RateLimitError{
		errorBase:  errorBase{provider: strings.TrimSpace(provider), statusCode: 429, message: message, retryable: false},
		RetryAfter: retryAfter,
	}
}

// FromHTTPStatus maps a provider HTTP status to the typed hierarchy.
func FromHTTPStatus(provider string, statusCode int, message string) error {
	base := errorBase{
		provider:   strings.TrimSpace(provider),
		statusCode: statusCode,
		message:    message,
	}
	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{base}
	case 401, 403:
		return &AuthenticationError{base}
	case 413:
		return &ContextLengthError{base}
	case 429:
		return &RateLimitError{errorBase: base}
	case 500, 502, 503, 504:
		base.retryable = true
		return &ServerError{base}
	default:
		base.retryable = true
		return &UnknownHTTPError{base}
	}
}

// IsRateLimited reports whether err carries the rate-limit signal at any
// wrapping depth.
func IsRateLimited(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// IsRetryable reports whether the error classifies as transient.
func IsRetryable(err error) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
