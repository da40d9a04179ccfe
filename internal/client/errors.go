package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kjstillabower/weather-lookup/internal/circuitbreaker"
)

var (
	// ErrProvider matches every non-2xx provider response.
	ErrProvider = errors.New("provider error")
	// ErrParse matches every response body that could not be turned into a snapshot.
	ErrParse = errors.New("parse error")

	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

// ProviderError is a non-success HTTP status from the provider. It matches ErrProvider
// and one status sentinel: 401 ErrInvalidAPIKey, 404 ErrLocationNotFound,
// 429 ErrRateLimited, anything else ErrUpstreamFailure.
type ProviderError struct {
	StatusCode int
	// Message is the provider's own "message" field, when it sent one.
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, statusSentinel(e.StatusCode)}
}

func statusSentinel(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case http.StatusNotFound:
		return ErrLocationNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrUpstreamFailure
	}
}

// ParseError reports a provider body that is not valid JSON or lacks a required field.
type ParseError struct {
	// Field is the dotted path of the missing field; empty when the JSON itself was malformed.
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse response: missing field %s", e.Field)
	}
	return fmt.Sprintf("parse response: %v", e.Err)
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// CountsAgainstProvider reports whether err reflects provider health. Cancellations and
// unknown cities are caller-side and must not open the circuit breaker.
func CountsAgainstProvider(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrLocationNotFound) {
		return false
	}
	return true
}

// UserMessage maps a fetch error to the single human-readable line shown in place of the weather.
func UserMessage(err error) string {
	var perr *ProviderError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "Weather service is temporarily unavailable. Please try again shortly."
	case errors.Is(err, ErrLocationNotFound):
		return "City not found. Check the spelling and try again."
	case errors.Is(err, ErrInvalidAPIKey):
		return "Weather service rejected the configured API key."
	case errors.Is(err, ErrRateLimited):
		return "Too many weather requests. Please wait a moment and try again."
	case errors.As(err, &perr):
		return fmt.Sprintf("Weather service returned an error (HTTP %d).", perr.StatusCode)
	case errors.Is(err, ErrParse):
		return "Received an incomplete response from the weather service."
	case errors.Is(err, context.DeadlineExceeded):
		return "Weather service did not respond in time."
	default:
		return "Failed to fetch weather data."
	}
}
