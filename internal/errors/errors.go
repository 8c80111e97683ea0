package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType categorizes resolution failures. Only a few of these ever reach
// the user; the rest are absorbed with a documented fallback.
type ErrorType string

// Zero provider results is deliberately absent here: it is an empty
// result, not an error.
const (
	ErrorTypeRateLimit           ErrorType = "rate_limit"
	ErrorTypeProviderUnavailable ErrorType = "provider_unavailable"
	ErrorTypeProviderRateLimited ErrorType = "provider_rate_limited"
	ErrorTypeMalformed           ErrorType = "malformed"
	ErrorTypePreferenceLookup    ErrorType = "preference_lookup"
	ErrorTypeCacheBackend        ErrorType = "cache_backend"
	ErrorTypeInternal            ErrorType = "internal"
)

// AppError is a structured application error.
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithMetadata attaches a metadata entry to the error.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// New creates a structured error of the given type.
func New(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap creates a structured error wrapping an underlying cause.
func Wrap(errorType ErrorType, code, message string, cause error) *AppError {
	err := New(errorType, code, message)
	err.Cause = cause
	return err
}

// Constructors for the resolution taxonomy.

// NewRateLimitError signals that a caller exceeded its request window.
func NewRateLimitError(retryAfter time.Duration) *AppError {
	return New(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", "too many requests").
		WithMetadata("retry_after", retryAfter.String())
}

// NewProviderUnavailableError signals that a geocoding backend could not be
// reached or answered with a server-side failure.
func NewProviderUnavailableError(provider string, cause error) *AppError {
	return Wrap(ErrorTypeProviderUnavailable, "PROVIDER_UNAVAILABLE",
		fmt.Sprintf("geocoding provider %s is unavailable", provider), cause).
		WithMetadata("provider", provider)
}

// NewProviderRateLimitedError signals that a geocoding backend throttled us.
func NewProviderRateLimitedError(provider string) *AppError {
	return New(ErrorTypeProviderRateLimited, "PROVIDER_RATE_LIMITED",
		fmt.Sprintf("geocoding provider %s rejected the request as over quota", provider)).
		WithMetadata("provider", provider)
}

// NewMalformedError signals a request the provider could not interpret.
func NewMalformedError(provider string, cause error) *AppError {
	return Wrap(ErrorTypeMalformed, "MALFORMED_REQUEST",
		fmt.Sprintf("geocoding provider %s rejected the request", provider), cause).
		WithMetadata("provider", provider)
}

// NewPreferenceLookupError signals a failed identity-service call. Callers
// absorb it and substitute default preferences.
func NewPreferenceLookupError(cause error) *AppError {
	return Wrap(ErrorTypePreferenceLookup, "PREFERENCE_LOOKUP_FAILED",
		"preference lookup failed", cause)
}

// NewCacheBackendError signals a failed cache backend call. Callers treat it
// as a forced miss.
func NewCacheBackendError(operation string, cause error) *AppError {
	return Wrap(ErrorTypeCacheBackend, "CACHE_BACKEND_ERROR",
		fmt.Sprintf("cache operation failed: %s", operation), cause).
		WithMetadata("operation", operation)
}

// IsType reports whether err (or anything it wraps) is an AppError of the
// given type.
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type if err is an AppError.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return "", false
}
