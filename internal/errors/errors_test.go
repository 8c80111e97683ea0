package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorString(t *testing.T) {
	err := New(ErrorTypeInternal, "INTERNAL", "something broke")
	assert.Equal(t, "INTERNAL: something broke", err.Error())

	wrapped := Wrap(ErrorTypeCacheBackend, "CACHE_BACKEND_ERROR", "get failed", errors.New("conn refused"))
	assert.Contains(t, wrapped.Error(), "conn refused")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrorTypeProviderUnavailable, "PROVIDER_UNAVAILABLE", "down", cause)

	assert.ErrorIs(t, err, cause)
}

func TestIsType_ThroughWrapping(t *testing.T) {
	err := NewProviderUnavailableError("osm", errors.New("timeout"))
	outer := fmt.Errorf("dispatch failed: %w", err)

	assert.True(t, IsType(outer, ErrorTypeProviderUnavailable))
	assert.False(t, IsType(outer, ErrorTypeRateLimit))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeRateLimit))
}

func TestRateLimitErrorCarriesRetryAfter(t *testing.T) {
	err := NewRateLimitError(42 * time.Second)
	assert.Equal(t, ErrorTypeRateLimit, err.Type)
	assert.Equal(t, "42s", err.Metadata["retry_after"])
}

func TestTypeOf(t *testing.T) {
	typ, ok := TypeOf(NewProviderRateLimitedError("google"))
	assert.True(t, ok)
	assert.Equal(t, ErrorTypeProviderRateLimited, typ)

	_, ok = TypeOf(errors.New("plain"))
	assert.False(t, ok)
}
