// Package cache holds the application-tier result cache: parsed resolution
// results keyed by query fingerprint, stored in Redis with a fixed TTL.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/telemetry"
)

// ResultCache stores ResolutionResult values by fingerprint. A failing
// backend is never fatal: reads degrade to misses and writes are dropped,
// so resolution proceeds without caching.
type ResultCache struct {
	client Client
	ttl    time.Duration
}

// NewResultCache creates a result cache with the configured TTL.
func NewResultCache(client Client, ttl time.Duration) *ResultCache {
	return &ResultCache{client: client, ttl: ttl}
}

// Get returns the cached result for the fingerprint, if present and fresh.
// Backend errors are logged at low severity and reported as a miss.
func (c *ResultCache) Get(ctx context.Context, fingerprint string) (location.ResolutionResult, bool) {
	var result location.ResolutionResult

	val, err := c.client.Get(ctx, fingerprint).Result()
	if err == redis.Nil {
		return result, false
	}
	if err != nil {
		telemetry.LogFromContext(ctx).
			WithField("service", "result_cache").
			WithError(apperrors.NewCacheBackendError("get", err)).
			Warn("cache backend unavailable, treating as miss")
		return result, false
	}

	if err := json.Unmarshal([]byte(val), &result); err != nil {
		telemetry.LogFromContext(ctx).
			WithField("service", "result_cache").
			WithError(err).
			Warn("corrupt cache entry, treating as miss")
		return location.ResolutionResult{}, false
	}
	return result, true
}

// Put stores the result under the fingerprint, overwriting unconditionally.
// Backend errors are logged and dropped.
func (c *ResultCache) Put(ctx context.Context, fingerprint string, result location.ResolutionResult) {
	data, err := json.Marshal(result)
	if err != nil {
		telemetry.LogFromContext(ctx).
			WithField("service", "result_cache").
			WithError(err).
			Error("failed to marshal resolution result")
		return
	}

	if err := c.client.Set(ctx, fingerprint, data, c.ttl).Err(); err != nil {
		telemetry.LogFromContext(ctx).
			WithField("service", "result_cache").
			WithError(apperrors.NewCacheBackendError("set", err)).
			Warn("cache backend unavailable, dropping write")
	}
}

// HealthCheck verifies backend connectivity.
func (c *ResultCache) HealthCheck(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
