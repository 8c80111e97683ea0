package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/telemetry"
)

// fakeRedis is an in-memory Client with injectable failure.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.data[key] = string(value.([]byte))
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	val, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func sampleResult() location.ResolutionResult {
	return location.ResolutionResult{Locations: []location.ResolvedLocation{
		{Latitude: 48.8584, Longitude: 2.2945, Address: "Eiffel Tower, Paris", Provider: "osm"},
	}}
}

func TestResultCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(newFakeRedis(), time.Hour)

	want := sampleResult()
	c.Put(ctx, "fp-1", want)

	got, ok := c.Get(ctx, "fp-1")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestResultCache_MissingKeyIsMiss(t *testing.T) {
	c := NewResultCache(newFakeRedis(), time.Hour)
	_, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
}

func TestResultCache_BackendErrorIsForcedMiss(t *testing.T) {
	ctx := context.Background()
	backend := newFakeRedis()
	c := NewResultCache(backend, time.Hour)

	c.Put(ctx, "fp-1", sampleResult())
	backend.fail(errors.New("connection refused"))

	_, ok := c.Get(ctx, "fp-1")
	assert.False(t, ok)

	// Writes against a broken backend must not panic or error out.
	c.Put(ctx, "fp-2", sampleResult())
}

func TestResultCache_BackendErrorLogsCacheBackendType(t *testing.T) {
	ctx := context.Background()
	hook := logrustest.NewLocal(telemetry.GetGlobalLogger().Logger)
	defer hook.Reset()

	backend := newFakeRedis()
	backend.fail(errors.New("connection refused"))
	c := NewResultCache(backend, time.Hour)

	_, ok := c.Get(ctx, "fp-1")
	require.False(t, ok)
	c.Put(ctx, "fp-1", sampleResult())

	var types []apperrors.ErrorType
	for _, e := range hook.AllEntries() {
		if err, isErr := e.Data[logrus.ErrorKey].(error); isErr {
			if typ, known := apperrors.TypeOf(err); known {
				types = append(types, typ)
			}
		}
	}
	assert.Contains(t, types, apperrors.ErrorTypeCacheBackend)
}

func TestResultCache_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	backend := newFakeRedis()
	backend.data["fp-bad"] = "{not json"
	c := NewResultCache(backend, time.Hour)

	_, ok := c.Get(ctx, "fp-bad")
	assert.False(t, ok)
}

func TestResultCache_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	backend := newFakeRedis()
	c := NewResultCache(backend, time.Hour)

	c.Put(ctx, "fp-1", sampleResult())
	updated := location.ResolutionResult{Locations: []location.ResolvedLocation{
		{Latitude: 1, Longitude: 2, Provider: "google"},
	}}
	c.Put(ctx, "fp-1", updated)

	got, ok := c.Get(ctx, "fp-1")
	require.True(t, ok)
	assert.Equal(t, updated, got)

	var stored location.ResolutionResult
	require.NoError(t, json.Unmarshal([]byte(backend.data["fp-1"]), &stored))
	assert.Equal(t, updated, stored)
}

func TestResultCache_HealthCheck(t *testing.T) {
	backend := newFakeRedis()
	c := NewResultCache(backend, time.Hour)
	assert.True(t, c.HealthCheck(context.Background()))

	backend.fail(errors.New("down"))
	assert.False(t, c.HealthCheck(context.Background()))
}
