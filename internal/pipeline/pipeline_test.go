package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/geocoder"
	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/prefs"
	"github.com/placepin/placepin/internal/ratelimit"
)

type memoryCache struct {
	entries map[string]location.ResolutionResult
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]location.ResolutionResult{}}
}

func (m *memoryCache) Get(_ context.Context, fingerprint string) (location.ResolutionResult, bool) {
	r, ok := m.entries[fingerprint]
	return r, ok
}

func (m *memoryCache) Put(_ context.Context, fingerprint string, result location.ResolutionResult) {
	m.puts++
	m.entries[fingerprint] = result
}

type scriptedProvider struct {
	name      string
	locations []location.ResolvedLocation
	err       error
	calls     int
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Resolve(_ context.Context, _ location.ClassifiedQuery, _ geocoder.SearchOptions) ([]location.ResolvedLocation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.locations, nil
}

func somePlaces(n int) []location.ResolvedLocation {
	out := make([]location.ResolvedLocation, n)
	for i := range out {
		out[i] = location.ResolvedLocation{Latitude: float64(i), Longitude: float64(i), Provider: "osm"}
	}
	return out
}

func newPipeline(t *testing.T, cache ResultCache, echo, osm, google *scriptedProvider) *Pipeline {
	t.Helper()
	registry := geocoder.NewRegistry(echo, "osm", "osm", osm, google)
	return New(Config{
		Limiter:      ratelimit.New(100, time.Minute),
		Cache:        cache,
		Prefs:        prefs.Static{ProviderMode: "osm", Locale: "en"},
		Registry:     registry,
		Metrics:      nil,
		ResultLimit:  5,
		RadiusMeters: 5000,
	})
}

func defaultProviders() (echo, osm, google *scriptedProvider) {
	echo = &scriptedProvider{name: "coordinate", locations: somePlaces(1)}
	osm = &scriptedProvider{name: "osm", locations: somePlaces(2)}
	google = &scriptedProvider{name: "google", locations: somePlaces(2)}
	return
}

func TestResolveTextQuery(t *testing.T) {
	echo, osm, google := defaultProviders()
	cache := newMemoryCache()
	p := newPipeline(t, cache, echo, osm, google)

	outcome := p.Resolve(context.Background(), location.Query{Raw: "central park", Identity: 7})
	require.Equal(t, StatusResolved, outcome.Status)
	assert.Len(t, outcome.Result.Locations, 2)
	assert.Equal(t, 1, osm.calls)
	assert.Zero(t, echo.calls)
	assert.Zero(t, google.calls)
	assert.Equal(t, 1, cache.puts)
}

func TestResolveCoordinateQuery(t *testing.T) {
	echo, osm, google := defaultProviders()
	p := newPipeline(t, newMemoryCache(), echo, osm, google)

	outcome := p.Resolve(context.Background(), location.Query{Raw: "40.7128,-74.0060", Identity: 7})
	require.Equal(t, StatusResolved, outcome.Status)
	assert.Equal(t, 1, echo.calls)
	assert.Zero(t, osm.calls)
}

func TestResolveSecondCallHitsCache(t *testing.T) {
	echo, osm, google := defaultProviders()
	cache := newMemoryCache()
	p := newPipeline(t, cache, echo, osm, google)

	first := p.Resolve(context.Background(), location.Query{Raw: "central park", Identity: 7})
	second := p.Resolve(context.Background(), location.Query{Raw: "Central  Park", Identity: 8})

	require.Equal(t, StatusResolved, first.Status)
	require.Equal(t, StatusResolved, second.Status)
	assert.Equal(t, 1, osm.calls, "normalized repeat query must be served from cache")
	assert.Equal(t, first.Result, second.Result)
}

func TestResolveRateLimited(t *testing.T) {
	echo, osm, google := defaultProviders()
	registry := geocoder.NewRegistry(echo, "osm", "osm", osm, google)
	p := New(Config{
		Limiter:      ratelimit.New(1, time.Minute),
		Cache:        newMemoryCache(),
		Prefs:        prefs.Static{ProviderMode: "osm", Locale: "en"},
		Registry:     registry,
		ResultLimit:  5,
		RadiusMeters: 5000,
	})

	first := p.Resolve(context.Background(), location.Query{Raw: "a", Identity: 7})
	second := p.Resolve(context.Background(), location.Query{Raw: "b", Identity: 7})

	require.Equal(t, StatusResolved, first.Status)
	require.Equal(t, StatusRateLimited, second.Status)
	assert.Greater(t, second.RetryAfter, time.Duration(0))
	assert.True(t, apperrors.IsType(second.Err, apperrors.ErrorTypeRateLimit))
	assert.Equal(t, 1, osm.calls, "rejected query must not reach a provider")
}

func TestResolveFallbackOnUnavailable(t *testing.T) {
	echo := &scriptedProvider{name: "coordinate"}
	google := &scriptedProvider{name: "google", err: apperrors.NewProviderUnavailableError("google", nil)}
	osm := &scriptedProvider{name: "osm", locations: somePlaces(1)}
	registry := geocoder.NewRegistry(echo, "google", "osm", osm, google)
	p := New(Config{
		Limiter:      ratelimit.New(100, time.Minute),
		Cache:        newMemoryCache(),
		Prefs:        prefs.Static{ProviderMode: "google", Locale: "en"},
		Registry:     registry,
		ResultLimit:  5,
		RadiusMeters: 5000,
	})

	outcome := p.Resolve(context.Background(), location.Query{Raw: "somewhere", Identity: 7})
	require.Equal(t, StatusResolved, outcome.Status)
	assert.Equal(t, 1, google.calls)
	assert.Equal(t, 1, osm.calls)
	assert.Len(t, outcome.Result.Locations, 1)
}

func TestResolveNoFallbackOnOtherErrors(t *testing.T) {
	echo := &scriptedProvider{name: "coordinate"}
	google := &scriptedProvider{name: "google", err: apperrors.NewProviderRateLimitedError("google")}
	osm := &scriptedProvider{name: "osm", locations: somePlaces(1)}
	registry := geocoder.NewRegistry(echo, "google", "osm", osm, google)
	p := New(Config{
		Limiter:      ratelimit.New(100, time.Minute),
		Cache:        newMemoryCache(),
		Prefs:        prefs.Static{ProviderMode: "google", Locale: "en"},
		Registry:     registry,
		ResultLimit:  5,
		RadiusMeters: 5000,
	})

	outcome := p.Resolve(context.Background(), location.Query{Raw: "somewhere", Identity: 7})
	require.Equal(t, StatusFailed, outcome.Status)
	assert.Zero(t, osm.calls, "rate-limited provider must not trigger fallback")
	assert.True(t, apperrors.IsType(outcome.Err, apperrors.ErrorTypeProviderRateLimited))
}

func TestResolveBothProvidersFail(t *testing.T) {
	echo := &scriptedProvider{name: "coordinate"}
	google := &scriptedProvider{name: "google", err: apperrors.NewProviderUnavailableError("google", nil)}
	osm := &scriptedProvider{name: "osm", err: apperrors.NewProviderUnavailableError("osm", nil)}
	registry := geocoder.NewRegistry(echo, "google", "osm", osm, google)
	p := New(Config{
		Limiter:      ratelimit.New(100, time.Minute),
		Cache:        newMemoryCache(),
		Prefs:        prefs.Static{ProviderMode: "google", Locale: "en"},
		Registry:     registry,
		ResultLimit:  5,
		RadiusMeters: 5000,
	})

	outcome := p.Resolve(context.Background(), location.Query{Raw: "somewhere", Identity: 7})
	require.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, 1, google.calls)
	assert.Equal(t, 1, osm.calls, "fallback is tried at most once")
}

func TestResolveEmptyResultIsResolved(t *testing.T) {
	echo, osm, google := defaultProviders()
	osm.locations = nil
	cache := newMemoryCache()
	p := newPipeline(t, cache, echo, osm, google)

	outcome := p.Resolve(context.Background(), location.Query{Raw: "nowhereville", Identity: 7})
	require.Equal(t, StatusResolved, outcome.Status)
	assert.True(t, outcome.Result.Empty())
	assert.Equal(t, 1, cache.puts, "empty results are cached too")
}

func TestResolveCancelledContextSkipsCacheWrite(t *testing.T) {
	echo, osm, google := defaultProviders()
	cache := newMemoryCache()
	p := newPipeline(t, cache, echo, osm, google)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := p.Resolve(ctx, location.Query{Raw: "central park", Identity: 7})
	require.Equal(t, StatusResolved, outcome.Status)
	assert.Zero(t, cache.puts)
}

func TestResolveUnregisteredDefaultModeStillResolves(t *testing.T) {
	echo := &scriptedProvider{name: "coordinate"}
	osm := &scriptedProvider{name: "osm", locations: somePlaces(1)}
	registry := geocoder.NewRegistry(echo, "yandex", "", osm)
	p := New(Config{
		Limiter:      ratelimit.New(100, time.Minute),
		Cache:        newMemoryCache(),
		Prefs:        prefs.Static{ProviderMode: "yandex", Locale: "en"},
		Registry:     registry,
		ResultLimit:  5,
		RadiusMeters: 5000,
	})

	outcome := p.Resolve(context.Background(), location.Query{Raw: "somewhere", Identity: 7})
	require.Equal(t, StatusResolved, outcome.Status)
	assert.Equal(t, 1, osm.calls, "the registered provider serves unknown modes")
}

func TestResolveRegionalProviderByLocale(t *testing.T) {
	echo := &scriptedProvider{name: "coordinate"}
	osm := &scriptedProvider{name: "osm", locations: somePlaces(1)}
	yandex := &scriptedProvider{name: "yandex", locations: somePlaces(1)}
	registry := geocoder.NewRegistry(echo, "osm", "osm", osm).WithRegional("ru", yandex)
	p := New(Config{
		Limiter:      ratelimit.New(100, time.Minute),
		Cache:        newMemoryCache(),
		Prefs:        prefs.Static{Locale: "ru"},
		Registry:     registry,
		ResultLimit:  5,
		RadiusMeters: 5000,
	})

	outcome := p.Resolve(context.Background(), location.Query{Raw: "красная площадь", Identity: 7})
	require.Equal(t, StatusResolved, outcome.Status)
	assert.Equal(t, 1, yandex.calls)
	assert.Zero(t, osm.calls)
}

func TestResolveTruncatesToLimit(t *testing.T) {
	echo, osm, google := defaultProviders()
	osm.locations = somePlaces(10)
	p := newPipeline(t, newMemoryCache(), echo, osm, google)

	outcome := p.Resolve(context.Background(), location.Query{Raw: "cafes", Identity: 7, Limit: 3})
	require.Equal(t, StatusResolved, outcome.Status)
	assert.Len(t, outcome.Result.Locations, 3)
}
