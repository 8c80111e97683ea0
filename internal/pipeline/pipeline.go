// Package pipeline drives a raw user query through classification, rate
// limiting, caching, preference lookup and provider resolution to a terminal
// outcome.
package pipeline

import (
	"context"
	"time"

	"github.com/placepin/placepin/internal/classifier"
	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/geocoder"
	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/monitoring"
	"github.com/placepin/placepin/internal/prefs"
	"github.com/placepin/placepin/internal/ratelimit"
	"github.com/placepin/placepin/internal/telemetry"
)

// Status is the terminal state of one resolution.
type Status string

const (
	// StatusResolved means the query ran to completion. The result may
	// still hold zero locations.
	StatusResolved Status = "resolved"
	// StatusRateLimited means the query was rejected before any provider
	// work happened.
	StatusRateLimited Status = "rate_limited"
	// StatusFailed means every eligible provider failed.
	StatusFailed Status = "failed"
)

// Outcome is what the transport layer renders back to the user.
type Outcome struct {
	Status     Status
	Result     location.ResolutionResult
	RetryAfter time.Duration // set when Status is StatusRateLimited
	Err        error         // set when Status is StatusFailed
}

// ResultCache is the application-tier cache the pipeline consults by
// fingerprint.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) (location.ResolutionResult, bool)
	Put(ctx context.Context, fingerprint string, result location.ResolutionResult)
}

// Pipeline owns one resolution flow. All stages are fixed at construction.
type Pipeline struct {
	limiter      *ratelimit.Limiter
	cache        ResultCache
	prefs        prefs.Service
	registry     *geocoder.Registry
	metrics      *monitoring.Metrics
	resultLimit  int
	radiusMeters int
}

// Config collects the pipeline's collaborators and limits.
type Config struct {
	Limiter      *ratelimit.Limiter
	Cache        ResultCache
	Prefs        prefs.Service
	Registry     *geocoder.Registry
	Metrics      *monitoring.Metrics
	ResultLimit  int
	RadiusMeters int
}

// New builds a Pipeline from its collaborators.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		limiter:      cfg.Limiter,
		cache:        cfg.Cache,
		prefs:        cfg.Prefs,
		registry:     cfg.Registry,
		metrics:      cfg.Metrics,
		resultLimit:  cfg.ResultLimit,
		radiusMeters: cfg.RadiusMeters,
	}
}

// Resolve runs one query end to end. It never panics on provider failure;
// every path ends in exactly one Outcome.
func (p *Pipeline) Resolve(ctx context.Context, q location.Query) Outcome {
	log := telemetry.LogFromContext(ctx).WithField("identity", q.Identity)

	classified := classifier.Classify(q.Raw)

	if decision := p.limiter.Admit(q.Identity); !decision.Allowed {
		log.WithField("retry_after", decision.RetryAfter).Info("query rate limited")
		p.countOutcome(StatusRateLimited)
		return Outcome{
			Status:     StatusRateLimited,
			RetryAfter: decision.RetryAfter,
			Err:        apperrors.NewRateLimitError(decision.RetryAfter),
		}
	}

	preferences := p.prefs.Get(ctx, q.Identity)
	provider := p.registry.ForQuery(classified, preferences.ProviderMode, preferences.Locale)
	if provider == nil {
		err := apperrors.New(apperrors.ErrorTypeInternal, "NO_PROVIDER", "no search provider registered")
		log.WithError(err).Error("resolution failed")
		p.countOutcome(StatusFailed)
		return Outcome{Status: StatusFailed, Err: err}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = p.resultLimit
	}
	opts := geocoder.SearchOptions{
		Locale:       preferences.Locale,
		Limit:        limit,
		RadiusMeters: p.radiusMeters,
	}

	fingerprint := classified.Fingerprint(provider.Name(), p.radiusMeters)
	if cached, ok := p.cache.Get(ctx, fingerprint); ok {
		p.countLookup("hit")
		p.countOutcome(StatusResolved)
		log.WithField("provider", provider.Name()).Debug("resolution served from cache")
		return Outcome{Status: StatusResolved, Result: cached.Truncate(limit)}
	}
	p.countLookup("miss")

	locations, err := provider.Resolve(ctx, classified, opts)
	if err != nil {
		locations, provider, err = p.tryFallback(ctx, classified, opts, provider, err)
	}
	if err != nil {
		log.WithError(err).Warn("resolution failed")
		p.countOutcome(StatusFailed)
		return Outcome{Status: StatusFailed, Err: err}
	}

	result := location.ResolutionResult{Locations: locations}
	if ctx.Err() == nil {
		p.cache.Put(ctx, fingerprint, result)
	}

	p.countOutcome(StatusResolved)
	log.WithField("provider", provider.Name()).
		WithField("results", len(locations)).
		Info("query resolved")
	return Outcome{Status: StatusResolved, Result: result.Truncate(limit)}
}

// tryFallback retries the configured fallback provider, but only when the
// preferred one was unavailable and the fallback is a different backend.
func (p *Pipeline) tryFallback(ctx context.Context, classified location.ClassifiedQuery, opts geocoder.SearchOptions, tried geocoder.Provider, err error) ([]location.ResolvedLocation, geocoder.Provider, error) {
	if !apperrors.IsType(err, apperrors.ErrorTypeProviderUnavailable) {
		return nil, tried, err
	}
	fallback := p.registry.Fallback()
	if fallback == nil || fallback.Name() == tried.Name() {
		return nil, tried, err
	}

	telemetry.LogFromContext(ctx).
		WithError(err).
		WithField("provider", tried.Name()).
		WithField("fallback", fallback.Name()).
		Warn("provider unavailable, trying fallback")

	locations, fbErr := fallback.Resolve(ctx, classified, opts)
	if fbErr != nil {
		return nil, fallback, fbErr
	}
	return locations, fallback, nil
}

func (p *Pipeline) countOutcome(status Status) {
	if p.metrics != nil {
		p.metrics.Outcomes.WithLabelValues(string(status)).Inc()
	}
}

func (p *Pipeline) countLookup(result string) {
	if p.metrics != nil {
		p.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
