// Package geocoder contains the geocoding provider adapters and their
// selection table. Each provider maps its backend's native response into
// ResolvedLocation values ranked as the backend returned them; zero matches
// is an empty result, not an error.
package geocoder

import (
	"context"

	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/monitoring"
)

// Provider names used for preference modes and result attribution.
const (
	NameCoordinate = "coordinate"
	NameOSM        = "osm"
	NameGoogle     = "google"
	NameYandex     = "yandex"
)

// SearchOptions carries the per-request knobs for a provider call.
type SearchOptions struct {
	Locale       string
	Limit        int
	RadiusMeters int
	// Center biases the search viewport when known. Nil means unbiased.
	Center *location.Coordinate
}

// Provider resolves a classified query into ranked locations.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, q location.ClassifiedQuery, opts SearchOptions) ([]location.ResolvedLocation, error)
}

// boundsAround returns the lat/lon bounding box of a square with the given
// half-width in meters around a center coordinate. Approximation: one degree
// of latitude is ~111320 m; longitude is not corrected for latitude, which
// widens the box toward the poles. Good enough for viewport biasing.
func boundsAround(center location.Coordinate, radiusMeters int) (minLat, minLon, maxLat, maxLon float64) {
	delta := float64(radiusMeters) / 111320.0
	return center.Latitude - delta, center.Longitude - delta,
		center.Latitude + delta, center.Longitude + delta
}

func incRequest(m *monitoring.Metrics, provider, api string) {
	if m != nil {
		m.ProviderRequests.WithLabelValues(provider, api).Inc()
	}
}

func incResponse(m *monitoring.Metrics, provider, source string) {
	if m != nil {
		m.ProviderResponses.WithLabelValues(provider, source).Inc()
	}
}
