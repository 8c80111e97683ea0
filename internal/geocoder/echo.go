package geocoder

import (
	"context"
	"fmt"

	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/monitoring"
	"github.com/placepin/placepin/internal/telemetry"
)

// ReverseGeocoder names the coordinate at town/city granularity.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64, locale string) (string, error)
}

// CoordinateEcho handles coordinate queries. It always resolves exactly one
// location: the parsed coordinate itself, optionally annotated with a
// reverse-geocoded place name.
type CoordinateEcho struct {
	reverse ReverseGeocoder
	metrics *monitoring.Metrics
}

// NewCoordinateEcho creates the echo provider. reverse may be nil, in which
// case the coordinate is returned unnamed.
func NewCoordinateEcho(reverse ReverseGeocoder, metrics *monitoring.Metrics) *CoordinateEcho {
	return &CoordinateEcho{reverse: reverse, metrics: metrics}
}

// Name implements Provider.
func (e *CoordinateEcho) Name() string { return NameCoordinate }

// Resolve implements Provider for coordinate queries. A reverse-geocode
// failure does not fail the resolution, the coordinate is still returned.
func (e *CoordinateEcho) Resolve(ctx context.Context, q location.ClassifiedQuery, opts SearchOptions) ([]location.ResolvedLocation, error) {
	if q.Coordinate == nil {
		return nil, apperrors.NewMalformedError(NameCoordinate, fmt.Errorf("echo provider requires a coordinate query"))
	}

	incRequest(e.metrics, NameCoordinate, "echo")

	resolved := location.ResolvedLocation{
		Latitude:  q.Coordinate.Latitude,
		Longitude: q.Coordinate.Longitude,
		Provider:  NameCoordinate,
	}
	if e.reverse != nil {
		name, err := e.reverse.ReverseGeocode(ctx, q.Coordinate.Latitude, q.Coordinate.Longitude, opts.Locale)
		if err != nil {
			telemetry.LogFromContext(ctx).
				WithError(err).
				WithField("provider", NameCoordinate).
				Warn("reverse geocode failed, returning bare coordinate")
		} else {
			resolved.Name = name
		}
	}
	return []location.ResolvedLocation{resolved}, nil
}
