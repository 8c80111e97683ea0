package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/httpcache"
	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/monitoring"
	"github.com/placepin/placepin/internal/telemetry"
)

const defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"

// Nominatim is the OpenStreetMap search backend. It also serves as the
// reverse geocoder for the coordinate-echo provider.
type Nominatim struct {
	client    *http.Client
	baseURL   string
	userAgent string
	metrics   *monitoring.Metrics
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
}

// NewNominatim creates the OSM provider on top of the caching HTTP client.
func NewNominatim(client *http.Client, metrics *monitoring.Metrics) *Nominatim {
	return &Nominatim{
		client:    client,
		baseURL:   defaultNominatimBaseURL,
		userAgent: "placepin-bot/1.0",
		metrics:   metrics,
	}
}

// Name implements Provider.
func (n *Nominatim) Name() string { return NameOSM }

// Resolve implements Provider for search-text queries.
func (n *Nominatim) Resolve(ctx context.Context, q location.ClassifiedQuery, opts SearchOptions) ([]location.ResolvedLocation, error) {
	if q.Search == nil {
		return nil, apperrors.NewMalformedError(NameOSM, fmt.Errorf("nominatim provider requires a search-text query"))
	}

	params := url.Values{}
	params.Set("q", q.Search.Original)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(max(1, opts.Limit)))
	if opts.Locale != "" {
		params.Set("accept-language", opts.Locale)
	}
	if opts.Center != nil {
		minLat, minLon, maxLat, maxLon := boundsAround(*opts.Center, opts.RadiusMeters)
		params.Set("viewbox", fmt.Sprintf("%f,%f,%f,%f", minLon, minLat, maxLon, maxLat))
		params.Set("bounded", "1")
	}

	incRequest(n.metrics, NameOSM, "search")

	var results []nominatimResult
	if err := n.doRequest(ctx, "search", params, &results); err != nil {
		return nil, err
	}

	locations := make([]location.ResolvedLocation, 0, len(results))
	for _, r := range results {
		lat, latErr := strconv.ParseFloat(r.Lat, 64)
		lon, lonErr := strconv.ParseFloat(r.Lon, 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		locations = append(locations, location.ResolvedLocation{
			Latitude:  lat,
			Longitude: lon,
			Name:      r.Name,
			Address:   r.DisplayName,
			Provider:  NameOSM,
		})
	}
	return locations, nil
}

// ReverseGeocode returns the display name of the place at the coordinate,
// at town/city zoom.
func (n *Nominatim) ReverseGeocode(ctx context.Context, lat, lon float64, locale string) (string, error) {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lon", fmt.Sprintf("%f", lon))
	params.Set("format", "json")
	params.Set("zoom", "10")
	if locale != "" {
		params.Set("accept-language", locale)
	}

	incRequest(n.metrics, NameOSM, "reverse")

	var result nominatimResult
	if err := n.doRequest(ctx, "reverse", params, &result); err != nil {
		return "", err
	}
	return result.DisplayName, nil
}

func (n *Nominatim) doRequest(ctx context.Context, endpoint string, params url.Values, v interface{}) error {
	u := fmt.Sprintf("%s/%s?%s", n.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperrors.NewMalformedError(NameOSM, err)
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.NewProviderUnavailableError(NameOSM, err)
	}
	defer resp.Body.Close()

	if httpcache.FromCache(resp) {
		incResponse(n.metrics, NameOSM, monitoring.SourceCache)
	} else {
		incResponse(n.metrics, NameOSM, monitoring.SourceRemote)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewProviderRateLimitedError(NameOSM)
	case resp.StatusCode >= http.StatusInternalServerError:
		return apperrors.NewProviderUnavailableError(NameOSM, fmt.Errorf("nominatim API error: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return apperrors.NewMalformedError(NameOSM, fmt.Errorf("nominatim API error: %s", resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return apperrors.NewProviderUnavailableError(NameOSM, fmt.Errorf("decoding nominatim response: %w", err))
	}

	telemetry.LogFromContext(ctx).
		WithField("provider", NameOSM).
		WithField("endpoint", endpoint).
		Debug("nominatim response received")
	return nil
}
