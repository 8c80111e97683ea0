package geocoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/httpcache"
	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/monitoring"
	"github.com/placepin/placepin/internal/telemetry"
)

const (
	defaultGeocodeBaseURL = "https://maps.googleapis.com/maps/api"
	defaultPlacesBaseURL  = "https://places.googleapis.com/v1"

	// GoogleModeText uses the classic Geocoding API for free-text queries.
	GoogleModeText = "text"
	// GoogleModeGeotext uses Places Text Search, which handles
	// colloquial place names better than plain geocoding.
	GoogleModeGeotext = "geotext"
)

// GoogleClient talks to the Google Maps Platform. Depending on the mode it
// resolves free text via the Geocoding API or Places Text Search.
type GoogleClient struct {
	client         *http.Client
	apiKey         string
	mode           string
	geocodeBaseURL string
	placesBaseURL  string
	metrics        *monitoring.Metrics
}

// NewGoogle creates the Google provider. mode must be GoogleModeText or
// GoogleModeGeotext.
func NewGoogle(client *http.Client, apiKey, mode string, metrics *monitoring.Metrics) *GoogleClient {
	return &GoogleClient{
		client:         client,
		apiKey:         apiKey,
		mode:           mode,
		geocodeBaseURL: defaultGeocodeBaseURL,
		placesBaseURL:  defaultPlacesBaseURL,
		metrics:        metrics,
	}
}

// Name implements Provider.
func (g *GoogleClient) Name() string { return NameGoogle }

// Resolve implements Provider for search-text queries.
func (g *GoogleClient) Resolve(ctx context.Context, q location.ClassifiedQuery, opts SearchOptions) ([]location.ResolvedLocation, error) {
	if q.Search == nil {
		return nil, apperrors.NewMalformedError(NameGoogle, fmt.Errorf("google provider requires a search-text query"))
	}
	if g.mode == GoogleModeGeotext {
		return g.searchPlaces(ctx, q.Search.Original, opts)
	}
	return g.geocode(ctx, q.Search.Original, opts)
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

func (g *GoogleClient) geocode(ctx context.Context, query string, opts SearchOptions) ([]location.ResolvedLocation, error) {
	params := url.Values{}
	params.Set("address", query)
	params.Set("key", g.apiKey)
	if opts.Locale != "" {
		params.Set("language", opts.Locale)
	}
	if opts.Center != nil {
		minLat, minLon, maxLat, maxLon := boundsAround(*opts.Center, opts.RadiusMeters)
		params.Set("bounds", fmt.Sprintf("%f,%f|%f,%f", minLat, minLon, maxLat, maxLon))
	}

	u := fmt.Sprintf("%s/geocode/json?%s", g.geocodeBaseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperrors.NewMalformedError(NameGoogle, err)
	}

	incRequest(g.metrics, NameGoogle, "geocode")

	var decoded geocodeResponse
	if err := g.do(req, &decoded); err != nil {
		return nil, err
	}
	if err := g.checkStatus(decoded.Status); err != nil {
		return nil, err
	}

	locations := make([]location.ResolvedLocation, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		locations = append(locations, location.ResolvedLocation{
			Latitude:  r.Geometry.Location.Lat,
			Longitude: r.Geometry.Location.Lng,
			Address:   r.FormattedAddress,
			Provider:  NameGoogle,
		})
	}
	g.logResolved(ctx, "geocode", len(locations))
	return locations, nil
}

type placesSearchRequest struct {
	TextQuery      string `json:"textQuery"`
	LanguageCode   string `json:"languageCode,omitempty"`
	MaxResultCount int    `json:"maxResultCount,omitempty"`
	LocationBias   *struct {
		Circle struct {
			Center struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"center"`
			Radius float64 `json:"radius"`
		} `json:"circle"`
	} `json:"locationBias,omitempty"`
}

type placesSearchResponse struct {
	Places []struct {
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress string `json:"formattedAddress"`
		Location         struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
	} `json:"places"`
}

func (g *GoogleClient) searchPlaces(ctx context.Context, query string, opts SearchOptions) ([]location.ResolvedLocation, error) {
	body := placesSearchRequest{
		TextQuery:      query,
		LanguageCode:   opts.Locale,
		MaxResultCount: opts.Limit,
	}
	if opts.Center != nil {
		bias := &struct {
			Circle struct {
				Center struct {
					Latitude  float64 `json:"latitude"`
					Longitude float64 `json:"longitude"`
				} `json:"center"`
				Radius float64 `json:"radius"`
			} `json:"circle"`
		}{}
		bias.Circle.Center.Latitude = opts.Center.Latitude
		bias.Circle.Center.Longitude = opts.Center.Longitude
		bias.Circle.Radius = float64(opts.RadiusMeters)
		body.LocationBias = bias
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewMalformedError(NameGoogle, err)
	}

	u := fmt.Sprintf("%s/places:searchText", g.placesBaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewMalformedError(NameGoogle, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", g.apiKey)
	req.Header.Set("X-Goog-FieldMask", "places.displayName,places.formattedAddress,places.location")

	incRequest(g.metrics, NameGoogle, "places")

	var decoded placesSearchResponse
	if err := g.do(req, &decoded); err != nil {
		return nil, err
	}

	locations := make([]location.ResolvedLocation, 0, len(decoded.Places))
	for _, p := range decoded.Places {
		locations = append(locations, location.ResolvedLocation{
			Latitude:  p.Location.Latitude,
			Longitude: p.Location.Longitude,
			Name:      p.DisplayName.Text,
			Address:   p.FormattedAddress,
			Provider:  NameGoogle,
		})
	}
	g.logResolved(ctx, "places", len(locations))
	return locations, nil
}

func (g *GoogleClient) do(req *http.Request, v interface{}) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return apperrors.NewProviderUnavailableError(NameGoogle, err)
	}
	defer resp.Body.Close()

	if httpcache.FromCache(resp) {
		incResponse(g.metrics, NameGoogle, monitoring.SourceCache)
	} else {
		incResponse(g.metrics, NameGoogle, monitoring.SourceRemote)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewProviderRateLimitedError(NameGoogle)
	case resp.StatusCode >= http.StatusInternalServerError:
		return apperrors.NewProviderUnavailableError(NameGoogle, fmt.Errorf("google API error: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return apperrors.NewMalformedError(NameGoogle, fmt.Errorf("google API error: %s", resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return apperrors.NewProviderUnavailableError(NameGoogle, fmt.Errorf("decoding google response: %w", err))
	}
	return nil
}

// checkStatus maps Geocoding API status strings to error types.
// ZERO_RESULTS is not an error, the caller gets an empty slice.
func (g *GoogleClient) checkStatus(status string) error {
	switch status {
	case "OK", "ZERO_RESULTS":
		return nil
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return apperrors.NewProviderRateLimitedError(NameGoogle)
	case "REQUEST_DENIED", "INVALID_REQUEST":
		return apperrors.NewMalformedError(NameGoogle, fmt.Errorf("google geocoding status: %s", status))
	default:
		return apperrors.NewProviderUnavailableError(NameGoogle, fmt.Errorf("google geocoding status: %s", status))
	}
}

func (g *GoogleClient) logResolved(ctx context.Context, api string, count int) {
	telemetry.LogFromContext(ctx).
		WithField("provider", NameGoogle).
		WithField("api", api).
		WithField("results", count).
		Debug("google response received")
}
