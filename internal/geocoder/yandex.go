package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/httpcache"
	"github.com/placepin/placepin/internal/location"
	"github.com/placepin/placepin/internal/monitoring"
	"github.com/placepin/placepin/internal/telemetry"
)

const (
	defaultYandexGeocodeBaseURL = "https://geocode-maps.yandex.ru"
	defaultYandexPlacesBaseURL  = "https://search-maps.yandex.ru"

	// YandexModeGeocode uses the HTTP Geocoder API only.
	YandexModeGeocode = "geocode"
	// YandexModePlace uses the Places API only.
	YandexModePlace = "place"
	// YandexModeGeoPlace tries the Geocoder first and falls through to
	// Places when it returns nothing.
	YandexModeGeoPlace = "geoplace"
)

// YandexClient talks to Yandex Maps. It is the regional backend for
// ru-locale identities.
type YandexClient struct {
	client         *http.Client
	geocodeAPIKey  string
	placesAPIKey   string
	mode           string
	geocodeBaseURL string
	placesBaseURL  string
	metrics        *monitoring.Metrics
}

// NewYandex creates the Yandex provider. placesAPIKey may be empty when mode
// is YandexModeGeocode.
func NewYandex(client *http.Client, geocodeAPIKey, placesAPIKey, mode string, metrics *monitoring.Metrics) *YandexClient {
	return &YandexClient{
		client:         client,
		geocodeAPIKey:  geocodeAPIKey,
		placesAPIKey:   placesAPIKey,
		mode:           mode,
		geocodeBaseURL: defaultYandexGeocodeBaseURL,
		placesBaseURL:  defaultYandexPlacesBaseURL,
		metrics:        metrics,
	}
}

// Name implements Provider.
func (y *YandexClient) Name() string { return NameYandex }

// Resolve implements Provider for search-text queries.
func (y *YandexClient) Resolve(ctx context.Context, q location.ClassifiedQuery, opts SearchOptions) ([]location.ResolvedLocation, error) {
	if q.Search == nil {
		return nil, apperrors.NewMalformedError(NameYandex, fmt.Errorf("yandex provider requires a search-text query"))
	}

	switch y.mode {
	case YandexModePlace:
		return y.searchPlaces(ctx, q.Search.Original, opts)
	case YandexModeGeoPlace:
		locations, err := y.geocode(ctx, q.Search.Original, opts)
		if err != nil || len(locations) > 0 {
			return locations, err
		}
		return y.searchPlaces(ctx, q.Search.Original, opts)
	default:
		return y.geocode(ctx, q.Search.Original, opts)
	}
}

type yandexGeocodeResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					MetaDataProperty struct {
						GeocoderMetaData struct {
							Text string `json:"text"`
						} `json:"GeocoderMetaData"`
					} `json:"metaDataProperty"`
					Point struct {
						Pos string `json:"pos"` // "lon lat"
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

func (y *YandexClient) geocode(ctx context.Context, query string, opts SearchOptions) ([]location.ResolvedLocation, error) {
	params := url.Values{}
	params.Set("apikey", y.geocodeAPIKey)
	params.Set("geocode", query)
	params.Set("format", "json")
	if opts.Locale != "" {
		params.Set("lang", opts.Locale)
	}

	incRequest(y.metrics, NameYandex, "geocode")

	var decoded yandexGeocodeResponse
	if err := y.do(ctx, fmt.Sprintf("%s/1.x?%s", y.geocodeBaseURL, params.Encode()), &decoded); err != nil {
		return nil, err
	}

	members := decoded.Response.GeoObjectCollection.FeatureMember
	locations := make([]location.ResolvedLocation, 0, len(members))
	for _, m := range members {
		lat, lon, ok := parsePos(m.GeoObject.Point.Pos)
		if !ok {
			continue
		}
		locations = append(locations, location.ResolvedLocation{
			Latitude:  lat,
			Longitude: lon,
			Address:   m.GeoObject.MetaDataProperty.GeocoderMetaData.Text,
			Provider:  NameYandex,
		})
	}
	y.logResolved(ctx, "geocode", len(locations))
	return locations, nil
}

type yandexPlacesResponse struct {
	Features []struct {
		Properties struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
	} `json:"features"`
}

func (y *YandexClient) searchPlaces(ctx context.Context, query string, opts SearchOptions) ([]location.ResolvedLocation, error) {
	if y.placesAPIKey == "" {
		return nil, apperrors.NewMalformedError(NameYandex, fmt.Errorf("yandex places API key is not configured"))
	}

	params := url.Values{}
	params.Set("apikey", y.placesAPIKey)
	params.Set("text", query)
	if opts.Locale != "" {
		params.Set("lang", opts.Locale)
	}

	incRequest(y.metrics, NameYandex, "place")

	var decoded yandexPlacesResponse
	if err := y.do(ctx, fmt.Sprintf("%s/v1/?%s", y.placesBaseURL, params.Encode()), &decoded); err != nil {
		return nil, err
	}

	locations := make([]location.ResolvedLocation, 0, len(decoded.Features))
	for _, f := range decoded.Features {
		if len(f.Geometry.Coordinates) < 2 {
			continue
		}
		locations = append(locations, location.ResolvedLocation{
			Latitude:  f.Geometry.Coordinates[1],
			Longitude: f.Geometry.Coordinates[0],
			Name:      f.Properties.Name,
			Address:   strings.TrimSuffix(f.Properties.Name+", "+f.Properties.Description, ", "),
			Provider:  NameYandex,
		})
	}
	y.logResolved(ctx, "place", len(locations))
	return locations, nil
}

func (y *YandexClient) do(ctx context.Context, u string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperrors.NewMalformedError(NameYandex, err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return apperrors.NewProviderUnavailableError(NameYandex, err)
	}
	defer resp.Body.Close()

	if httpcache.FromCache(resp) {
		incResponse(y.metrics, NameYandex, monitoring.SourceCache)
	} else {
		incResponse(y.metrics, NameYandex, monitoring.SourceRemote)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewProviderRateLimitedError(NameYandex)
	case resp.StatusCode >= http.StatusInternalServerError:
		return apperrors.NewProviderUnavailableError(NameYandex, fmt.Errorf("yandex API error: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return apperrors.NewMalformedError(NameYandex, fmt.Errorf("yandex API error: %s", resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return apperrors.NewProviderUnavailableError(NameYandex, fmt.Errorf("decoding yandex response: %w", err))
	}
	return nil
}

// parsePos splits the Geocoder's "lon lat" point encoding.
func parsePos(pos string) (lat, lon float64, ok bool) {
	parts := strings.Fields(pos)
	if len(parts) < 2 {
		return 0, 0, false
	}
	lon, lonErr := strconv.ParseFloat(parts[0], 64)
	lat, latErr := strconv.ParseFloat(parts[1], 64)
	if latErr != nil || lonErr != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

func (y *YandexClient) logResolved(ctx context.Context, api string, count int) {
	telemetry.LogFromContext(ctx).
		WithField("provider", NameYandex).
		WithField("api", api).
		WithField("results", count).
		Debug("yandex response received")
}
