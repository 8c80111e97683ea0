package geocoder

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/location"
)

func TestGoogleGeocodeMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode/json", r.URL.Path)
		assert.Equal(t, "Eiffel Tower", r.URL.Query().Get("address"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "Champ de Mars, Paris, France",
				"geometry": {"location": {"lat": 48.8584, "lng": 2.2945}}
			}]
		}`))
	}))
	defer server.Close()

	g := NewGoogle(server.Client(), "test-key", GoogleModeText, nil)
	g.geocodeBaseURL = server.URL

	locations, err := g.Resolve(context.Background(), searchQuery("Eiffel Tower"), SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.InDelta(t, 48.8584, locations[0].Latitude, 1e-6)
	assert.Equal(t, "Champ de Mars, Paris, France", locations[0].Address)
	assert.Equal(t, NameGoogle, locations[0].Provider)
}

func TestGoogleGeocodeZeroResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}))
	defer server.Close()

	g := NewGoogle(server.Client(), "test-key", GoogleModeText, nil)
	g.geocodeBaseURL = server.URL

	locations, err := g.Resolve(context.Background(), searchQuery("zzzz"), SearchOptions{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, locations)
}

func TestGoogleGeocodeStatusMapping(t *testing.T) {
	tests := []struct {
		status   string
		wantType apperrors.ErrorType
	}{
		{"OVER_QUERY_LIMIT", apperrors.ErrorTypeProviderRateLimited},
		{"REQUEST_DENIED", apperrors.ErrorTypeMalformed},
		{"INVALID_REQUEST", apperrors.ErrorTypeMalformed},
		{"UNKNOWN_ERROR", apperrors.ErrorTypeProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{"status": tt.status})
			}))
			defer server.Close()

			g := NewGoogle(server.Client(), "test-key", GoogleModeText, nil)
			g.geocodeBaseURL = server.URL

			_, err := g.Resolve(context.Background(), searchQuery("x"), SearchOptions{})
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.wantType))
		})
	}
}

func TestGooglePlacesMode(t *testing.T) {
	var gotBody placesSearchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Goog-FieldMask"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Write([]byte(`{
			"places": [{
				"displayName": {"text": "Brandenburg Gate"},
				"formattedAddress": "Pariser Platz, Berlin",
				"location": {"latitude": 52.5163, "longitude": 13.3777}
			}]
		}`))
	}))
	defer server.Close()

	g := NewGoogle(server.Client(), "test-key", GoogleModeGeotext, nil)
	g.placesBaseURL = server.URL

	center := &location.Coordinate{Latitude: 52.52, Longitude: 13.39}
	locations, err := g.Resolve(context.Background(), searchQuery("brandenburg gate"), SearchOptions{Locale: "en", Limit: 5, Center: center, RadiusMeters: 5000})
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "Brandenburg Gate", locations[0].Name)
	assert.Equal(t, "Pariser Platz, Berlin", locations[0].Address)

	assert.Equal(t, "brandenburg gate", gotBody.TextQuery)
	assert.Equal(t, 5, gotBody.MaxResultCount)
	require.NotNil(t, gotBody.LocationBias)
	assert.InDelta(t, 52.52, gotBody.LocationBias.Circle.Center.Latitude, 1e-6)
	assert.InDelta(t, 5000, gotBody.LocationBias.Circle.Radius, 1e-6)
}

func TestGooglePlacesHTTPErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType apperrors.ErrorType
	}{
		{"rate limited", http.StatusTooManyRequests, apperrors.ErrorTypeProviderRateLimited},
		{"server error", http.StatusBadGateway, apperrors.ErrorTypeProviderUnavailable},
		{"denied", http.StatusForbidden, apperrors.ErrorTypeMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			g := NewGoogle(server.Client(), "test-key", GoogleModeGeotext, nil)
			g.placesBaseURL = server.URL

			_, err := g.Resolve(context.Background(), searchQuery("x"), SearchOptions{})
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.wantType))
		})
	}
}
