package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Updates.WithLabelValues(UpdateMessage).Inc()
	m.Updates.WithLabelValues(UpdateMessage).Inc()
	m.ProviderResponses.WithLabelValues("osm", SourceCache).Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Updates.WithLabelValues(UpdateMessage)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderResponses.WithLabelValues("osm", SourceCache)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Updates.WithLabelValues(UpdateInline)))
}

func TestMetrics_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	m.Outcomes.WithLabelValues("resolved").Inc()

	router := gin.New()
	router.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "placepin_resolution_outcomes_total")
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	healthy := true
	router.GET("/health", HealthHandler(map[string]func() bool{
		"redis": func() bool { return healthy },
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	healthy = false
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
