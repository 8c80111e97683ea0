// Package monitoring exposes the Prometheus metrics surface of the bot.
package monitoring

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Update kinds counted by UpdateCounter.
const (
	UpdateMessage      = "message"
	UpdateCommand      = "command"
	UpdateInline       = "inline"
	UpdateInlineChosen = "inline_chosen"
	UpdateCallback     = "callback"
)

// Response sources counted by ProviderResponses.
const (
	SourceCache  = "cache"
	SourceRemote = "remote"
)

// Metrics holds every counter the bot exports.
type Metrics struct {
	registry *prometheus.Registry

	// Updates counts inbound Telegram traffic by kind.
	Updates *prometheus.CounterVec
	// ProviderRequests counts outbound calls per provider and API.
	ProviderRequests *prometheus.CounterVec
	// ProviderResponses splits provider responses by source (cache|remote).
	ProviderResponses *prometheus.CounterVec
	// Outcomes counts terminal pipeline outcomes by status.
	Outcomes *prometheus.CounterVec
	// CacheLookups counts application-tier lookups by result (hit|miss).
	CacheLookups *prometheus.CounterVec
}

// New creates a Metrics set registered on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "placepin_updates_total",
			Help: "count of inbound Telegram updates by kind",
		}, []string{"kind"}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "placepin_provider_requests_total",
			Help: "count of requests to geocoding provider APIs",
		}, []string{"provider", "api"}),
		ProviderResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "placepin_provider_responses_total",
			Help: "count of provider responses split by the source",
		}, []string{"provider", "source"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "placepin_resolution_outcomes_total",
			Help: "count of terminal resolution outcomes by status",
		}, []string{"status"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "placepin_result_cache_lookups_total",
			Help: "count of application-tier cache lookups by result",
		}, []string{"result"}),
	}
}

// Handler returns a gin handler serving the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// HealthHandler reports liveness plus the readiness of the given probes.
func HealthHandler(probes map[string]func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{}
		for name, probe := range probes {
			ok := probe()
			checks[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, gin.H{
			"status":  map[bool]string{true: "healthy", false: "degraded"}[status == http.StatusOK],
			"service": "placepin-bot",
			"checks":  checks,
		})
	}
}
