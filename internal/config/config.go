package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds runtime settings loaded from env vars.
type Config struct {
	// Transport
	BotToken   string
	WebhookURL string
	HTTPPort   string

	// Resolution core
	ResultLimit        int
	SearchRadiusMeters int
	CacheTime          time.Duration

	// Rate limiting
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Preferences client
	PrefsGRPCAddr          string
	PrefsTimeout           time.Duration
	UserCacheTime          time.Duration
	CacheCleanUpInterval   time.Duration
	DefaultProviderMode    string
	DefaultLocale          string
	FallbackProvider       string

	// Providers
	GoogleAPIKey  string
	GoogleAPIMode string // "text" or "geotext"
	YandexGeocoderAPIKey string
	YandexPlacesAPIKey   string
	YandexAPIMode        string // "geocode", "place" or "geoplace"
	ProviderTimeout time.Duration

	// Redis (application-tier cache)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	Environment string
	LogLevel    string
}

// Load loads configuration from environment variables.
// Required variables: TELEGRAM_BOT_TOKEN.
// Everything else has a default suited for local development.
func Load() Config {
	return Config{
		BotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
		HTTPPort:   envOr("BOT_PORT", "8080"),

		ResultLimit:        envInt("RESULT_LIMIT", 5),
		SearchRadiusMeters: envInt("SEARCH_RADIUS_METERS", 5000),
		CacheTime:          envSeconds("CACHE_TIME", 3600),

		RateLimitMax:    envInt("REQUESTS_LIMITER_MAX_ALLOWED", 10),
		RateLimitWindow: envSeconds("REQUESTS_LIMITER_TIMEFRAME", 60),

		PrefsGRPCAddr:        os.Getenv("GRPC_ADDR_USER_SERVICE"),
		PrefsTimeout:         envSeconds("USER_SERVICE_TIMEOUT_SECS", 3),
		UserCacheTime:        envSeconds("USER_CACHE_TIME_SECS", 360),
		CacheCleanUpInterval: envSeconds("CACHE_CLEAN_UP_INTERVAL_SECS", 600),
		DefaultProviderMode:  envOr("DEFAULT_PROVIDER_MODE", "osm"),
		DefaultLocale:        envOr("DEFAULT_LOCALE", "en"),
		FallbackProvider:     envOr("FALLBACK_PROVIDER", "osm"),

		GoogleAPIKey:         os.Getenv("GOOGLE_MAPS_API_KEY"),
		GoogleAPIMode:        envOr("GAPI_MODE", "geotext"),
		YandexGeocoderAPIKey: os.Getenv("YANDEX_MAPS_GEOCODER_API_KEY"),
		YandexPlacesAPIKey:   os.Getenv("YANDEX_MAPS_PLACES_API_KEY"),
		YandexAPIMode:        envOr("YAPI_MODE", "geocode"),
		ProviderTimeout:      envSeconds("PROVIDER_TIMEOUT_SECS", 10),

		RedisHost:     envOr("REDIS_HOST", "localhost"),
		RedisPort:     envInt("REDIS_PORT", 6379),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		Environment: envOr("ENVIRONMENT", "development"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
	}
}

// Validate checks that all required configuration is present and sane.
func (c Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.ResultLimit <= 0 {
		return fmt.Errorf("RESULT_LIMIT must be positive")
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit threshold and window must be positive")
	}
	if c.GoogleAPIMode != "text" && c.GoogleAPIMode != "geotext" {
		return fmt.Errorf("GAPI_MODE must be \"text\" or \"geotext\", got %q", c.GoogleAPIMode)
	}
	switch c.YandexAPIMode {
	case "geocode":
	case "place", "geoplace":
		if c.YandexGeocoderAPIKey != "" && c.YandexPlacesAPIKey == "" {
			return fmt.Errorf("YAPI_MODE %q requires YANDEX_MAPS_PLACES_API_KEY", c.YandexAPIMode)
		}
	default:
		return fmt.Errorf("YAPI_MODE must be \"geocode\", \"place\" or \"geoplace\", got %q", c.YandexAPIMode)
	}
	if !knownProviderMode(c.DefaultProviderMode) {
		return fmt.Errorf("DEFAULT_PROVIDER_MODE must be one of %v, got %q", providerModes, c.DefaultProviderMode)
	}
	if c.FallbackProvider != "" && !knownProviderMode(c.FallbackProvider) {
		return fmt.Errorf("FALLBACK_PROVIDER must be one of %v, got %q", providerModes, c.FallbackProvider)
	}
	return nil
}

// providerModes are the search provider names a preference mode may select.
var providerModes = []string{"osm", "google", "yandex"}

func knownProviderMode(mode string) bool {
	for _, m := range providerModes {
		if mode == m {
			return true
		}
	}
	return false
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("WARNING: invalid value of %s, using default %d\n", key, fallback)
		return fallback
	}
	return n
}

func envSeconds(key string, fallbackSecs int) time.Duration {
	return time.Duration(envInt(key, fallbackSecs)) * time.Second
}
