package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/joho/godotenv"

	"github.com/placepin/placepin/internal/bothandler"
	"github.com/placepin/placepin/internal/cache"
	"github.com/placepin/placepin/internal/config"
	"github.com/placepin/placepin/internal/geocoder"
	"github.com/placepin/placepin/internal/httpcache"
	"github.com/placepin/placepin/internal/monitoring"
	"github.com/placepin/placepin/internal/pipeline"
	"github.com/placepin/placepin/internal/prefs"
	"github.com/placepin/placepin/internal/ratelimit"
	"github.com/placepin/placepin/internal/telemetry"
)

func main() {
	// .env is optional outside local development
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.Load()

	logFormat := "json"
	if cfg.IsDevelopment() {
		logFormat = "text"
	}
	if err := telemetry.InitGlobalLogger(&telemetry.LogConfig{
		Level:  telemetry.LogLevel(cfg.LogLevel),
		Format: logFormat,
		Output: "stdout",
	}); err != nil {
		panic(err)
	}
	logger := telemetry.GetGlobalLogger()

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceProvider, err := telemetry.NewTraceProvider(telemetry.DefaultOtelConfig())
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("trace provider shutdown failed")
		}
	}()

	redisClient, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}
	defer redisClient.Close()

	resultCache := cache.NewResultCache(redisClient, cfg.CacheTime)
	metrics := monitoring.New()

	transport := httpcache.New(nil, httpcache.WithCounters(
		metrics.ProviderResponses.WithLabelValues("http", monitoring.SourceCache),
		metrics.ProviderResponses.WithLabelValues("http", monitoring.SourceRemote),
	))
	transport.StartSweeper(ctx, cfg.CacheCleanUpInterval)
	httpClient := transport.Client(cfg.ProviderTimeout)

	defaultMode := cfg.DefaultProviderMode
	nominatim := geocoder.NewNominatim(httpClient, metrics)
	searchProviders := []geocoder.Provider{nominatim}
	if cfg.GoogleAPIKey != "" {
		searchProviders = append(searchProviders,
			geocoder.NewGoogle(httpClient, cfg.GoogleAPIKey, cfg.GoogleAPIMode, metrics))
	} else if defaultMode == geocoder.NameGoogle {
		logger.Warn("GOOGLE_MAPS_API_KEY is not set, defaulting to osm provider")
		defaultMode = geocoder.NameOSM
	}
	if cfg.YandexGeocoderAPIKey == "" && defaultMode == geocoder.NameYandex {
		logger.Warn("YANDEX_MAPS_GEOCODER_API_KEY is not set, defaulting to osm provider")
		defaultMode = geocoder.NameOSM
	}
	echo := geocoder.NewCoordinateEcho(nominatim, metrics)
	registry := geocoder.NewRegistry(echo, defaultMode, cfg.FallbackProvider, searchProviders...)
	if cfg.YandexGeocoderAPIKey != "" {
		yandex := geocoder.NewYandex(httpClient, cfg.YandexGeocoderAPIKey,
			cfg.YandexPlacesAPIKey, cfg.YandexAPIMode, metrics)
		registry.WithRegional("ru", yandex)
	}

	var preferences prefs.Service
	if cfg.PrefsGRPCAddr != "" {
		client, err := prefs.Dial(cfg.PrefsGRPCAddr, prefs.Options{
			CacheTTL:            cfg.UserCacheTime,
			Timeout:             cfg.PrefsTimeout,
			DefaultProviderMode: defaultMode,
			DefaultLocale:       cfg.DefaultLocale,
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to dial preferences service")
		}
		client.StartSweeper(ctx, cfg.CacheCleanUpInterval)
		preferences = client
	} else {
		logger.Info("GRPC_ADDR_USER_SERVICE is not set, using static preferences")
		preferences = prefs.Static{ProviderMode: defaultMode, Locale: cfg.DefaultLocale}
	}

	limiter := ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow)
	limiter.StartReaper(ctx, cfg.CacheCleanUpInterval)

	resolver := pipeline.New(pipeline.Config{
		Limiter:      limiter,
		Cache:        resultCache,
		Prefs:        preferences,
		Registry:     registry,
		Metrics:      metrics,
		ResultLimit:  cfg.ResultLimit,
		RadiusMeters: cfg.SearchRadiusMeters,
	})

	handler := bothandler.NewHandler(resolver, preferences, metrics)

	botAPI, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(handler.HandleUpdate))
	if err != nil {
		logger.WithError(err).Fatal("failed to create bot")
	}

	botInfo, err := botAPI.GetMe(ctx)
	if err != nil {
		logger.WithError(err).Fatal("failed to get bot info")
	}
	logger.WithField("username", botInfo.Username).Info("authorized with Telegram")

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", monitoring.HealthHandler(map[string]func() bool{
		"redis": func() bool { return resultCache.HealthCheck(ctx) },
	}))
	router.GET("/metrics", metrics.Handler())

	if cfg.WebhookURL != "" {
		router.POST("/webhook", handler.WebhookHandler(botAPI))
		if _, err := botAPI.SetWebhook(ctx, &bot.SetWebhookParams{
			URL: cfg.WebhookURL + "/webhook",
		}); err != nil {
			logger.WithError(err).Fatal("failed to set webhook")
		}
		logger.WithField("url", cfg.WebhookURL+"/webhook").Info("webhook registered")
	} else {
		if _, err := botAPI.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			logger.WithError(err).Warn("failed to remove webhook")
		}
		go botAPI.Start(ctx)
		logger.Info("bot started in polling mode")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.HTTPPort).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("forced shutdown")
		os.Exit(1)
	}
	logger.Info("server exited")
}
