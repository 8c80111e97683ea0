package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/placepin/placepin/internal/telemetry"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Client is the subset of the Redis client the result cache needs.
// Narrowed for testing.
type Client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// NewRedisClient connects to Redis with OpenTelemetry instrumentation and
// verifies the connection.
func NewRedisClient(ctx context.Context, config RedisConfig) (*redis.Client, error) {
	logger := telemetry.LogFromContext(ctx).WithFields(map[string]interface{}{
		"service": "cache",
		"host":    config.Host,
		"port":    config.Port,
		"db":      config.DB,
	})

	logger.Info("Establishing Redis connection")

	poolSize := config.PoolSize
	if poolSize == 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   poolSize,
		MaxRetries: 3,
	})
	client.AddHook(redisotel.NewTracingHook())

	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connected successfully")
	return client, nil
}
