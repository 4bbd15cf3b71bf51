package cache

import (
	"context"

	"sosband-backend/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient returns a client for cfg's Redis, or nil when no address is
// configured.
func NewRedisClient(cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
