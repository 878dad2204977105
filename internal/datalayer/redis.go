package datalayer

import (
	"context"
	"fmt"

	"github.com/glizzus/alfira/internal/config"
	"github.com/redis/go-redis/v9"
)

func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisClientFromEnv connects to the REDIS_* environment and checks
// that the server answers.
func NewRedisClientFromEnv(ctx context.Context) (*redis.Client, *config.RedisConfig, error) {
	cfg, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load redis config: %w", err)
	}

	client := NewRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, cfg, nil
}
