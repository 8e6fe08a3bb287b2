package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisConfig contains options for connecting to Redis.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection with a PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return rdb, nil
}
