// Package redisx wraps the go-redis client and the stream helpers used for event fan-out.
package redisx

import (
	"context"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/config"
	"github.com/go-redis/redis/v8"
)

// Client alias so callers need not import go-redis directly.
type Client = redis.Client

// NewClient creates a client; it does not connect until first use.
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks the connection.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close closes client if it is not nil.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
