package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FilipeAphrody/sentinel-session/internal/config"
)

// NewRedisClient builds a client with bounded retries and timeouts.
// No store call retries forever.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:            cfg.Addr(),
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: time.Second,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// Connect pings the store, giving up after attempts tries.
func Connect(ctx context.Context, client redis.UniversalClient, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 500 * time.Millisecond):
		}
	}
	return fmt.Errorf("redis unreachable after %d attempts: %w", attempts, err)
}
