package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateRepo keeps single-use OAuth state values in Redis.
type RedisStateRepo struct {
	client redis.UniversalClient
}

// NewRedisStateRepo creates a new repository instance.
func NewRedisStateRepo(client redis.UniversalClient) *RedisStateRepo {
	return &RedisStateRepo{client: client}
}

func stateKey(state string) string {
	return fmt.Sprintf("oauth:state:%s", state)
}

// Save stores a state value with a Time-To-Live (TTL).
// The key pattern is "oauth:state:<state>" -> value "provider".
func (r *RedisStateRepo) Save(ctx context.Context, state, provider string, ttl time.Duration) error {
	if err := r.client.Set(ctx, stateKey(state), provider, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store oauth state in redis: %w", err)
	}
	return nil
}

// Consume removes the state and reports whether it was issued for provider.
// A state can be consumed only once.
func (r *RedisStateRepo) Consume(ctx context.Context, state, provider string) (bool, error) {
	stored, err := r.client.GetDel(ctx, stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return stored == provider, nil
}
