package cartstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * 24 * time.Hour

// RedisStore keeps carts in Redis with a jittered TTL so abandoned carts age out gradually.
type RedisStore struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	jitter  func() time.Duration
}

// NewRedisStore wraps client. A non-positive ttl falls back to 30 days.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client:  client,
		baseTTL: ttl,
		jitter: func() time.Duration {
			return time.Duration(rand.IntN(60)) * time.Minute
		},
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cartstore: redis get: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, s.baseTTL+s.jitter()).Err(); err != nil {
		return fmt.Errorf("cartstore: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cartstore: redis delete: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
