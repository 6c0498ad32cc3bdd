// Package cartstore persists serialized carts for shoppers who are not signed in.
package cartstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/southernsense/storefront/internal/platform/config"
)

// KeyPrefix namespaces cart entries in the shared store.
const KeyPrefix = "southernSenseCart:"

// ErrNotFound is returned when no cart is stored under the key.
var ErrNotFound = errors.New("cartstore: key not found")

// Store is a byte-oriented key-value store with expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Key builds the store key for a cart session id.
func Key(session string) string {
	return KeyPrefix + strings.TrimSpace(session)
}

// Open builds the store selected by configuration. The returned close func releases connections.
func Open(cfg config.RedisConfig, cart config.CartConfig) (Store, func() error, error) {
	switch cart.StoreDriver {
	case "", "memory":
		return NewMemoryStore(cart.TTL, time.Now), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		return NewRedisStore(client, cart.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("cartstore: unsupported driver %q", cart.StoreDriver)
	}
}
