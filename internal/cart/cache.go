package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/cartcache-backend/pkg/redis"
)

// ErrCacheMiss means no usable snapshot is cached for the user. Corrupt
// entries are reported as misses so the store repopulates them.
var ErrCacheMiss = errors.New("cart cache miss")

type snapshotBackend interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	Del(ctx context.Context, keys ...string) error
}

// Cache stores cart snapshots as JSON under prefix+userID.
type Cache struct {
	backend snapshotBackend
	prefix  string
	ttl     time.Duration
}

// NewCache builds the snapshot cache. A zero ttl defers to the backend default.
func NewCache(backend snapshotBackend, prefix string, ttl time.Duration) *Cache {
	return &Cache{backend: backend, prefix: prefix, ttl: ttl}
}

// Key returns the cache key for a user's cart.
func (c *Cache) Key(userID string) string {
	return c.prefix + userID
}

func (c *Cache) Get(ctx context.Context, userID string) (*Cart, error) {
	var snapshot Cart
	err := c.backend.GetJSON(ctx, c.Key(userID), &snapshot)
	switch {
	case err == nil:
	case errors.Is(err, redis.ErrMiss):
		return nil, ErrCacheMiss
	case errors.Is(err, redis.ErrCorruptValue):
		return nil, fmt.Errorf("%w: %w", ErrCacheMiss, err)
	default:
		return nil, err
	}
	snapshot.UserID = userID
	if snapshot.Items == nil {
		snapshot.Items = []Item{}
	}
	return &snapshot, nil
}

func (c *Cache) Set(ctx context.Context, cart *Cart) error {
	return c.backend.SetJSON(ctx, c.Key(cart.UserID), cart, c.ttl)
}

func (c *Cache) Delete(ctx context.Context, userID string) error {
	return c.backend.Del(ctx, c.Key(userID))
}
