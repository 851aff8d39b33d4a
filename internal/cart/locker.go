package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/cartcache-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/cartcache-backend/pkg/errors"
	"github.com/angelmondragon/cartcache-backend/pkg/redis"
)

const (
	defaultLockTTL   = 10 * time.Second
	defaultLockWait  = 3 * time.Second
	lockPollInterval = 25 * time.Millisecond
	lockKeyPrefix    = "lock:cart:"
)

var errLockHeld = errors.New("cart lock held")

// UserLocker serialises cart mutations per user. The returned unlock func is
// always non-nil when err is nil.
type UserLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// NoopLocker performs no serialisation. Concurrent writers to the same user
// race and the last store write wins.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// LocalLocker serialises writers within one process with a mutex per user.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*userLock{}}
}

func (l *LocalLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[userID]
	if !ok {
		entry = &userLock{}
		l.locks[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	if err := ctx.Err(); err != nil {
		l.release(userID, entry)
		return nil, err
	}
	return func() { l.release(userID, entry) }, nil
}

func (l *LocalLocker) release(userID string, entry *userLock) {
	entry.mu.Unlock()
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()
}

type lockBackend interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	GetMaster(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLocker serialises writers across processes with SETNX + TTL on the
// cache master. Each acquisition carries a random owner token and release
// only deletes the key while the token still matches.
type RedisLocker struct {
	client lockBackend
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(client lockBackend, ttl, wait time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for cart lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := lockKeyPrefix + userID
	owner := uuid.NewString()

	backoff := retry.WithMaxDuration(l.wait, retry.NewConstant(lockPollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(errLockHeld)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart is being modified, try again")
		}
		return nil, err
	}

	return func() {
		releaseCtx := context.WithoutCancel(ctx)
		value, err := l.client.GetMaster(releaseCtx, key)
		if err != nil || value != owner {
			return
		}
		_ = l.client.Del(releaseCtx, key)
	}, nil
}

// NewLocker builds the locker for the configured serialisation mode.
func NewLocker(cfg config.CartConfig, client *redis.Client) (UserLocker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.WriteSerialization)) {
	case "", config.WriteSerializationNone:
		return NoopLocker{}, nil
	case config.WriteSerializationLocal:
		return NewLocalLocker(), nil
	case config.WriteSerializationRedis:
		if client == nil {
			return nil, errors.New("redis write serialization requires a redis client")
		}
		return NewRedisLocker(client, cfg.LockTTL, cfg.LockWait)
	default:
		return nil, fmt.Errorf("unknown write serialization %q", cfg.WriteSerialization)
	}
}
