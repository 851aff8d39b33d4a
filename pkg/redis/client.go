package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cartcache-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/cartcache-backend/pkg/errors"
	"github.com/angelmondragon/cartcache-backend/pkg/logger"
)

// DefaultTTL applies when neither the caller nor the client options set an expiry.
const DefaultTTL = 1800 * time.Second

var (
	// ErrMiss is returned when a key does not exist or has expired.
	ErrMiss = errors.New("redis: key not found")
	// ErrCorruptValue is returned when a stored value cannot be decoded.
	ErrCorruptValue = errors.New("redis: stored value could not be decoded")
)

// Node is the command surface used against a single master or replica.
// *redis.Client satisfies it.
type Node interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Get(context.Context, string) *redis.StringCmd
	Del(context.Context, ...string) *redis.IntCmd
	HIncrBy(context.Context, string, string, int64) *redis.IntCmd
	HGetAll(context.Context, string) *redis.MapStringStringCmd
}

// FieldCount is one entry of a hash ranked by its numeric value.
type FieldCount struct {
	Field string
	Count int64
}

// Client routes writes to the single master and reads to one of the replicas.
type Client struct {
	master     Node
	replicas   []Node
	selector   ReplicaSelector
	breaker    *gobreaker.CircuitBreaker[struct{}]
	defaultTTL time.Duration
	closers    []*redis.Client
}

// Option customises a Client.
type Option func(*Client)

// WithSelector overrides the replica selection strategy.
func WithSelector(s ReplicaSelector) Option {
	return func(c *Client) {
		if s != nil {
			c.selector = s
		}
	}
}

// WithDefaultTTL sets the expiry used when SetJSON receives ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithBreaker trips after consecutive backend failures and rejects calls until
// openTimeout elapses. Misses do not count as failures.
func WithBreaker(name string, failures uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		if failures == 0 {
			return
		}
		c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, redis.Nil)
			},
		})
	}
}

// NewWithNodes assembles a client from existing nodes. With no replicas, reads go to the master.
func NewWithNodes(master Node, replicas []Node, opts ...Option) *Client {
	c := &Client{
		master:     master,
		replicas:   replicas,
		selector:   RandomSelector{},
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New connects to the master and every replica and verifies each with PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	masterOpts, err := optionsFromConfig(cfg, cfg.MasterURL, cfg.MasterAddress)
	if err != nil {
		return nil, fmt.Errorf("redis master: %w", err)
	}
	master := redis.NewClient(masterOpts)
	closers := []*redis.Client{master}

	replicas := make([]Node, 0, len(cfg.ReplicaURLs))
	for i, raw := range cfg.ReplicaURLs {
		replicaOpts, err := optionsFromConfig(cfg, raw, "")
		if err != nil {
			_ = closeAll(closers)
			return nil, fmt.Errorf("redis replica %d: %w", i, err)
		}
		replica := redis.NewClient(replicaOpts)
		closers = append(closers, replica)
		replicas = append(replicas, replica)
	}

	for i, node := range closers {
		if err := node.Ping(ctx).Err(); err != nil {
			_ = closeAll(closers)
			if i == 0 {
				return nil, fmt.Errorf("ping redis master: %w", err)
			}
			return nil, fmt.Errorf("ping redis replica %d: %w", i-1, err)
		}
	}

	base := []Option{
		WithSelector(SelectorFor(cfg.ReplicaSelector)),
		WithBreaker("redis", cfg.BreakerFailures, cfg.BreakerOpenTimeout),
	}
	client := NewWithNodes(master, replicas, append(base, opts...)...)
	client.closers = closers

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"replicas": len(replicas),
			"selector": cfg.ReplicaSelector,
		})
		if len(replicas) == 0 {
			logg.Warn(ctx, "no redis replicas configured, reads will use the master")
		}
		logg.Info(ctx, "redis connection established")
	}
	return client, nil
}

func optionsFromConfig(cfg config.RedisConfig, rawURL, address string) (*redis.Options, error) {
	if rawURL == "" && address == "" {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if rawURL != "" {
		parsed, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if opts.Password == "" {
		opts.Password = cfg.Password
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// SetJSON serialises value and writes it to the master with ttl (or the default TTL when ttl <= 0).
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cache value")
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.exec("set", func(node Node) error {
		return node.Set(ctx, key, payload, ttl).Err()
	}, c.master)
}

// GetJSON reads key from a replica and decodes it into dest.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) error {
	var payload []byte
	err := c.exec("get", func(node Node) error {
		raw, err := node.Get(ctx, key).Bytes()
		payload = raw
		return err
	}, c.replica())
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptValue, key, err)
	}
	return nil
}

// Del removes keys on the master; replicas converge through replication.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.exec("del", func(node Node) error {
		return node.Del(ctx, keys...).Err()
	}, c.master)
}

// IncrementField atomically adds amount (possibly negative) to a hash field on the master.
func (c *Client) IncrementField(ctx context.Context, key, field string, amount int64) (int64, error) {
	var value int64
	err := c.exec("hincrby", func(node Node) error {
		v, err := node.HIncrBy(ctx, key, field, amount).Result()
		value = v
		return err
	}, c.master)
	return value, err
}

// TopK reads the whole hash at key from a replica and returns its fields ordered by
// value descending. Ties are ordered by field ascending (numerically when both fields
// are integers). k <= 0 returns every field.
func (c *Client) TopK(ctx context.Context, key string, k int) ([]FieldCount, error) {
	var raw map[string]string
	err := c.exec("hgetall", func(node Node) error {
		values, err := node.HGetAll(ctx, key).Result()
		raw = values
		return err
	}, c.replica())
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []FieldCount{}, nil
	}

	out := make([]FieldCount, 0, len(raw))
	for field, value := range raw {
		count, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%s]=%q", ErrCorruptValue, key, field, value)
		}
		out = append(out, FieldCount{Field: field, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return fieldLess(out[i].Field, out[j].Field)
	})
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out, nil
}

func fieldLess(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

// SetNX sets key on the master only if it does not exist yet.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	var ok bool
	err := c.exec("setnx", func(node Node) error {
		v, err := node.SetNX(ctx, key, value, ttl).Result()
		ok = v
		return err
	}, c.master)
	return ok, err
}

// GetMaster reads a raw string from the master, bypassing replicas. Returns ErrMiss when absent.
func (c *Client) GetMaster(ctx context.Context, key string) (string, error) {
	var value string
	err := c.exec("get_master", func(node Node) error {
		v, err := node.Get(ctx, key).Result()
		value = v
		return err
	}, c.master)
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return value, err
}

// Ping verifies the master connection.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.master == nil {
		return errors.New("redis client not initialized")
	}
	return c.master.Ping(ctx).Err()
}

// IsConnected is a liveness probe against the master. It never fails; any problem reports false.
func (c *Client) IsConnected(ctx context.Context) (connected bool) {
	defer func() {
		if recover() != nil {
			connected = false
		}
	}()
	return c.Ping(ctx) == nil
}

// Close shuts down every connection opened by New.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return closeAll(c.closers)
}

func closeAll(clients []*redis.Client) error {
	var err error
	for _, cl := range clients {
		err = multierr.Append(err, cl.Close())
	}
	return err
}

func (c *Client) replica() Node {
	if len(c.replicas) == 0 {
		return c.master
	}
	idx := c.selector.Pick(len(c.replicas))
	if idx < 0 || idx >= len(c.replicas) {
		idx = 0
	}
	return c.replicas[idx]
}

// exec runs fn against node through the breaker and classifies failures as
// CACHE_UNAVAILABLE. redis.Nil passes through untouched so callers can detect misses.
func (c *Client) exec(op string, fn func(Node) error, node Node) error {
	if node == nil {
		return pkgerrors.New(pkgerrors.CodeCacheUnavailable, "redis client not initialized")
	}
	var err error
	if c.breaker == nil {
		err = fn(node)
	} else {
		_, err = c.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, fn(node)
		})
	}
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeCacheUnavailable, err, "redis "+op)
}
