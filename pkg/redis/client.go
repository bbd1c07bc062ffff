// Package redis is the shared Redis layer: request idempotency, checkout rate
// limit counters, the Stripe catalog cache, webhook replay markers and the
// maintenance lock all live behind this client under the "bs" keyspace.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

// Keyspace prefixes every key this service writes.
type Keyspace string

const DefaultKeyspace Keyspace = "bs"

// Key joins the non-empty parts under the keyspace.
func (k Keyspace) Key(parts ...string) string {
	var b strings.Builder
	b.WriteString(string(k))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

var errNotConnected = errors.New("redis client not initialized")

// commands is the slice of go-redis the client drives. Tests substitute an
// in-memory implementation.
type commands interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Client struct {
	cmd  commands
	conn *redis.Client
	keys Keyspace
}

// New dials Redis from cfg and fails fast when the server is unreachable.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connected")
	}
	return &Client{cmd: conn, conn: conn, keys: DefaultKeyspace}, nil
}

// dialOptions prefers BULLIONSTORE_REDIS_URL and lets the discrete settings
// fill whatever the URL leaves unset.
func dialOptions(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	}
	if opts.Addr == "" {
		return nil, errors.New("redis url or address is required")
	}

	fillInt(&opts.DB, cfg.DB)
	fillInt(&opts.PoolSize, cfg.PoolSize)
	fillInt(&opts.MinIdleConns, cfg.MinIdleConns)
	fillDuration(&opts.DialTimeout, cfg.DialTimeout)
	fillDuration(&opts.ReadTimeout, cfg.ReadTimeout)
	fillDuration(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func fillInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func fillDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

func (c *Client) ready() error {
	if c == nil || c.cmd == nil {
		return errNotConnected
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.cmd.Ping(ctx).Err()
}

// Get returns redis.Nil on a miss; check it with IsNil.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.cmd.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.cmd.Set(ctx, key, value, ttl).Err()
}

// SetNX reports whether this call created the key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.cmd.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.cmd.Del(ctx, keys...).Err()
}

// IncrWithTTL bumps a window counter. The first increment opens the window by
// setting its TTL, so the count resets once the window elapses.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	count, err := c.cmd.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 && ttl > 0 {
		if err := c.cmd.Expire(ctx, key, ttl).Err(); err != nil {
			return count, fmt.Errorf("open counter window %s: %w", key, err)
		}
	}
	return count, nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) keyspace() Keyspace {
	if c == nil || c.keys == "" {
		return DefaultKeyspace
	}
	return c.keys
}

// IdempotencyKey scopes a client supplied Idempotency-Key or a webhook event id.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.keyspace().Key("idempotency", scope, id)
}

// RateLimitKey names a fixed-window counter, e.g. ("checkout", "ip", addr).
func (c *Client) RateLimitKey(parts ...string) string {
	return c.keyspace().Key(append([]string{"rate_limit"}, parts...)...)
}

// CatalogPriceKey caches the Stripe price provisioned for an item at a given
// unit amount. A repriced item lands on a new key.
func (c *Client) CatalogPriceKey(itemID string, unitAmount int64) string {
	return c.keyspace().Key("catalog", "price", itemID, strconv.FormatInt(unitAmount, 10))
}

// LockKey names a distributed lock owned by worker in env.
func (c *Client) LockKey(worker, env string) string {
	return c.keyspace().Key("lock", worker, strings.ToLower(env))
}

// IsNil reports a cache miss returned by Get.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
