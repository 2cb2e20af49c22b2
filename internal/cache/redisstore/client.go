// Package redisstore keeps cache tiers in Redis: one hash per tier plus a
// registry set naming every stored tier.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/geonav-cache/internal/cache"
	"github.com/mohammed-shakir/geonav-cache/internal/cache/keys"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
)

const DefaultNamespace = "geonav"

type settings struct {
	ro *redis.Options
	ns string
}

type Option func(*settings)

func WithPoolSize(n int) Option {
	return func(s *settings) { s.ro.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(s *settings) { s.ro.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(s *settings) { s.ro.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(s *settings) { s.ro.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *settings) { s.ro.WriteTimeout = d }
}

// WithNamespace prefixes every key so several deployments can share a
// Redis instance.
func WithNamespace(ns string) Option {
	return func(s *settings) {
		if ns != "" {
			s.ns = ns
		}
	}
}

type Client struct {
	rdb *redis.Client
	ns  string
}

var _ cache.Store = (*Client)(nil)

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	s := &settings{
		ro: &redis.Options{
			Addr:         addr,
			PoolSize:     16,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
			MaintNotificationsConfig: &maintnotifications.Config{
				Mode: maintnotifications.ModeDisabled,
			},
		},
		ns: DefaultNamespace,
	}
	for _, f := range opts {
		f(s)
	}

	rdb := redis.NewClient(s.ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("redis", "ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, ns: s.ns}, nil
}

func (c *Client) Get(ctx context.Context, tier, key string) ([]byte, bool, error) {
	start := time.Now()
	v, err := c.rdb.HGet(ctx, keys.TierKey(c.ns, tier), key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveStoreOp("redis", "get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveStoreOp("redis", "get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis HGET %s: %w", tier, err)
	}
	return v, true, nil
}

func (c *Client) Put(ctx context.Context, tier, key string, val []byte) error {
	start := time.Now()
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, keys.RegistryKey(c.ns), tier)
		p.HSet(ctx, keys.TierKey(c.ns, tier), key, val)
		return nil
	})
	observability.ObserveStoreOp("redis", "put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HSET %s: %w", tier, err)
	}
	return nil
}

func (c *Client) CreateTier(ctx context.Context, tier string) error {
	start := time.Now()
	err := c.rdb.SAdd(ctx, keys.RegistryKey(c.ns), tier).Err()
	observability.ObserveStoreOp("redis", "create_tier", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SADD %s: %w", tier, err)
	}
	return nil
}

func (c *Client) Tiers(ctx context.Context) ([]string, error) {
	start := time.Now()
	names, err := c.rdb.SMembers(ctx, keys.RegistryKey(c.ns)).Result()
	observability.ObserveStoreOp("redis", "tiers", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) DropTier(ctx context.Context, tier string) error {
	start := time.Now()
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys.TierKey(c.ns, tier))
		p.SRem(ctx, keys.RegistryKey(c.ns), tier)
		return nil
	})
	observability.ObserveStoreOp("redis", "drop", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL tier %s: %w", tier, err)
	}
	return nil
}

// Len returns the number of entries in tier.
func (c *Client) Len(ctx context.Context, tier string) (int64, error) {
	n, err := c.rdb.HLen(ctx, keys.TierKey(c.ns, tier)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis HLEN %s: %w", tier, err)
	}
	return n, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
