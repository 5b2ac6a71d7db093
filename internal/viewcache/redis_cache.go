// Package viewcache caches item projections in Redis. A projection at a
// finalized commit never changes, so entries are keyed by commit and only
// expire by TTL.
package viewcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"versionstore/api/internal/versioning"
)

const DefaultTTL = 10 * time.Minute

// RedisCache stores projected views as JSON. Tenant and commit are length
// prefixed in the key so that ids containing ':' cannot alias each other.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: "view:", ttl: ttl}
}

func (c *RedisCache) key(tenant, commit string, sort versioning.Sort) string {
	return fmt.Sprintf("%s%d:%s:%d:%s:%s", c.prefix, len(tenant), tenant, len(commit), commit, sort.String())
}

// Get returns the cached views. ok is false on a miss.
func (c *RedisCache) Get(ctx context.Context, tenant, commit string, sort versioning.Sort) ([]versioning.View, bool, error) {
	raw, err := c.client.Get(ctx, c.key(tenant, commit, sort)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup view: %w", err)
	}

	var views []versioning.View
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, false, fmt.Errorf("unmarshal view: %w", err)
	}
	return views, true, nil
}

func (c *RedisCache) Put(ctx context.Context, tenant, commit string, sort versioning.Sort, views []versioning.View) error {
	if views == nil {
		views = []versioning.View{}
	}
	raw, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("marshal view: %w", err)
	}
	if err := c.client.Set(ctx, c.key(tenant, commit, sort), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("save view: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
