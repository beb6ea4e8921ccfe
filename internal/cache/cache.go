package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"cloudarc/internal/observability"
)

// Cache is a best-effort JSON read cache in front of Postgres. A nil client
// turns every operation into a no-op so the API keeps serving when Redis is
// absent or down.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

func New(client *redis.Client, ttl time.Duration, logger *observability.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Get loads key into dest. Returns false on miss, unreachable Redis, or a
// corrupt entry.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil || c.client == nil {
		return false
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Error("cache_get_failed", map[string]any{"key": key, "error": err.Error()})
		}
		return false
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		c.logger.Error("cache_decode_failed", map[string]any{"key": key, "error": err.Error()})
		return false
	}

	return true
}

func (c *Cache) Set(ctx context.Context, key string, value any) {
	if c == nil || c.client == nil {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("cache_encode_failed", map[string]any{"key": key, "error": err.Error()})
		return
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Error("cache_set_failed", map[string]any{"key": key, "error": err.Error()})
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("cache_delete_failed", map[string]any{"keys": keys, "error": err.Error()})
	}
}

// DeletePattern removes every key matching pattern using SCAN so large
// keyspaces are not blocked the way KEYS would.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if c == nil || c.client == nil {
		return
	}

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	matched := make([]string, 0, 16)
	for iter.Next(ctx) {
		matched = append(matched, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Error("cache_scan_failed", map[string]any{"pattern": pattern, "error": err.Error()})
		return
	}

	c.Delete(ctx, matched...)
}
