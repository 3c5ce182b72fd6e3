package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRuleSetCache stores rule-set listings in Redis as JSON so several
// instances share one cache and one invalidation.
type RedisRuleSetCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisRuleSetCache wraps an existing client. prefix is prepended to every key.
func NewRedisRuleSetCache(client *redis.Client, prefix string) *RedisRuleSetCache {
	return &RedisRuleSetCache{
		client: client,
		prefix: prefix,
		logger: slog.Default().With("component", "rules.rediscache"),
	}
}

func (c *RedisRuleSetCache) key(k string) string {
	return c.prefix + k
}

// Get reads and decodes an entry. Redis errors and undecodable entries count as misses.
func (c *RedisRuleSetCache) Get(ctx context.Context, key string) ([]*RuleSet, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed", "key", key, "error", err)
		}
		return nil, false
	}

	var sets []*RuleSet
	if err := json.Unmarshal(data, &sets); err != nil {
		c.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return sets, true
}

// Set encodes sets and stores them with ttl. A ttl of 0 keeps the entry until deleted.
func (c *RedisRuleSetCache) Set(ctx context.Context, key string, sets []*RuleSet, ttl time.Duration) error {
	data, err := json.Marshal(sets)
	if err != nil {
		return fmt.Errorf("failed to encode rule sets: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache rule sets: %w", err)
	}
	return nil
}

// Delete removes keys.
func (c *RedisRuleSetCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisRuleSetCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
