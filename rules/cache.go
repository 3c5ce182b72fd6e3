package rules

import (
	"context"
	"time"
)

// DefaultCacheTTL is how long a cached rule-set listing is served before a reload.
const DefaultCacheTTL = time.Hour

// RuleSetCache provides an abstraction for caching rule-set listings by key.
// This allows swapping between in-memory, Redis, or other caching implementations
// without touching evaluation logic.
type RuleSetCache interface {
	// Get retrieves cached rule sets, ok is false on a miss or an expired entry
	Get(ctx context.Context, key string) (sets []*RuleSet, ok bool)

	// Set stores rule sets under key for ttl. A ttl of 0 means no expiration.
	Set(ctx context.Context, key string, sets []*RuleSet, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// CacheConfig holds configuration for rule-set caching in a RuleSetStore.
type CacheConfig struct {
	// TTL is how long a listing is served. 0 means no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults for rule-set caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: DefaultCacheTTL,
	}
}
