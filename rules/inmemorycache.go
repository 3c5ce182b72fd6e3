package rules

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	sets      []*RuleSet
	expiresAt time.Time // zero means no expiration
}

// InMemoryRuleSetCache is a process-local implementation of RuleSetCache.
// Thread-safe for concurrent access. Entries are last-write-wins.
type InMemoryRuleSetCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryRuleSetCache creates a new in-memory rule-set cache
func NewInMemoryRuleSetCache() *InMemoryRuleSetCache {
	return &InMemoryRuleSetCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get retrieves cached rule sets
// Returns ok=false if the key is missing or expired
func (c *InMemoryRuleSetCache) Get(_ context.Context, key string) ([]*RuleSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		return nil, false
	}

	// Return copy to prevent external modifications
	setsCopy := make([]*RuleSet, len(entry.sets))
	copy(setsCopy, entry.sets)
	return setsCopy, true
}

// Set stores rule sets in cache
func (c *InMemoryRuleSetCache) Set(_ context.Context, key string, sets []*RuleSet, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy to prevent external modifications
	entry := cacheEntry{sets: make([]*RuleSet, len(sets))}
	copy(entry.sets, sets)
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

// Delete removes keys from the cache
func (c *InMemoryRuleSetCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// Len returns the number of entries, expired ones included
func (c *InMemoryRuleSetCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
