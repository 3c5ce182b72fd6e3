package rules

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestInMemoryCacheGetSet verifies entries round-trip and are copied
func TestInMemoryCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryRuleSetCache()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("empty cache should miss")
	}

	sets := []*RuleSet{{ID: "a"}, {ID: "b"}}
	if err := c.Set(ctx, "k", sets, time.Minute); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	sets[0] = &RuleSet{ID: "changed"}

	got, ok := c.Get(ctx, "k")
	if !ok || len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("Get() = %v, %v; want the stored listing", got, ok)
	}
}

// TestInMemoryCacheTTL verifies expired entries miss and ttl 0 never expires
func TestInMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewInMemoryRuleSetCache()
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "short", []*RuleSet{{ID: "a"}}, time.Minute)
	_ = c.Set(ctx, "forever", []*RuleSet{{ID: "b"}}, 0)

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "short"); ok {
		t.Error("entry should have expired")
	}
	if _, ok := c.Get(ctx, "forever"); !ok {
		t.Error("entry without ttl should not expire")
	}
}

// TestInMemoryCacheDelete verifies deletion of present and missing keys
func TestInMemoryCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryRuleSetCache()
	_ = c.Set(ctx, "a", nil, 0)
	_ = c.Set(ctx, "b", nil, 0)

	if err := c.Delete(ctx, "a", "missing"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("deleted key should miss")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

// TestInMemoryCacheConcurrentAccess exercises the cache from many goroutines
func TestInMemoryCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryRuleSetCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b", "c"}[i%3]
			_ = c.Set(ctx, key, []*RuleSet{{ID: key}}, time.Minute)
			c.Get(ctx, key)
			if i%10 == 0 {
				_ = c.Delete(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}
