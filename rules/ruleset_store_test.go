package rules

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type countingRepo struct {
	mu    sync.Mutex
	sets  []*RuleSet
	calls int
	err   error
}

func (r *countingRepo) ListRuleSets(_ context.Context, _ ScopeFilter) ([]*RuleSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.sets, r.err
}

func (r *countingRepo) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// shufflingRepo returns its sets in a new random order on every call.
type shufflingRepo struct {
	sets []*RuleSet
	rnd  *rand.Rand
}

func (r *shufflingRepo) ListRuleSets(_ context.Context, _ ScopeFilter) ([]*RuleSet, error) {
	out := append([]*RuleSet(nil), r.sets...)
	r.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

type recorder struct {
	results []string
}

func (r *recorder) RecordCacheRequest(result string) {
	r.results = append(r.results, result)
}

func scopedSets() []*RuleSet {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*RuleSet{
		{ID: "project", Scope: ScopeProject, ProjectID: "p-1", Active: true, CreatedAt: base},
		{ID: "global-new", Scope: ScopeGlobal, Active: true, CreatedAt: base.Add(time.Hour)},
		{ID: "tenant", Scope: ScopeTenant, TenantID: "t-1", Active: true, CreatedAt: base},
		{ID: "global-old", Scope: ScopeGlobal, Active: true, CreatedAt: base},
		{ID: "inactive", Scope: ScopeGlobal, Active: false, CreatedAt: base},
		{ID: "other-tenant", Scope: ScopeTenant, TenantID: "t-2", Active: true, CreatedAt: base},
		{ID: "other-project", Scope: ScopeProject, ProjectID: "p-2", Active: true, CreatedAt: base},
	}
}

func ids(sets []*RuleSet) []string {
	out := make([]string, len(sets))
	for i, rs := range sets {
		out[i] = rs.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestLoadFiltersAndOrders verifies visibility and global -> tenant -> project ordering
func TestLoadFiltersAndOrders(t *testing.T) {
	store := NewRuleSetStore(&countingRepo{sets: scopedSets()}, nil)

	got, err := store.Load(context.Background(), ScopeFilter{TenantID: "t-1", ProjectID: "p-1"})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	want := []string{"global-old", "global-new", "tenant", "project"}
	if !equalIDs(ids(got), want) {
		t.Errorf("Load() = %v, want %v", ids(got), want)
	}

	got, _ = store.Load(context.Background(), ScopeFilter{})
	if !equalIDs(ids(got), []string{"global-old", "global-new"}) {
		t.Errorf("Load() without owner = %v, want only global sets", ids(got))
	}

	got, _ = store.Load(context.Background(), ScopeFilter{TenantID: "t-1", ProjectID: "p-1", RuleSetIDs: []string{"project", "other-project"}})
	if !equalIDs(ids(got), []string{"project"}) {
		t.Errorf("Load() with allow-list = %v, want [project]", ids(got))
	}
}

// TestListCachedHitMissRefresh verifies the cache is used until refreshed or invalidated
func TestListCachedHitMissRefresh(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{sets: scopedSets()}
	rec := &recorder{}
	store := NewRuleSetStore(repo, NewInMemoryRuleSetCache(), WithCacheRecorder(rec))
	filter := ScopeFilter{TenantID: "t-1", ProjectID: "p-1"}

	for i := 0; i < 3; i++ {
		if _, err := store.ListCached(ctx, filter, false); err != nil {
			t.Fatalf("ListCached() failed: %v", err)
		}
	}
	if repo.Calls() != 1 {
		t.Errorf("repository calls = %d, want 1", repo.Calls())
	}

	narrowed, _ := store.ListCached(ctx, ScopeFilter{TenantID: "t-1", ProjectID: "p-1", RuleSetIDs: []string{"tenant"}}, false)
	if !equalIDs(ids(narrowed), []string{"tenant"}) {
		t.Errorf("allow-list over cached listing = %v, want [tenant]", ids(narrowed))
	}
	if repo.Calls() != 1 {
		t.Error("allow-list should be served from the cached listing")
	}

	if _, err := store.ListCached(ctx, filter, true); err != nil {
		t.Fatalf("forced refresh failed: %v", err)
	}
	if repo.Calls() != 2 {
		t.Errorf("forced refresh should reload, calls = %d", repo.Calls())
	}

	if err := store.Invalidate(ctx, "p-1"); err != nil {
		t.Fatalf("Invalidate() failed: %v", err)
	}
	_, _ = store.ListCached(ctx, filter, false)
	if repo.Calls() != 3 {
		t.Errorf("invalidated listing should reload, calls = %d", repo.Calls())
	}

	want := []string{CacheMiss, CacheHit, CacheHit, CacheHit, CacheRefresh, CacheMiss}
	if !equalIDs(rec.results, want) {
		t.Errorf("recorded = %v, want %v", rec.results, want)
	}
}

// TestListCachedTTL verifies an expired listing is reloaded
func TestListCachedTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	cache := NewInMemoryRuleSetCache()
	cache.now = func() time.Time { return now }
	repo := &countingRepo{sets: scopedSets()}
	store := NewRuleSetStore(repo, cache, WithCacheTTL(time.Minute))

	_, _ = store.ListCached(ctx, ScopeFilter{}, false)
	now = now.Add(30 * time.Second)
	_, _ = store.ListCached(ctx, ScopeFilter{}, false)
	if repo.Calls() != 1 {
		t.Fatalf("within ttl calls = %d, want 1", repo.Calls())
	}
	now = now.Add(time.Minute)
	_, _ = store.ListCached(ctx, ScopeFilter{}, false)
	if repo.Calls() != 2 {
		t.Errorf("after ttl calls = %d, want 2", repo.Calls())
	}
}

// TestCacheConfig verifies the store applies the configured TTL, with 0 meaning no expiry
func TestCacheConfig(t *testing.T) {
	if got := DefaultCacheConfig().TTL; got != DefaultCacheTTL {
		t.Errorf("DefaultCacheConfig().TTL = %v, want %v", got, DefaultCacheTTL)
	}

	testCases := []struct {
		name      string
		config    CacheConfig
		elapsed   time.Duration
		wantCalls int
	}{
		{"default config within an hour", DefaultCacheConfig(), 59 * time.Minute, 1},
		{"default config after an hour", DefaultCacheConfig(), 61 * time.Minute, 2},
		{"short ttl expires", CacheConfig{TTL: time.Second}, 2 * time.Second, 2},
		{"zero ttl never expires", CacheConfig{}, 24 * 365 * time.Hour, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			cache := NewInMemoryRuleSetCache()
			cache.now = func() time.Time { return now }
			repo := &countingRepo{sets: scopedSets()}
			store := NewRuleSetStore(repo, cache, WithCacheConfig(tc.config))

			_, _ = store.ListCached(ctx, ScopeFilter{}, false)
			now = now.Add(tc.elapsed)
			_, _ = store.ListCached(ctx, ScopeFilter{}, false)
			if repo.Calls() != tc.wantCalls {
				t.Errorf("repository calls = %d, want %d", repo.Calls(), tc.wantCalls)
			}
		})
	}
}

// TestInvalidateAll verifies every listing written by the store is dropped
func TestInvalidateAll(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryRuleSetCache()
	store := NewRuleSetStore(&countingRepo{sets: scopedSets()}, cache)

	_, _ = store.ListCached(ctx, ScopeFilter{ProjectID: "p-1"}, false)
	_, _ = store.ListCached(ctx, ScopeFilter{ProjectID: "p-2"}, false)
	_, _ = store.ListCached(ctx, ScopeFilter{TenantID: "t-1"}, false)
	_, _ = store.ListCached(ctx, ScopeFilter{}, false)
	if cache.Len() != 4 {
		t.Fatalf("cache entries = %d, want 4", cache.Len())
	}

	if err := store.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll() failed: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("cache entries after InvalidateAll = %d, want 0", cache.Len())
	}
}

// TestListCachedError verifies repository errors are returned and not cached
func TestListCachedError(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{err: errors.New("db down")}
	cache := NewInMemoryRuleSetCache()
	store := NewRuleSetStore(repo, cache)

	if _, err := store.ListCached(ctx, ScopeFilter{}, false); err == nil {
		t.Fatal("expected error")
	}
	if cache.Len() != 0 {
		t.Error("failed load should not be cached")
	}
}

// TestListCachedTiedCreatedAt verifies sets created at the same instant keep one order
// across reloads, so the sides of a conflict do not swap between runs
func TestListCachedTiedCreatedAt(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var sets []*RuleSet
	for _, code := range []string{"D", "B", "A", "C"} {
		sets = append(sets, &RuleSet{
			ID:        "rs-" + code,
			Scope:     ScopeGlobal,
			Active:    true,
			CreatedAt: created,
			Rules: []*Rule{{
				ID:      "r-" + code,
				Code:    "R_" + code,
				Outcome: Outcome{"type": "REQUIRED_FIELD", "field": "inspection", "value": code},
			}},
		})
	}
	repo := &shufflingRepo{sets: sets, rnd: rand.New(rand.NewSource(7))}
	store := NewRuleSetStore(repo, NewInMemoryRuleSetCache())

	want := []string{"rs-A", "rs-B", "rs-C", "rs-D"}
	for i := 0; i < 50; i++ {
		got, err := store.ListCached(ctx, ScopeFilter{}, true)
		if err != nil {
			t.Fatalf("ListCached() failed: %v", err)
		}
		if !equalIDs(ids(got), want) {
			t.Fatalf("reload %d order = %v, want %v", i, ids(got), want)
		}

		var hits []*Hit
		for _, rs := range got {
			r := rs.Rules[0]
			hits = append(hits, &Hit{RuleID: r.ID, RuleCode: r.Code, Outcome: r.Outcome})
		}
		conflicts := ConflictDetector{}.Detect(hits)
		if len(conflicts) != 6 {
			t.Fatalf("conflicts = %d, want 6", len(conflicts))
		}
		if conflicts[0].RuleACode != "R_A" || conflicts[0].RuleBCode != "R_B" {
			t.Errorf("reload %d first conflict = %s/%s, want R_A/R_B", i, conflicts[0].RuleACode, conflicts[0].RuleBCode)
		}
	}
}
