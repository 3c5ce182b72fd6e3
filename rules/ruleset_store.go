package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ScopeFilter selects the rule sets visible to one evaluation.
type ScopeFilter struct {
	TenantID  string
	ProjectID string
	// RuleSetIDs narrows the result to an explicit allow-list when non-empty.
	RuleSetIDs []string
}

// Matches reports whether rs is active and visible under the filter.
func (f ScopeFilter) Matches(rs *RuleSet) bool {
	if rs == nil || !rs.Active {
		return false
	}
	switch rs.Scope {
	case ScopeGlobal:
	case ScopeTenant:
		if f.TenantID == "" || rs.TenantID != f.TenantID {
			return false
		}
	case ScopeProject:
		if f.ProjectID == "" || rs.ProjectID != f.ProjectID {
			return false
		}
	default:
		return false
	}
	return f.allows(rs.ID)
}

func (f ScopeFilter) allows(id string) bool {
	if len(f.RuleSetIDs) == 0 {
		return true
	}
	for _, allowed := range f.RuleSetIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

// cacheKey identifies the unnarrowed listing for the filter's owner.
func (f ScopeFilter) cacheKey() string {
	switch {
	case f.ProjectID != "":
		return projectCacheKey(f.ProjectID)
	case f.TenantID != "":
		return "rulesets:tenant:" + f.TenantID
	default:
		return globalCacheKey
	}
}

const globalCacheKey = "rulesets:global"

func projectCacheKey(projectID string) string {
	return "rulesets:" + projectID
}

// Cache request results reported to a CacheRecorder.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheRefresh = "refresh"
)

// CacheRecorder observes rule-set cache lookups.
type CacheRecorder interface {
	RecordCacheRequest(result string)
}

// RuleSetStore resolves the rule sets that apply to a scope, with a TTL-cached read
// path and explicit invalidation.
type RuleSetStore struct {
	repo     RuleSetRepository
	cache    RuleSetCache
	config   CacheConfig
	recorder CacheRecorder
	logger   *slog.Logger

	mu   sync.Mutex
	keys map[string]struct{} // keys written by this process
}

// RuleSetStoreOption configures a RuleSetStore.
type RuleSetStoreOption func(*RuleSetStore)

// WithCacheConfig replaces DefaultCacheConfig.
func WithCacheConfig(cfg CacheConfig) RuleSetStoreOption {
	return func(s *RuleSetStore) { s.config = cfg }
}

// WithCacheTTL overrides only the TTL of the cache config.
func WithCacheTTL(ttl time.Duration) RuleSetStoreOption {
	return func(s *RuleSetStore) { s.config.TTL = ttl }
}

// WithCacheRecorder reports hits and misses to r.
func WithCacheRecorder(r CacheRecorder) RuleSetStoreOption {
	return func(s *RuleSetStore) { s.recorder = r }
}

// WithRuleSetStoreLogger sets the logger.
func WithRuleSetStoreLogger(logger *slog.Logger) RuleSetStoreOption {
	return func(s *RuleSetStore) { s.logger = logger }
}

// NewRuleSetStore creates a store over repo. A nil cache gets an in-memory one.
func NewRuleSetStore(repo RuleSetRepository, cache RuleSetCache, opts ...RuleSetStoreOption) *RuleSetStore {
	if cache == nil {
		cache = NewInMemoryRuleSetCache()
	}
	s := &RuleSetStore{
		repo:   repo,
		cache:  cache,
		config: DefaultCacheConfig(),
		logger: slog.Default(),
		keys:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "rules.ruleset_store")
	return s
}

// Load reads the visible rule sets from the repository, bypassing the cache.
// Results are ordered global first, then tenant, then project, and by creation
// time within a scope.
func (s *RuleSetStore) Load(ctx context.Context, filter ScopeFilter) ([]*RuleSet, error) {
	sets, err := s.repo.ListRuleSets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule sets: %w", err)
	}
	return narrow(sets, filter), nil
}

// ListCached returns the rule sets for the filter from the cache, loading and caching
// them on a miss or when forceRefresh is set. The cache holds the full listing for the
// filter's owner; the RuleSetIDs allow-list is applied afterwards.
func (s *RuleSetStore) ListCached(ctx context.Context, filter ScopeFilter, forceRefresh bool) ([]*RuleSet, error) {
	key := filter.cacheKey()
	if !forceRefresh {
		if sets, ok := s.cache.Get(ctx, key); ok {
			s.record(CacheHit)
			return narrow(sets, filter), nil
		}
		s.record(CacheMiss)
	} else {
		s.record(CacheRefresh)
	}

	owner := filter
	owner.RuleSetIDs = nil
	sets, err := s.Load(ctx, owner)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, sets, s.config.TTL); err != nil {
		s.logger.Warn("failed to cache rule sets", "key", key, "error", err)
	} else {
		s.mu.Lock()
		s.keys[key] = struct{}{}
		s.mu.Unlock()
	}
	return narrow(sets, filter), nil
}

// Invalidate removes the project's cached listing and the global one.
// An empty projectID removes only the global listing.
func (s *RuleSetStore) Invalidate(ctx context.Context, projectID string) error {
	keys := []string{globalCacheKey}
	if projectID != "" {
		keys = append(keys, projectCacheKey(projectID))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate rule-set cache: %w", err)
	}
	s.forget(keys...)
	return nil
}

// InvalidateAll removes every listing this process has cached.
func (s *RuleSetStore) InvalidateAll(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.keys)+1)
	keys = append(keys, globalCacheKey)
	for k := range s.keys {
		if k != globalCacheKey {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()

	if err := s.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate rule-set cache: %w", err)
	}
	s.forget(keys...)
	return nil
}

func (s *RuleSetStore) forget(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.keys, k)
	}
}

func (s *RuleSetStore) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordCacheRequest(result)
	}
}

// narrow applies the filter and the scope ordering to a copy of sets.
func narrow(sets []*RuleSet, filter ScopeFilter) []*RuleSet {
	out := make([]*RuleSet, 0, len(sets))
	for _, rs := range sets {
		if filter.Matches(rs) {
			out = append(out, rs)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Scope.rank(), out[j].Scope.rank()
		if ri != rj {
			return ri < rj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
