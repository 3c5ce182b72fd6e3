package rules

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements Store with maps guarded by one RWMutex.
// A unit of work buffers its writes and applies them on commit, so a failed unit
// leaves nothing behind. Units of work are serialized.
type InMemoryStore struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	projects    map[string]*Project
	ruleSets    map[string]*RuleSet
	overrides   []*RuleOverride
	evaluations map[string]*Evaluation
	hits        []*Hit
	conflicts   map[string]*Conflict
	models      []*RequirementsModel
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		projects:    make(map[string]*Project),
		ruleSets:    make(map[string]*RuleSet),
		evaluations: make(map[string]*Evaluation),
		conflicts:   make(map[string]*Conflict),
	}
}

// AddProject seeds or replaces a project.
func (s *InMemoryStore) AddProject(p *Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.projects[p.ID] = p
}

// AddRuleSet seeds or replaces a rule set. Missing ids are generated.
func (s *InMemoryStore) AddRuleSet(rs *RuleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now()
	}
	for _, r := range rs.Rules {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.RuleSetID = rs.ID
	}
	s.ruleSets[rs.ID] = rs
}

// AddOverride seeds an override outside a unit of work.
func (s *InMemoryStore) AddOverride(o *RuleOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addOverrideLocked(o)
}

func (s *InMemoryStore) addOverrideLocked(o *RuleOverride) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	s.overrides = append(s.overrides, o)
}

// Hits returns the persisted hits of an evaluation in insertion order.
func (s *InMemoryStore) Hits(evaluationID string) []*Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Hit
	for _, h := range s.hits {
		if h.EvaluationID == evaluationID {
			out = append(out, h)
		}
	}
	return out
}

func (s *InMemoryStore) ListRuleSets(_ context.Context, filter ScopeFilter) ([]*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RuleSet
	for _, rs := range s.ruleSets {
		if filter.Matches(rs) {
			out = append(out, rs)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *InMemoryStore) ListOverrides(_ context.Context, projectID string) ([]*RuleOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RuleOverride
	for _, o := range s.overrides {
		if o.ProjectID == projectID {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) CreateEvaluation(_ context.Context, e *Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := s.evaluations[e.ID]; exists {
		return fmt.Errorf("evaluation with ID %s already exists", e.ID)
	}
	cp := *e
	s.evaluations[e.ID] = &cp
	return nil
}

func (s *InMemoryStore) FailEvaluation(_ context.Context, id, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evaluations[id]
	if !ok {
		return fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	e.Status = EvaluationFailed
	e.Summary.Error = message
	e.CompletedAt = &at
	return nil
}

func (s *InMemoryStore) GetEvaluation(_ context.Context, id string) (*Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.evaluations[id]
	if !ok {
		return nil, fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *InMemoryStore) ListEvaluations(_ context.Context, projectID string, page Page) ([]*Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Evaluation
	for _, e := range s.evaluations {
		if e.ProjectID == projectID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return paginate(out, page), nil
}

func (s *InMemoryStore) LatestModelVersion(_ context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := 0
	for _, m := range s.models {
		if m.ProjectID == projectID && m.Version > latest {
			latest = m.Version
		}
	}
	return latest, nil
}

func (s *InMemoryStore) GetLatestModel(_ context.Context, projectID string) (*RequirementsModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *RequirementsModel
	for _, m := range s.models {
		if m.ProjectID == projectID && (latest == nil || m.Version > latest.Version) {
			latest = m
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("requirements model for project %s: %w", projectID, ErrNotFound)
	}
	return cloneModel(latest), nil
}

func (s *InMemoryStore) ListModels(_ context.Context, projectID string, page Page) ([]*RequirementsModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RequirementsModel
	for _, m := range s.models {
		if m.ProjectID == projectID {
			out = append(out, cloneModel(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Version > out[j].Version
	})
	return paginate(out, page), nil
}

func (s *InMemoryStore) GetConflict(_ context.Context, id string) (*Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) ListConflicts(_ context.Context, projectID string, status ConflictStatus) ([]*Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Conflict
	for _, c := range s.conflicts {
		if c.ProjectID != projectID || (status != "" && c.Status != status) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// WithinTx runs fn against a buffering Tx and applies the buffered writes only when
// fn succeeds and every write is still valid.
func (s *InMemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func paginate[T any](items []T, page Page) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}

type completion struct {
	id      string
	summary EvaluationSummary
	at      time.Time
}

// memoryTx records writes until commit.
type memoryTx struct {
	store       *InMemoryStore
	hits        []*Hit
	conflicts   []*Conflict
	models      []*RequirementsModel
	completions []completion
	updates     []*Conflict
	overrides   []*RuleOverride
}

func (t *memoryTx) InsertHits(_ context.Context, hits []*Hit) error {
	for _, h := range hits {
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
	}
	t.hits = append(t.hits, hits...)
	return nil
}

func (t *memoryTx) InsertConflicts(_ context.Context, conflicts []*Conflict) error {
	for _, c := range conflicts {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
	}
	t.conflicts = append(t.conflicts, conflicts...)
	return nil
}

func (t *memoryTx) CreateRequirementsModel(_ context.Context, m *RequirementsModel) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	t.store.mu.RLock()
	taken := t.store.versionTakenLocked(m.ProjectID, m.Version)
	t.store.mu.RUnlock()
	if taken {
		return fmt.Errorf("project %s version %d: %w", m.ProjectID, m.Version, ErrVersionConflict)
	}
	t.models = append(t.models, m)
	return nil
}

func (t *memoryTx) CompleteEvaluation(_ context.Context, id string, summary EvaluationSummary, at time.Time) error {
	t.store.mu.RLock()
	_, ok := t.store.evaluations[id]
	t.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	t.completions = append(t.completions, completion{id: id, summary: summary, at: at})
	return nil
}

func (t *memoryTx) LockConflict(ctx context.Context, id string) (*Conflict, error) {
	for i := len(t.updates) - 1; i >= 0; i-- {
		if t.updates[i].ID == id {
			cp := *t.updates[i]
			return &cp, nil
		}
	}
	return t.store.GetConflict(ctx, id)
}

func (t *memoryTx) UpdateConflict(_ context.Context, c *Conflict) error {
	t.store.mu.RLock()
	_, ok := t.store.conflicts[c.ID]
	t.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("conflict %s: %w", c.ID, ErrNotFound)
	}
	cp := *c
	t.updates = append(t.updates, &cp)
	return nil
}

func (t *memoryTx) CreateOverride(_ context.Context, o *RuleOverride) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	t.overrides = append(t.overrides, o)
	return nil
}

func (t *memoryTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range t.models {
		if s.versionTakenLocked(m.ProjectID, m.Version) {
			return fmt.Errorf("project %s version %d: %w", m.ProjectID, m.Version, ErrVersionConflict)
		}
	}

	s.hits = append(s.hits, t.hits...)
	for _, c := range t.conflicts {
		cp := *c
		s.conflicts[c.ID] = &cp
	}
	for _, m := range t.models {
		s.models = append(s.models, cloneModel(m))
	}
	for _, c := range t.completions {
		e := s.evaluations[c.id]
		at := c.at
		e.Status = EvaluationCompleted
		e.Summary = c.summary
		e.CompletedAt = &at
	}
	for _, c := range t.updates {
		s.conflicts[c.ID] = c
	}
	for _, o := range t.overrides {
		s.addOverrideLocked(o)
	}
	return nil
}

func (s *InMemoryStore) versionTakenLocked(projectID string, version int) bool {
	for _, m := range s.models {
		if m.ProjectID == projectID && m.Version == version {
			return true
		}
	}
	return false
}

// cloneModel copies m deeply enough that callers cannot reach stored state.
func cloneModel(m *RequirementsModel) *RequirementsModel {
	cp := *m
	cp.UnresolvedConflicts = slices.Clone(m.UnresolvedConflicts)
	if m.Requirements != nil {
		req := *m.Requirements
		req.FactsSnapshot = m.Requirements.FactsSnapshot.Clone()
		req.RequiredDocuments = slices.Clone(m.Requirements.RequiredDocuments)
		for i := range req.RequiredDocuments {
			req.RequiredDocuments[i].Sources = slices.Clone(req.RequiredDocuments[i].Sources)
		}
		req.RequiredFields = slices.Clone(m.Requirements.RequiredFields)
		req.Tasks = slices.Clone(m.Requirements.Tasks)
		req.Flags = slices.Clone(m.Requirements.Flags)
		req.Notes = slices.Clone(m.Requirements.Notes)
		req.RuleHits = slices.Clone(m.Requirements.RuleHits)
		for i := range req.RuleHits {
			req.RuleHits[i].Metadata.Sources = slices.Clone(req.RuleHits[i].Metadata.Sources)
		}
		req.Warnings = slices.Clone(m.Requirements.Warnings)
		for i := range req.Warnings {
			req.Warnings[i].Details = slices.Clone(req.Warnings[i].Details)
		}
		cp.Requirements = &req
	}
	return &cp
}
