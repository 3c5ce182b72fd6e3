package rules

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a project, conflict, evaluation or model does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when a requirements model version is already taken
	// for the project.
	ErrVersionConflict = errors.New("requirements model version already exists")
)

// RuleSetRepository loads rule sets with their rules.
type RuleSetRepository interface {
	// ListRuleSets returns the active rule sets visible to the filter's tenant and
	// project. Implementations may return more than the filter allows; RuleSetStore
	// applies the filter again.
	ListRuleSets(ctx context.Context, filter ScopeFilter) ([]*RuleSet, error)
}

// ProjectRepository reads the upstream project entity.
type ProjectRepository interface {
	GetProject(ctx context.Context, id string) (*Project, error)
}

// OverrideRepository reads the overrides recorded for a project, oldest first.
type OverrideRepository interface {
	ListOverrides(ctx context.Context, projectID string) ([]*RuleOverride, error)
}

// EvaluationRepository covers the evaluation records and the read side of models.
type EvaluationRepository interface {
	// CreateEvaluation persists a new run record, normally in RUNNING.
	CreateEvaluation(ctx context.Context, e *Evaluation) error

	// FailEvaluation marks a run FAILED with message. It is committed on its own,
	// outside any unit of work.
	FailEvaluation(ctx context.Context, id, message string, at time.Time) error

	GetEvaluation(ctx context.Context, id string) (*Evaluation, error)
	ListEvaluations(ctx context.Context, projectID string, page Page) ([]*Evaluation, error)

	// LatestModelVersion returns the highest model version for the project, 0 if none.
	LatestModelVersion(ctx context.Context, projectID string) (int, error)
	GetLatestModel(ctx context.Context, projectID string) (*RequirementsModel, error)
	ListModels(ctx context.Context, projectID string, page Page) ([]*RequirementsModel, error)
}

// ConflictRepository reads conflicts outside a unit of work.
type ConflictRepository interface {
	GetConflict(ctx context.Context, id string) (*Conflict, error)

	// ListConflicts returns a project's conflicts, newest first. An empty status
	// matches every status.
	ListConflicts(ctx context.Context, projectID string, status ConflictStatus) ([]*Conflict, error)
}

// Tx is the set of writes that must commit or roll back together.
type Tx interface {
	InsertHits(ctx context.Context, hits []*Hit) error
	InsertConflicts(ctx context.Context, conflicts []*Conflict) error

	// CreateRequirementsModel returns ErrVersionConflict when the version is taken.
	CreateRequirementsModel(ctx context.Context, m *RequirementsModel) error
	CompleteEvaluation(ctx context.Context, id string, summary EvaluationSummary, at time.Time) error

	// LockConflict reads a conflict and holds it until the unit of work ends.
	LockConflict(ctx context.Context, id string) (*Conflict, error)
	UpdateConflict(ctx context.Context, c *Conflict) error
	CreateOverride(ctx context.Context, o *RuleOverride) error
}

// UnitOfWork runs fn inside one transaction. The transaction commits when fn returns
// nil and rolls back otherwise; fn's error is returned unchanged.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is everything the evaluation services need from persistence.
type Store interface {
	RuleSetRepository
	ProjectRepository
	OverrideRepository
	EvaluationRepository
	ConflictRepository
	UnitOfWork
}
