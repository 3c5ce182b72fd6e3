package rules

import "time"

// EvaluationStatus is the lifecycle state of one evaluation run.
type EvaluationStatus string

const (
	EvaluationRunning   EvaluationStatus = "RUNNING"
	EvaluationCompleted EvaluationStatus = "COMPLETED"
	EvaluationFailed    EvaluationStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s EvaluationStatus) Terminal() bool {
	return s == EvaluationCompleted || s == EvaluationFailed
}

// EvaluationSummary holds the counts recorded when a run finishes.
type EvaluationSummary struct {
	Hits      int    `json:"hits"`
	Conflicts int    `json:"conflicts"`
	Warnings  int    `json:"warnings"`
	RuleSets  int    `json:"ruleSets"`
	Error     string `json:"error,omitempty"`
}

// Evaluation is the record of one orchestrator run.
type Evaluation struct {
	ID                string            `json:"id"`
	ProjectID         string            `json:"projectId"`
	Scope             string            `json:"scope"`
	RuleSetIDs        []string          `json:"ruleSetIds,omitempty"`
	InputFacts        Facts             `json:"inputFacts"`
	Status            EvaluationStatus  `json:"status"`
	Summary           EvaluationSummary `json:"summary"`
	TriggeredByUserID string            `json:"triggeredByUserId,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	StartedAt         time.Time         `json:"startedAt"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
}

// HitMetadata is the provenance attached to a hit.
type HitMetadata struct {
	RuleSetID      string   `json:"ruleSetId"`
	RuleSetCode    string   `json:"ruleSetCode"`
	RuleSetVersion int      `json:"ruleSetVersion"`
	Scope          Scope    `json:"scope"`
	Sources        []Source `json:"sources,omitempty"`
	OverrideID     string   `json:"overrideId,omitempty"`
}

// Hit records one rule firing during one evaluation, after override resolution.
type Hit struct {
	ID           string      `json:"id"`
	EvaluationID string      `json:"evaluationId"`
	ProjectID    string      `json:"projectId"`
	RuleID       string      `json:"ruleId"`
	RuleCode     string      `json:"ruleCode"`
	RuleTitle    string      `json:"ruleTitle,omitempty"`
	Severity     string      `json:"severity,omitempty"`
	Outcome      Outcome     `json:"outcome"`
	Metadata     HitMetadata `json:"metadata"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// ConflictStatus is the state of a RuleConflict.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "OPEN"
	ConflictResolved ConflictStatus = "RESOLVED"
	ConflictIgnored  ConflictStatus = "IGNORED"
)

// Terminal reports whether the conflict can no longer change.
func (s ConflictStatus) Terminal() bool {
	return s == ConflictResolved || s == ConflictIgnored
}

// ConflictOutcomeMismatch is the only conflict type produced by the detector.
const ConflictOutcomeMismatch = "OUTCOME_MISMATCH"

// Conflict is a disagreement between two hits of the same run sharing a conflict key.
type Conflict struct {
	ID                   string         `json:"id"`
	EvaluationID         string         `json:"evaluationId"`
	ProjectID            string         `json:"projectId"`
	ConflictKey          string         `json:"conflictKey"`
	Type                 string         `json:"type"`
	Status               ConflictStatus `json:"status"`
	RuleAID              string         `json:"ruleAId"`
	RuleACode            string         `json:"ruleACode"`
	OutcomeA             Outcome        `json:"outcomeA"`
	RuleBID              string         `json:"ruleBId"`
	RuleBCode            string         `json:"ruleBCode"`
	OutcomeB             Outcome        `json:"outcomeB"`
	Message              string         `json:"message"`
	Resolution           string         `json:"resolution,omitempty"`
	ResolutionNotes      string         `json:"resolutionNotes,omitempty"`
	ResolvedByUserID     string         `json:"resolvedByUserId,omitempty"`
	ResolvedByOverrideID string         `json:"resolvedByOverrideId,omitempty"`
	ResolvedAt           *time.Time     `json:"resolvedAt,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
}

// ConflictSummary is the snapshot of an open conflict stored on a RequirementsModel.
type ConflictSummary struct {
	ID          string `json:"id"`
	ConflictKey string `json:"conflictKey"`
	RuleACode   string `json:"ruleACode"`
	RuleBCode   string `json:"ruleBCode"`
	Message     string `json:"message"`
}

// Summarize returns the snapshot form of c.
func (c *Conflict) Summarize() ConflictSummary {
	return ConflictSummary{
		ID:          c.ID,
		ConflictKey: c.ConflictKey,
		RuleACode:   c.RuleACode,
		RuleBCode:   c.RuleBCode,
		Message:     c.Message,
	}
}

// RequirementsModel is the versioned output of a completed run.
type RequirementsModel struct {
	ID                  string            `json:"id"`
	ProjectID           string            `json:"projectId"`
	EvaluationID        string            `json:"evaluationId"`
	Version             int               `json:"version"`
	Requirements        *Requirements     `json:"requirements"`
	UnresolvedConflicts []ConflictSummary `json:"unresolvedConflicts"`
	CreatedAt           time.Time         `json:"createdAt"`
}

// Page selects a window of a listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
