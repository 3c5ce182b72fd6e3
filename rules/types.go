package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scope controls which projects can see a RuleSet.
type Scope string

const (
	ScopeGlobal  Scope = "GLOBAL"
	ScopeTenant  Scope = "TENANT"
	ScopeProject Scope = "PROJECT"
)

// rank orders scopes from broadest to narrowest.
func (s Scope) rank() int {
	switch s {
	case ScopeGlobal:
		return 0
	case ScopeTenant:
		return 1
	case ScopeProject:
		return 2
	default:
		return 3
	}
}

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	return s.rank() < 3
}

// Facts is the flat evaluation environment for rule conditions.
type Facts map[string]any

// Clone returns a shallow copy of the fact bag.
func (f Facts) Clone() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Source is an evidentiary reference carried with a rule for audit purposes.
type Source struct {
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
}

// RuleSet is a versioned, scoped collection of rules.
// Rules are kept in evaluation order.
type RuleSet struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Version   int       `json:"version"`
	Name      string    `json:"name,omitempty"`
	Scope     Scope     `json:"scope"`
	TenantID  string    `json:"tenantId,omitempty"`
	ProjectID string    `json:"projectId,omitempty"`
	Active    bool      `json:"active"`
	Rules     []*Rule   `json:"rules"`
	CreatedAt time.Time `json:"createdAt"`
}

// Rule is a single gated outcome inside a RuleSet.
type Rule struct {
	ID          string
	RuleSetID   string
	Code        string
	Title       string
	Description string
	Severity    string
	Condition   Condition
	Outcome     Outcome
	Sources     []Source
	CreatedAt   time.Time
}

type ruleJSON struct {
	ID          string          `json:"id"`
	RuleSetID   string          `json:"ruleSetId,omitempty"`
	Code        string          `json:"code"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Severity    string          `json:"severity,omitempty"`
	Condition   json.RawMessage `json:"condition,omitempty"`
	Outcome     Outcome         `json:"outcome,omitempty"`
	Sources     []Source        `json:"sources,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// MarshalJSON encodes the condition tree in its object form.
func (r *Rule) MarshalJSON() ([]byte, error) {
	cond, err := MarshalCondition(r.Condition)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal condition for rule %s: %w", r.Code, err)
	}
	return json.Marshal(ruleJSON{
		ID:          r.ID,
		RuleSetID:   r.RuleSetID,
		Code:        r.Code,
		Title:       r.Title,
		Description: r.Description,
		Severity:    r.Severity,
		Condition:   cond,
		Outcome:     r.Outcome,
		Sources:     r.Sources,
		CreatedAt:   r.CreatedAt,
	})
}

// UnmarshalJSON decodes a rule, parsing its condition into the typed tree.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := ParseConditionJSON(raw.Condition)
	if err != nil {
		return fmt.Errorf("invalid condition for rule %s: %w", raw.Code, err)
	}
	*r = Rule{
		ID:          raw.ID,
		RuleSetID:   raw.RuleSetID,
		Code:        raw.Code,
		Title:       raw.Title,
		Description: raw.Description,
		Severity:    raw.Severity,
		Condition:   cond,
		Outcome:     raw.Outcome,
		Sources:     raw.Sources,
		CreatedAt:   raw.CreatedAt,
	}
	return nil
}

// OverrideStatus is the state of a RuleOverride.
type OverrideStatus string

const (
	OverrideActive   OverrideStatus = "ACTIVE"
	OverrideDisabled OverrideStatus = "DISABLED"
)

// Override reasons.
const (
	ReasonManual             = "MANUAL"
	ReasonConflictResolution = "CONFLICT_RESOLUTION"
)

// OverrideInstructions tell the resolver how to alter a rule for one project.
type OverrideInstructions struct {
	Disable       bool    `json:"disable,omitempty"`
	ForcedOutcome Outcome `json:"forcedOutcome,omitempty"`
	Adjustment    Outcome `json:"adjustment,omitempty"`
}

// RuleOverride is a project-scoped instruction for one rule.
type RuleOverride struct {
	ID           string               `json:"id"`
	ProjectID    string               `json:"projectId"`
	RuleID       string               `json:"ruleId"`
	Status       OverrideStatus       `json:"status"`
	Reason       string               `json:"reason,omitempty"`
	Instructions OverrideInstructions `json:"instructions"`
	ConflictID   string               `json:"conflictId,omitempty"`
	Notes        string               `json:"notes,omitempty"`
	CreatedBy    string               `json:"createdBy,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
}

// FactEntry is one row of the normalized key/value fact store.
type FactEntry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Project is the upstream entity whose facts drive an evaluation.
type Project struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenantId,omitempty"`
	Medium        string         `json:"medium,omitempty"`
	PressureValue *float64       `json:"psValue,omitempty"`
	Volume        *float64       `json:"volume,omitempty"`
	Address       string         `json:"address,omitempty"`
	ClientName    string         `json:"clientName,omitempty"`
	Status        string         `json:"status,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Facts         map[string]any `json:"facts,omitempty"`
	FactEntries   []FactEntry    `json:"factEntries,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}
