package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/liamcoop/requirements/rules"
)

// Resolution is the decision taken on a conflict.
type Resolution string

const (
	// ResolveOverrideA keeps rule B by disabling rule A for the project.
	ResolveOverrideA Resolution = "OVERRIDE_A"
	// ResolveOverrideB keeps rule A by disabling rule B for the project.
	ResolveOverrideB Resolution = "OVERRIDE_B"
	// ResolveIgnore accepts both outcomes.
	ResolveIgnore Resolution = "IGNORE"
)

// ErrInvalidResolution is returned for a resolution outside OVERRIDE_A, OVERRIDE_B and IGNORE.
var ErrInvalidResolution = errors.New("invalid resolution")

// ParseResolution validates s, ignoring case.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToUpper(strings.TrimSpace(s))); r {
	case ResolveOverrideA, ResolveOverrideB, ResolveIgnore:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidResolution, s)
}

// ResolveRequest is the input of a conflict resolution. UserID comes from the caller's
// authentication, not from the request body.
type ResolveRequest struct {
	Resolution Resolution `json:"resolution"`
	Notes      string     `json:"notes,omitempty"`
	UserID     string     `json:"-"`
}

// ResolutionService turns decisions on conflicts into project overrides.
type ResolutionService struct {
	store    rules.Store
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolutionService creates a resolution service over store.
func NewResolutionService(store rules.Store, opts ...Option) *ResolutionService {
	o := buildOptions(opts)
	return &ResolutionService{
		store:    store,
		recorder: o.recorder,
		logger:   o.logger.With("component", "evaluation.resolution"),
		now:      o.now,
	}
}

// Resolve applies req to the conflict and returns its new state.
//
// OVERRIDE_A and OVERRIDE_B create one DISABLED override for the chosen rule and mark
// the conflict RESOLVED. IGNORE marks it IGNORED. A conflict already RESOLVED or
// IGNORED is returned unchanged. The override only affects later runs.
func (s *ResolutionService) Resolve(ctx context.Context, conflictID string, req ResolveRequest) (*rules.Conflict, error) {
	resolution, err := ParseResolution(string(req.Resolution))
	if err != nil {
		return nil, err
	}

	var result *rules.Conflict
	var changed bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx rules.Tx) error {
		c, err := tx.LockConflict(ctx, conflictID)
		if err != nil {
			return err
		}
		result = c
		if c.Status.Terminal() {
			return nil
		}

		now := s.now()
		c.Resolution = string(resolution)
		c.ResolutionNotes = req.Notes
		c.ResolvedByUserID = req.UserID
		c.ResolvedAt = &now

		if resolution == ResolveIgnore {
			c.Status = rules.ConflictIgnored
		} else {
			ruleID := c.RuleAID
			if resolution == ResolveOverrideB {
				ruleID = c.RuleBID
			}
			override := &rules.RuleOverride{
				ProjectID:    c.ProjectID,
				RuleID:       ruleID,
				Status:       rules.OverrideDisabled,
				Reason:       rules.ReasonConflictResolution,
				Instructions: rules.OverrideInstructions{Disable: true},
				ConflictID:   c.ID,
				Notes:        req.Notes,
				CreatedBy:    req.UserID,
				CreatedAt:    now,
			}
			if err := tx.CreateOverride(ctx, override); err != nil {
				return err
			}
			c.Status = rules.ConflictResolved
			c.ResolvedByOverrideID = override.ID
		}
		changed = true
		return tx.UpdateConflict(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("conflict_id", conflictID, "project_id", result.ProjectID)
	if !changed {
		logger.Debug("Conflict already closed", "status", result.Status)
		return result, nil
	}
	s.recorder.RecordResolution(string(resolution))
	logger.Info("Conflict resolved",
		"resolution", resolution,
		"status", result.Status,
		"override_id", result.ResolvedByOverrideID)
	return result, nil
}
