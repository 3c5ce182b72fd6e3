// Package evaluation runs rule evaluations for a project and resolves the conflicts
// they produce.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/requirements/rules"
)

// DefaultScope is recorded on runs that do not name a scope.
const DefaultScope = "PROJECT"

// RunRequest is the input of one evaluation run. Every field is optional.
type RunRequest struct {
	Scope             string         `json:"scope,omitempty"`
	Facts             rules.Facts    `json:"facts,omitempty"`
	RuleSetIDs        []string       `json:"ruleSetIds,omitempty"`
	TriggeredByUserID string         `json:"triggeredByUserId,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// RunResult is what a completed run returns to its caller.
type RunResult struct {
	EvaluationID      string                   `json:"evaluationId"`
	RequirementsModel *rules.RequirementsModel `json:"requirementsModel"`
	Summary           rules.EvaluationSummary  `json:"summary"`
	Warnings          []rules.Warning          `json:"warnings"`
	Conflicts         []*rules.Conflict        `json:"conflicts"`
}

// Recorder receives run and resolution measurements.
type Recorder interface {
	RecordEvaluation(status rules.EvaluationStatus, duration time.Duration, hits, conflicts int)
	RecordResolution(resolution string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvaluation(rules.EvaluationStatus, time.Duration, int, int) {}
func (nopRecorder) RecordResolution(string)                                         {}

// Orchestrator drives one evaluation run from project facts to a persisted
// requirements model.
type Orchestrator struct {
	store     rules.Store
	ruleSets  *rules.RuleSetStore
	evaluator *rules.ConditionEvaluator
	assembler rules.FactsAssembler
	resolver  rules.OverrideResolver
	detector  rules.ConflictDetector
	builder   rules.RequirementsBuilder
	locks     *keyedLock
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator or a ResolutionService.
type Option func(*options)

type options struct {
	evaluator *rules.ConditionEvaluator
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// WithEvaluator sets the condition evaluator, e.g. one in strict mode.
func WithEvaluator(e *rules.ConditionEvaluator) Option {
	return func(o *options) { o.evaluator = e }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{recorder: nopRecorder{}, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewOrchestrator creates an orchestrator over store. A nil ruleSets reads rule sets
// from store through an in-memory cache.
func NewOrchestrator(store rules.Store, ruleSets *rules.RuleSetStore, opts ...Option) *Orchestrator {
	o := buildOptions(opts)
	if ruleSets == nil {
		ruleSets = rules.NewRuleSetStore(store, nil, rules.WithRuleSetStoreLogger(o.logger))
	}
	if o.evaluator == nil {
		o.evaluator = rules.NewConditionEvaluator(rules.WithEvaluatorLogger(o.logger))
	}
	return &Orchestrator{
		store:     store,
		ruleSets:  ruleSets,
		evaluator: o.evaluator,
		locks:     newKeyedLock(),
		recorder:  o.recorder,
		logger:    o.logger.With("component", "evaluation.orchestrator"),
		now:       o.now,
	}
}

// Run evaluates every visible rule for the project and persists the hits, the
// conflicts and the next requirements model version in one unit of work.
//
// Runs for the same project are serialized. Once the evaluation record exists, any
// failure marks it FAILED and is returned; nothing else from the run is kept.
func (o *Orchestrator) Run(ctx context.Context, projectID string, req RunRequest) (*RunResult, error) {
	release, err := o.locks.Acquire(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	defer release()

	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	scope := req.Scope
	if scope == "" {
		scope = DefaultScope
	}
	started := o.now()
	eval := &rules.Evaluation{
		ProjectID:         projectID,
		Scope:             scope,
		RuleSetIDs:        req.RuleSetIDs,
		InputFacts:        req.Facts,
		Status:            rules.EvaluationRunning,
		TriggeredByUserID: req.TriggeredByUserID,
		Metadata:          req.Metadata,
		StartedAt:         started,
	}
	if err := o.store.CreateEvaluation(ctx, eval); err != nil {
		return nil, fmt.Errorf("failed to create evaluation: %w", err)
	}

	logger := o.logger.With("project_id", projectID, "evaluation_id", eval.ID)
	logger.Debug("Evaluation started", "scope", scope, "rule_set_filter", len(req.RuleSetIDs))

	result, err := o.run(ctx, project, eval, req)
	duration := o.now().Sub(started)
	if err != nil {
		o.fail(ctx, logger, eval.ID, err)
		o.recorder.RecordEvaluation(rules.EvaluationFailed, duration, 0, 0)
		return nil, err
	}

	o.recorder.RecordEvaluation(rules.EvaluationCompleted, duration, result.Summary.Hits, result.Summary.Conflicts)
	logger.Info("Evaluation completed",
		"version", result.RequirementsModel.Version,
		"hits", result.Summary.Hits,
		"conflicts", result.Summary.Conflicts,
		"warnings", result.Summary.Warnings,
		"rule_sets", result.Summary.RuleSets,
		"duration_ms", duration.Milliseconds())
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, project *rules.Project, eval *rules.Evaluation, req RunRequest) (*RunResult, error) {
	facts := o.assembler.Assemble(project, req.Facts)

	var sets []*rules.RuleSet
	var overrides []*rules.RuleOverride
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sets, err = o.ruleSets.ListCached(gctx, rules.ScopeFilter{
			TenantID:   project.TenantID,
			ProjectID:  project.ID,
			RuleSetIDs: req.RuleSetIDs,
		}, false)
		return err
	})
	g.Go(func() error {
		var err error
		overrides, err = o.store.ListOverrides(gctx, project.ID)
		if err != nil {
			return fmt.Errorf("failed to load overrides: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := o.now()
	hits := o.evaluate(eval, facts, sets, rules.IndexOverrides(overrides), now)
	conflicts := o.detector.Detect(hits)
	for _, c := range conflicts {
		c.CreatedAt = now
	}
	warnings := o.builder.Precheck(facts, len(sets))
	requirements := o.builder.Build(facts, hits, warnings)

	latest, err := o.store.LatestModelVersion(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	summary := rules.EvaluationSummary{
		Hits:      len(hits),
		Conflicts: len(conflicts),
		Warnings:  len(warnings),
		RuleSets:  len(sets),
	}
	model := &rules.RequirementsModel{
		ProjectID:    project.ID,
		EvaluationID: eval.ID,
		Version:      latest + 1,
		Requirements: requirements,
		CreatedAt:    now,
	}

	err = o.store.WithinTx(ctx, func(ctx context.Context, tx rules.Tx) error {
		if err := tx.InsertHits(ctx, hits); err != nil {
			return err
		}
		if err := tx.InsertConflicts(ctx, conflicts); err != nil {
			return err
		}
		model.UnresolvedConflicts = make([]rules.ConflictSummary, 0, len(conflicts))
		for _, c := range conflicts {
			model.UnresolvedConflicts = append(model.UnresolvedConflicts, c.Summarize())
		}
		if err := tx.CreateRequirementsModel(ctx, model); err != nil {
			return err
		}
		return tx.CompleteEvaluation(ctx, eval.ID, summary, o.now())
	})
	if err != nil {
		return nil, err
	}

	if conflicts == nil {
		conflicts = []*rules.Conflict{}
	}
	return &RunResult{
		EvaluationID:      eval.ID,
		RequirementsModel: model,
		Summary:           summary,
		Warnings:          requirements.Warnings,
		Conflicts:         conflicts,
	}, nil
}

// evaluate walks rule sets and their rules in order, producing one hit per matching
// rule that is not disabled for the project.
func (o *Orchestrator) evaluate(eval *rules.Evaluation, facts rules.Facts, sets []*rules.RuleSet,
	overrides map[string]*rules.RuleOverride, now time.Time) []*rules.Hit {
	var hits []*rules.Hit
	for _, rs := range sets {
		for _, rule := range rs.Rules {
			override := overrides[rule.ID]
			if o.resolver.ShouldSkip(override) {
				continue
			}
			if !o.evaluator.Evaluate(rule.Condition, facts) {
				continue
			}
			meta := rules.HitMetadata{
				RuleSetID:      rs.ID,
				RuleSetCode:    rs.Code,
				RuleSetVersion: rs.Version,
				Scope:          rs.Scope,
				Sources:        rule.Sources,
			}
			if override != nil {
				meta.OverrideID = override.ID
			}
			hits = append(hits, &rules.Hit{
				EvaluationID: eval.ID,
				ProjectID:    eval.ProjectID,
				RuleID:       rule.ID,
				RuleCode:     rule.Code,
				RuleTitle:    rule.Title,
				Severity:     rule.Severity,
				Outcome:      o.resolver.ResolveOutcome(rule, override),
				Metadata:     meta,
				CreatedAt:    now,
			})
		}
	}
	return hits
}

// fail records the run as FAILED. It must survive the caller's cancellation.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, evaluationID string, cause error) {
	if err := o.store.FailEvaluation(context.WithoutCancel(ctx), evaluationID, cause.Error(), o.now()); err != nil {
		logger.Error("Failed to mark evaluation failed", "error", err, "cause", cause)
		return
	}
	logger.Warn("Evaluation failed", "error", cause)
}
