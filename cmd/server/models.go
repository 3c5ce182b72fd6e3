package main

import (
	"github.com/liamcoop/requirements/rules"
)

// API Request and Response Models with Swagger annotations

// RunEvaluationRequest represents the optional body for starting an evaluation
type RunEvaluationRequest struct {
	Scope             string         `json:"scope,omitempty" example:"PROJECT"`
	Facts             map[string]any `json:"facts,omitempty"`
	RuleSetIDs        []string       `json:"ruleSetIds,omitempty" example:"rs-ped-baseline,rs-fdv"`
	TriggeredByUserID string         `json:"triggeredByUserId,omitempty" example:"user-42"`
	Metadata          map[string]any `json:"metadata,omitempty"`
} // @name RunEvaluationRequest

// ResolveConflictRequest represents the request body for resolving a conflict
type ResolveConflictRequest struct {
	Resolution string `json:"resolution" example:"OVERRIDE_A" binding:"required"`
	Notes      string `json:"notes,omitempty" example:"Full inspection agreed with client"`
} // @name ResolveConflictRequest

// EvaluationsListResponse represents the response for listing evaluations
type EvaluationsListResponse struct {
	Evaluations []*rules.Evaluation `json:"evaluations"`
	Limit       int                 `json:"limit" example:"20"`
	Offset      int                 `json:"offset" example:"0"`
} // @name EvaluationsListResponse

// RequirementsModelsListResponse represents the response for listing model versions
type RequirementsModelsListResponse struct {
	Models []*rules.RequirementsModel `json:"models"`
	Limit  int                        `json:"limit" example:"20"`
	Offset int                        `json:"offset" example:"0"`
} // @name RequirementsModelsListResponse

// ConflictsListResponse represents the response for listing conflicts
type ConflictsListResponse struct {
	Conflicts []*rules.Conflict `json:"conflicts"`
} // @name ConflictsListResponse

// OverridesListResponse represents the response for listing overrides
type OverridesListResponse struct {
	Overrides []*rules.RuleOverride `json:"overrides"`
} // @name OverridesListResponse

// RuleSetsListResponse represents the response for listing visible rule sets
type RuleSetsListResponse struct {
	RuleSets []*rules.RuleSet `json:"ruleSets"`
} // @name RuleSetsListResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string            `json:"status" example:"healthy"`
	Checks map[string]string `json:"checks,omitempty"`
} // @name HealthResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"conflict not found"`
	Details string `json:"details,omitempty" example:"not found"`
} // @name ErrorResponse
