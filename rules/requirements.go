package rules

import (
	"fmt"
	"strings"
)

// Warning codes emitted by RequirementsBuilder.Precheck.
const (
	WarningMissingFacts    = "MISSING_FACTS"
	WarningMissingRuleSets = "MISSING_RULESETS"
)

// BaselineFacts are the fact keys every project is expected to provide.
var BaselineFacts = []string{"medium", "psValue", "volume"}

// Warning is a data-completeness problem found before evaluation.
type Warning struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Requirements is the classified payload stored in a RequirementsModel.
type Requirements struct {
	FactsSnapshot     Facts              `json:"factsSnapshot"`
	RequiredDocuments []RequiredDocument `json:"requiredDocuments"`
	RequiredFields    []RequiredField    `json:"requiredFields"`
	Tasks             []Task             `json:"tasks"`
	Flags             []Flag             `json:"flags"`
	Notes             []Note             `json:"notes"`
	RuleHits          []HitSummary       `json:"ruleHits"`
	Warnings          []Warning          `json:"warnings"`
}

type RequiredDocument struct {
	Code     string   `json:"code"`
	Title    string   `json:"title,omitempty"`
	Severity string   `json:"severity,omitempty"`
	RuleCode string   `json:"ruleCode"`
	Sources  []Source `json:"sources,omitempty"`
}

type RequiredField struct {
	Field        string `json:"field"`
	TemplateCode string `json:"templateCode,omitempty"`
	Required     bool   `json:"required"`
	Description  string `json:"description,omitempty"`
	Severity     string `json:"severity,omitempty"`
	RuleCode     string `json:"ruleCode"`
}

type Task struct {
	Type        string `json:"type,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	RuleCode    string `json:"ruleCode"`
}

type Flag struct {
	Level    string `json:"level"`
	Message  string `json:"message"`
	RuleCode string `json:"ruleCode"`
}

type Note struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	RuleCode string `json:"ruleCode"`
}

// HitSummary is the flat audit entry recorded for every hit.
type HitSummary struct {
	RuleCode    string      `json:"ruleCode"`
	Severity    string      `json:"severity,omitempty"`
	OutcomeType string      `json:"outcomeType,omitempty"`
	Metadata    HitMetadata `json:"metadata"`
}

// RequirementsBuilder turns hits into a Requirements payload.
type RequirementsBuilder struct{}

// Precheck reports missing baseline facts and an empty rule-set selection.
func (RequirementsBuilder) Precheck(facts Facts, ruleSetCount int) []Warning {
	var warnings []Warning

	var missing []string
	for _, key := range BaselineFacts {
		if !exists(facts[key]) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		warnings = append(warnings, Warning{
			Code:    WarningMissingFacts,
			Message: "Missing baseline facts: " + strings.Join(missing, ", "),
			Details: missing,
		})
	}

	if ruleSetCount == 0 {
		warnings = append(warnings, Warning{
			Code:    WarningMissingRuleSets,
			Message: "No rule sets apply to this project",
		})
	}
	return warnings
}

// Build classifies hits into buckets. Buckets are never nil so the stored payload
// always carries every key.
func (RequirementsBuilder) Build(facts Facts, hits []*Hit, warnings []Warning) *Requirements {
	req := &Requirements{
		FactsSnapshot:     facts.Clone(),
		RequiredDocuments: []RequiredDocument{},
		RequiredFields:    []RequiredField{},
		Tasks:             []Task{},
		Flags:             []Flag{},
		Notes:             []Note{},
		RuleHits:          make([]HitSummary, 0, len(hits)),
		Warnings:          warnings,
	}
	if req.Warnings == nil {
		req.Warnings = []Warning{}
	}

	for _, h := range hits {
		req.RuleHits = append(req.RuleHits, HitSummary{
			RuleCode:    h.RuleCode,
			Severity:    h.Severity,
			OutcomeType: h.Outcome.Type(),
			Metadata:    h.Metadata,
		})

		switch d := h.Outcome.Detail().(type) {
		case DocumentOutcome:
			code := d.Code
			if code == "" {
				code = h.RuleCode
			}
			title := d.Title
			if title == "" {
				title = h.RuleTitle
			}
			req.RequiredDocuments = append(req.RequiredDocuments, RequiredDocument{
				Code:     code,
				Title:    title,
				Severity: h.Severity,
				RuleCode: h.RuleCode,
				Sources:  h.Metadata.Sources,
			})
		case FieldOutcome:
			req.RequiredFields = append(req.RequiredFields, RequiredField{
				Field:        d.Field,
				TemplateCode: d.TemplateCode,
				Required:     d.Required,
				Description:  d.Description,
				Severity:     h.Severity,
				RuleCode:     h.RuleCode,
			})
		case TaskOutcome:
			title := d.Title
			if title == "" {
				title = h.RuleTitle
			}
			req.Tasks = append(req.Tasks, Task{
				Type:        d.TaskType,
				Title:       title,
				Description: d.Description,
				RuleCode:    h.RuleCode,
			})
		case FlagOutcome:
			level := d.Level
			if level == "" {
				level = h.Severity
			}
			if level == "" {
				level = "INFO"
			}
			req.Flags = append(req.Flags, Flag{
				Level:    strings.ToUpper(level),
				Message:  messageOrDefault(d.Message, h),
				RuleCode: h.RuleCode,
			})
		case WarningOutcome:
			req.Notes = append(req.Notes, Note{
				Type:     "WARNING",
				Message:  messageOrDefault(d.Message, h),
				RuleCode: h.RuleCode,
			})
		case OtherOutcome:
			typ := d.Type
			if typ == "" {
				typ = "INFO"
			}
			req.Notes = append(req.Notes, Note{
				Type:     typ,
				Message:  messageOrDefault(d.Message, h),
				RuleCode: h.RuleCode,
			})
		}
	}
	return req
}

func messageOrDefault(msg string, h *Hit) string {
	if msg != "" {
		return msg
	}
	return fmt.Sprintf("Rule %s applied", h.RuleCode)
}
