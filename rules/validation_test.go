package rules

import (
	"errors"
	"strings"
	"testing"
)

func validSet() *RuleSet {
	return &RuleSet{
		Code:    "PED_BASELINE",
		Version: 1,
		Scope:   ScopeGlobal,
		Rules: []*Rule{
			{
				Code:      "PED_CAT_IV",
				Condition: leaf("psValue", "gte", 300),
				Outcome:   Outcome{"type": "REQUIRED_DOCUMENT", "code": "DOC_IV"},
			},
			{
				Code:      "CO2_NOTE",
				Condition: Expr{Source: `facts.medium == "CO2"`},
				Outcome:   Outcome{"type": "NOTE"},
			},
		},
	}
}

// TestValidateRuleSetValid verifies a well-formed set passes
func TestValidateRuleSetValid(t *testing.T) {
	compiler, err := NewCELCompiler()
	if err != nil {
		t.Fatalf("NewCELCompiler() failed: %v", err)
	}
	if err := ValidateRuleSet(validSet(), compiler); err != nil {
		t.Errorf("ValidateRuleSet() = %v, want nil", err)
	}
}

// TestValidateRuleSetProblems verifies each authoring mistake is reported
func TestValidateRuleSetProblems(t *testing.T) {
	compiler, _ := NewCELCompiler()

	testCases := []struct {
		name   string
		mutate func(rs *RuleSet)
		want   string
	}{
		{"empty code", func(rs *RuleSet) { rs.Code = "" }, "code cannot be empty"},
		{"bad code", func(rs *RuleSet) { rs.Code = "9lives" }, "must match pattern"},
		{"long code", func(rs *RuleSet) { rs.Code = strings.Repeat("a", 101) }, "exceeds maximum"},
		{"version", func(rs *RuleSet) { rs.Version = 0 }, "version must be at least 1"},
		{"scope", func(rs *RuleSet) { rs.Scope = "REGION" }, "unknown scope"},
		{"tenant owner", func(rs *RuleSet) { rs.Scope = ScopeTenant }, "must name a tenant"},
		{"project owner", func(rs *RuleSet) { rs.Scope = ScopeProject }, "must name a project"},
		{"duplicate rule", func(rs *RuleSet) { rs.Rules[1].Code = "PED_CAT_IV" }, "duplicate rule code"},
		{"unknown operator", func(rs *RuleSet) { rs.Rules[0].Condition = leaf("psValue", "approx", 1) }, `unknown operator "approx"`},
		{"leaf without fact", func(rs *RuleSet) { rs.Rules[0].Condition = leaf("", "eq", 1) }, "must name a fact"},
		{"in without array", func(rs *RuleSet) { rs.Rules[0].Condition = leaf("medium", "in", "co2") }, "requires an array"},
		{"empty not", func(rs *RuleSet) { rs.Rules[0].Condition = Not{} }, "not requires a child"},
		{"empty any", func(rs *RuleSet) { rs.Rules[0].Condition = Any{} }, "never matches"},
		{"bad expression", func(rs *RuleSet) { rs.Rules[1].Condition = Expr{Source: "facts.medium +"} }, "compile error"},
		{"non-bool expression", func(rs *RuleSet) { rs.Rules[1].Condition = Expr{Source: `"text"`} }, "must evaluate to bool"},
		{"no outcome", func(rs *RuleSet) { rs.Rules[0].Outcome = nil }, "has no outcome"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rs := validSet()
			tc.mutate(rs)
			err := ValidateRuleSet(rs, compiler)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should contain %q", err, tc.want)
			}
		})
	}
}

// TestValidateRuleSetCollectsAll verifies problems are aggregated rather than stopping at the first
func TestValidateRuleSetCollectsAll(t *testing.T) {
	rs := validSet()
	rs.Version = 0
	rs.Rules[0].Condition = leaf("", "approx", nil)

	err := ValidateRuleSet(rs, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Problems) != 3 {
		t.Errorf("problems = %v, want 3", verr.Problems)
	}
}
