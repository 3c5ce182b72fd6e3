package rules

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxCodeLength     = 100
	maxRulesPerSet    = 500
	maxConditionDepth = 32
)

var validCode = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// ValidationError collects every problem found in a rule set.
type ValidationError struct {
	RuleSet  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule set %q is invalid: %s", e.RuleSet, strings.Join(e.Problems, "; "))
}

// ValidateRuleSet checks a rule set at authoring time. The evaluator is lenient about
// malformed leaves; this is where they are rejected. Expressions are compiled with
// compiler when one is given. Returns a *ValidationError, or nil if the set is valid.
func ValidateRuleSet(rs *RuleSet, compiler *CELCompiler) error {
	v := &validator{compiler: compiler}

	if err := validateCode(rs.Code); err != nil {
		v.addf("invalid rule set code %q: %v", rs.Code, err)
	}
	if rs.Version < 1 {
		v.addf("version must be at least 1, got %d", rs.Version)
	}
	if !rs.Scope.Valid() {
		v.addf("unknown scope %q (must be one of: GLOBAL, TENANT, PROJECT)", rs.Scope)
	}
	if rs.Scope == ScopeTenant && rs.TenantID == "" {
		v.addf("tenant scoped rule set must name a tenant")
	}
	if rs.Scope == ScopeProject && rs.ProjectID == "" {
		v.addf("project scoped rule set must name a project")
	}
	if len(rs.Rules) > maxRulesPerSet {
		v.addf("rule set contains %d rules, maximum allowed is %d", len(rs.Rules), maxRulesPerSet)
	}

	seen := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		if r == nil {
			v.addf("rule %d is empty", i)
			continue
		}
		if err := validateCode(r.Code); err != nil {
			v.addf("invalid rule code %q: %v", r.Code, err)
		} else if seen[r.Code] {
			v.addf("duplicate rule code %q", r.Code)
		}
		seen[r.Code] = true

		v.condition(r.Code, r.Condition, 0)
		if len(r.Outcome) == 0 {
			v.addf("rule %q has no outcome", r.Code)
		}
	}

	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{RuleSet: rs.Code, Problems: v.problems}
}

type validator struct {
	compiler *CELCompiler
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) condition(rule string, c Condition, depth int) {
	if depth > maxConditionDepth {
		v.addf("rule %q: condition nested deeper than %d", rule, maxConditionDepth)
		return
	}
	switch n := c.(type) {
	case nil:
	case All:
		for _, child := range n.Children {
			v.condition(rule, child, depth+1)
		}
	case Any:
		if len(n.Children) == 0 {
			v.addf("rule %q: any has no children and never matches", rule)
		}
		for _, child := range n.Children {
			v.condition(rule, child, depth+1)
		}
	case Not:
		if n.Child == nil {
			v.addf("rule %q: not requires a child condition", rule)
			return
		}
		v.condition(rule, n.Child, depth+1)
	case Leaf:
		if n.Fact == "" {
			v.addf("rule %q: leaf condition must name a fact", rule)
		}
		if n.Operator == OpUnknown {
			v.addf("rule %q: unknown operator %q", rule, n.RawOperator)
		}
		if (n.Operator == OpIn || n.Operator == OpNin) && n.Value != nil {
			if _, ok := asSlice(n.Value); !ok {
				v.addf("rule %q: operator %s requires an array value", rule, n.Operator)
			}
		}
	case Expr:
		if strings.TrimSpace(n.Source) == "" {
			v.addf("rule %q: expression is empty", rule)
			return
		}
		if v.compiler != nil {
			if _, err := v.compiler.Compile(n.Source); err != nil {
				v.addf("rule %q: %v", rule, err)
			}
		}
	}
}

// validateCode validates a rule or rule-set code
func validateCode(code string) error {
	if len(code) == 0 {
		return fmt.Errorf("code cannot be empty")
	}
	if len(code) > maxCodeLength {
		return fmt.Errorf("code length %d exceeds maximum of %d characters", len(code), maxCodeLength)
	}
	if !validCode.MatchString(code) {
		return fmt.Errorf("must match pattern %s (start with letter or underscore, followed by letters, digits, underscores, dots or dashes)", validCode)
	}
	return nil
}
