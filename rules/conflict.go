package rules

import (
	"encoding/json"
	"fmt"
)

// ConflictDetector flags hits of one run that share a conflict key but disagree.
type ConflictDetector struct{}

// Detect groups hits by conflict key. For every group whose hits hold more than one
// distinct outcome value, each unordered pair of hits in the group becomes an OPEN
// OUTCOME_MISMATCH conflict. Hits without a conflict key are ignored. Groups and pairs
// are emitted in hit order, so the result is deterministic for a given hit list.
//
// Conflicts take their evaluation and project from the first hit of the pair and have
// no id yet.
func (ConflictDetector) Detect(hits []*Hit) []*Conflict {
	var keys []string
	groups := make(map[string][]*Hit)
	for _, h := range hits {
		key, ok := h.Outcome.ConflictKey()
		if !ok {
			continue
		}
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], h)
	}

	var conflicts []*Conflict
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}

		distinct := make(map[string]struct{}, len(group))
		for _, h := range group {
			distinct[canonicalValue(h.Outcome.ComparableValue())] = struct{}{}
		}
		if len(distinct) < 2 {
			continue
		}

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				conflicts = append(conflicts, &Conflict{
					EvaluationID: a.EvaluationID,
					ProjectID:    a.ProjectID,
					ConflictKey:  key,
					Type:         ConflictOutcomeMismatch,
					Status:       ConflictOpen,
					RuleAID:      a.RuleID,
					RuleACode:    a.RuleCode,
					OutcomeA:     a.Outcome,
					RuleBID:      b.RuleID,
					RuleBCode:    b.RuleCode,
					OutcomeB:     b.Outcome,
					Message: fmt.Sprintf("Rules %s and %s produce different outcomes for %s",
						a.RuleCode, b.RuleCode, key),
				})
			}
		}
	}
	return conflicts
}

// canonicalValue renders v so that logically equal values render identically.
// encoding/json sorts object keys and prints equal numbers the same way regardless of
// their Go type. The audit annotation added by overrides is not part of the value.
func canonicalValue(v any) string {
	if m, ok := v.(map[string]any); ok {
		if _, annotated := m["overrideId"]; annotated {
			stripped := make(map[string]any, len(m))
			for k, val := range m {
				if k != "overrideId" {
					stripped[k] = val
				}
			}
			v = stripped
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
