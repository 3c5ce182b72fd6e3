package rules

import "sort"

// OverrideResolver applies a project's rule overrides before a rule becomes a hit.
type OverrideResolver struct{}

// IndexOverrides builds the rule id -> override lookup for one project.
// Overrides are applied in creation order, so the most recent one per rule wins.
func IndexOverrides(overrides []*RuleOverride) map[string]*RuleOverride {
	ordered := make([]*RuleOverride, len(overrides))
	copy(ordered, overrides)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	lookup := make(map[string]*RuleOverride, len(ordered))
	for _, o := range ordered {
		lookup[o.RuleID] = o
	}
	return lookup
}

// ShouldSkip reports whether the override removes its rule from the hit set.
func (OverrideResolver) ShouldSkip(o *RuleOverride) bool {
	if o == nil {
		return false
	}
	return o.Status == OverrideDisabled || o.Instructions.Disable
}

// ResolveOutcome returns the outcome a matching rule produces under the override.
// A forced outcome replaces the rule's outcome; otherwise the adjustment is merged on
// top of it. Either way the result carries the override id.
func (OverrideResolver) ResolveOutcome(rule *Rule, o *RuleOverride) Outcome {
	if o == nil {
		return rule.Outcome.Clone()
	}
	var out Outcome
	if o.Instructions.ForcedOutcome != nil {
		out = o.Instructions.ForcedOutcome.Clone()
	} else {
		out = rule.Outcome.Merge(o.Instructions.Adjustment)
	}
	out["overrideId"] = o.ID
	return out
}
