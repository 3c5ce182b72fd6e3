package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Condition is a node of a rule's boolean condition tree.
// The concrete types are All, Any, Not, Leaf and Expr. A nil Condition always matches.
type Condition interface {
	isCondition()
}

// All matches when every child matches.
type All struct {
	Children []Condition
}

// Any matches when at least one child matches.
type Any struct {
	Children []Condition
}

// Not negates its child.
type Not struct {
	Child Condition
}

// Leaf compares one fact against a literal value.
type Leaf struct {
	Fact     string
	Operator Operator
	// RawOperator is the operator as authored, kept for unknown operators.
	RawOperator string
	Value       any
}

// Expr is a CEL expression evaluated against the fact bag bound to "facts".
type Expr struct {
	Source string
}

func (All) isCondition()  {}
func (Any) isCondition()  {}
func (Not) isCondition()  {}
func (Leaf) isCondition() {}
func (Expr) isCondition() {}

// Operator is a leaf comparison operator.
type Operator string

const (
	OpUnknown  Operator = ""
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNin      Operator = "nin"
	OpContains Operator = "contains"
	OpExists   Operator = "exists"
)

var operators = map[string]Operator{
	"eq":       OpEq,
	"neq":      OpNeq,
	"gt":       OpGt,
	"gte":      OpGte,
	"lt":       OpLt,
	"lte":      OpLte,
	"in":       OpIn,
	"nin":      OpNin,
	"contains": OpContains,
	"exists":   OpExists,
}

// ParseOperator maps an authored operator name to an Operator.
func ParseOperator(s string) (Operator, bool) {
	op, ok := operators[strings.ToLower(strings.TrimSpace(s))]
	return op, ok
}

// ParseConditionJSON decodes a JSON condition object. Empty input and null yield nil.
func ParseConditionJSON(data []byte) (Condition, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode condition: %w", err)
	}
	return ParseCondition(v)
}

// ParseCondition converts a decoded JSON or YAML value into a Condition.
//
// Keys are checked in the order all, any, not, expr; anything else is read as a leaf.
func ParseCondition(v any) (Condition, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("condition must be an object, got %T", v)
	}
	if len(m) == 0 {
		return nil, nil
	}

	if raw, ok := m["all"]; ok {
		children, err := parseChildren("all", raw)
		if err != nil {
			return nil, err
		}
		return All{Children: children}, nil
	}
	if raw, ok := m["any"]; ok {
		children, err := parseChildren("any", raw)
		if err != nil {
			return nil, err
		}
		return Any{Children: children}, nil
	}
	if raw, ok := m["not"]; ok {
		child, err := ParseCondition(raw)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return Not{Child: child}, nil
	}
	if raw, ok := m["expr"]; ok {
		src, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expr must be a string, got %T", raw)
		}
		return Expr{Source: src}, nil
	}

	leaf := Leaf{Value: m["value"]}
	if fact, ok := m["fact"].(string); ok {
		leaf.Fact = fact
	}
	if rawOp, ok := m["operator"].(string); ok {
		leaf.RawOperator = rawOp
		leaf.Operator, _ = ParseOperator(rawOp)
	}
	return leaf, nil
}

func parseChildren(key string, raw any) ([]Condition, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array, got %T", key, raw)
	}
	children := make([]Condition, 0, len(items))
	for i, item := range items {
		child, err := ParseCondition(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		children = append(children, child)
	}
	return children, nil
}

// ConditionValue converts a Condition back into its generic object form.
func ConditionValue(c Condition) any {
	switch n := c.(type) {
	case nil:
		return nil
	case All:
		return map[string]any{"all": childValues(n.Children)}
	case Any:
		return map[string]any{"any": childValues(n.Children)}
	case Not:
		return map[string]any{"not": ConditionValue(n.Child)}
	case Expr:
		return map[string]any{"expr": n.Source}
	case Leaf:
		out := map[string]any{}
		if n.Fact != "" {
			out["fact"] = n.Fact
		}
		op := n.RawOperator
		if op == "" {
			op = string(n.Operator)
		}
		if op != "" {
			out["operator"] = op
		}
		if n.Value != nil {
			out["value"] = n.Value
		}
		return out
	default:
		panic(fmt.Sprintf("rules: unhandled condition type %T", c))
	}
}

func childValues(children []Condition) []any {
	out := make([]any, 0, len(children))
	for _, c := range children {
		v := ConditionValue(c)
		if v == nil {
			v = map[string]any{}
		}
		out = append(out, v)
	}
	return out
}

// MarshalCondition encodes c as JSON. A nil condition encodes as nil.
func MarshalCondition(c Condition) (json.RawMessage, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(ConditionValue(c))
}
