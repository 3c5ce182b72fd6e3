package rules

import "log/slog"

// ConditionEvaluator interprets condition trees against a fact bag.
//
// By default it is permissive: a leaf without a fact, an unknown operator, and a CEL
// expression that fails to compile or run all evaluate to true. In strict mode they
// evaluate to false instead.
type ConditionEvaluator struct {
	cel    *CELCompiler
	strict bool
	logger *slog.Logger
}

// EvaluatorOption configures a ConditionEvaluator.
type EvaluatorOption func(*ConditionEvaluator)

// WithStrictMode makes malformed leaves and expressions fail to match.
func WithStrictMode(strict bool) EvaluatorOption {
	return func(e *ConditionEvaluator) { e.strict = strict }
}

// WithCELCompiler shares a compiler (and its program cache) with the evaluator.
func WithCELCompiler(c *CELCompiler) EvaluatorOption {
	return func(e *ConditionEvaluator) { e.cel = c }
}

// WithEvaluatorLogger sets the logger used for expression failures.
func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *ConditionEvaluator) { e.logger = logger }
}

// NewConditionEvaluator creates an evaluator.
func NewConditionEvaluator(opts ...EvaluatorOption) *ConditionEvaluator {
	e := &ConditionEvaluator{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.cel == nil {
		c, err := NewCELCompiler()
		if err != nil {
			e.logger.Error("CEL unavailable, expression conditions fall back to defaults", "error", err)
		}
		e.cel = c
	}
	e.logger = e.logger.With("component", "rules.evaluator")
	return e
}

// Evaluate reports whether cond matches facts.
func (e *ConditionEvaluator) Evaluate(cond Condition, facts Facts) bool {
	switch n := cond.(type) {
	case nil:
		return true
	case All:
		for _, child := range n.Children {
			if !e.Evaluate(child, facts) {
				return false
			}
		}
		return true
	case Any:
		for _, child := range n.Children {
			if e.Evaluate(child, facts) {
				return true
			}
		}
		return false
	case Not:
		return !e.Evaluate(n.Child, facts)
	case Leaf:
		return e.evaluateLeaf(n, facts)
	case Expr:
		return e.evaluateExpr(n, facts)
	default:
		return !e.strict
	}
}

func (e *ConditionEvaluator) evaluateLeaf(leaf Leaf, facts Facts) bool {
	if leaf.Fact == "" || leaf.Operator == OpUnknown {
		return !e.strict
	}
	return compare(leaf.Operator, facts[leaf.Fact], leaf.Value)
}

func (e *ConditionEvaluator) evaluateExpr(expr Expr, facts Facts) bool {
	if e.cel == nil {
		return !e.strict
	}
	matched, err := e.cel.Eval(expr.Source, facts)
	if err != nil {
		e.logger.Debug("expression evaluation failed",
			"expr", expr.Source,
			"error", err,
			"strict", e.strict,
		)
		return !e.strict
	}
	return matched
}
