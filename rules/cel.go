package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// celCostLimit bounds the work a single expression may do.
const celCostLimit = 1000000

// CELCompiler compiles and caches CEL programs for Expr conditions.
// Expressions see the fact bag as the map variable "facts".
// Safe for concurrent use.
type CELCompiler struct {
	env      *cel.Env
	programs map[string]cel.Program // expression source -> compiled program
	mu       sync.RWMutex
}

// NewCELCompiler creates a compiler with the facts environment.
func NewCELCompiler() (*CELCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("facts", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELCompiler{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile type-checks an expression and caches the resulting program.
// Expressions must produce a bool (or a dynamic value checked at runtime).
func (c *CELCompiler) Compile(expression string) (cel.Program, error) {
	c.mu.RLock()
	prog, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", out)
	}

	prog, err := c.env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	c.mu.Lock()
	c.programs[expression] = prog
	c.mu.Unlock()
	return prog, nil
}

// Eval runs an expression against the facts.
func (c *CELCompiler) Eval(expression string, facts Facts) (bool, error) {
	prog, err := c.Compile(expression)
	if err != nil {
		return false, err
	}
	out, _, err := prog.Eval(map[string]any{"facts": map[string]any(facts)})
	if err != nil {
		return false, err
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return matched, nil
}
