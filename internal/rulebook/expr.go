package rulebook

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprCache holds compiled programs keyed by source text, so a
// condition reused across many leads (the common case: every lead on a
// sequence step shares the same expr string) compiles once. Adapted
// from the teacher's parser.ParseExpression, generalized from CSV
// filter strings to condition.expr strings evaluated against the vars
// the caller supplies (the scheduler passes {leadScore, tags}).
var exprCache sync.Map // string -> *vm.Program

func compileExpr(source string) (*vm.Program, error) {
	if cached, ok := exprCache.Load(source); ok {
		return cached.(*vm.Program), nil
	}

	program, err := expr.Compile(source, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile condition expr: %w", err)
	}

	exprCache.Store(source, program)
	return program, nil
}

// EvaluateExpr evaluates a condition.expr string (SPEC_FULL.md §4.13,
// the "expr" ConditionType escape hatch) against vars. A non-boolean
// result or a runtime error is reported via the returned error; the
// caller (the sequence resolver) decides met/waiting/failed from
// (result, err, skipIfNotMet) exactly as it does for the fixed
// condition table.
func EvaluateExpr(source string, vars map[string]any) (bool, error) {
	program, err := compileExpr(source)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, vars)
	if err != nil {
		return false, fmt.Errorf("run condition expr: %w", err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition expr must evaluate to a boolean, got %T", result)
	}
	return b, nil
}
