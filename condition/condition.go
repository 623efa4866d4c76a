// Package condition compiles a boolean expression once and evaluates it
// against many environments — the backend pipeline.CompileFilter uses to
// turn a Filter stage's predicate text into an ExecutablePipelineStage
// (spec §4.2).
package condition

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Condition is anything that can be evaluated against a row environment
// (a schema.DecodeRow map) to a boolean keep/drop decision.
type Condition interface {
	Evaluate(env interface{}) bool
}

// ExprCondition compiles its expression once via expr-lang and reuses the
// resulting bytecode program across every row it is asked to evaluate.
type ExprCondition struct {
	program *vm.Program
}

// NewExprCondition compiles expression, forcing the result to a bool
// (expr.AsBool) since a Filter predicate has no other valid shape.
// Undefined variables are allowed so a predicate can reference fields the
// row environment may or may not carry.
func NewExprCondition(expression string) (Condition, error) {
	program, err := expr.Compile(expression, exprOptions()...)
	if err != nil {
		return nil, err
	}
	return &ExprCondition{program: program}, nil
}

func exprOptions() []expr.Option {
	return []expr.Option{
		expr.Function("like_match", likeMatchFn),
		expr.Function("is_null", isNullFn),
		expr.Function("is_not_null", isNotNullFn),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	}
}

func likeMatchFn(params ...any) (any, error) {
	if len(params) != 2 {
		return false, fmt.Errorf("like_match: want 2 parameters, got %d", len(params))
	}
	text, ok1 := params[0].(string)
	pattern, ok2 := params[1].(string)
	if !ok1 || !ok2 {
		return false, fmt.Errorf("like_match: both parameters must be strings")
	}
	return matchesLikePattern(text, pattern), nil
}

func isNullFn(params ...any) (any, error) {
	if len(params) != 1 {
		return false, fmt.Errorf("is_null: want 1 parameter, got %d", len(params))
	}
	return params[0] == nil, nil
}

func isNotNullFn(params ...any) (any, error) {
	if len(params) != 1 {
		return false, fmt.Errorf("is_not_null: want 1 parameter, got %d", len(params))
	}
	return params[0] != nil, nil
}

// Evaluate runs the compiled program against env, treating any runtime
// error (e.g. a type mismatch on a missing field) as a non-match rather
// than propagating, since a Filter stage has no error channel of its own
// — a row that cannot be evaluated is dropped.
func (ec *ExprCondition) Evaluate(env interface{}) bool {
	result, err := expr.Run(ec.program, env)
	if err != nil {
		return false
	}
	keep, ok := result.(bool)
	return ok && keep
}

// matchesLikePattern implements SQL LIKE matching: '%' matches any run of
// characters (including none), '_' matches exactly one.
func matchesLikePattern(text, pattern string) bool {
	return likeMatch(text, pattern, 0, 0)
}

func likeMatch(text, pattern string, textIndex, patternIndex int) bool {
	if patternIndex >= len(pattern) {
		return textIndex >= len(text)
	}

	if textIndex >= len(text) {
		for i := patternIndex; i < len(pattern); i++ {
			if pattern[i] != '%' {
				return false
			}
		}
		return true
	}

	switch pattern[patternIndex] {
	case '%':
		if likeMatch(text, pattern, textIndex, patternIndex+1) {
			return true
		}
		for i := textIndex; i < len(text); i++ {
			if likeMatch(text, pattern, i+1, patternIndex+1) {
				return true
			}
		}
		return false
	case '_':
		return likeMatch(text, pattern, textIndex+1, patternIndex+1)
	default:
		return text[textIndex] == pattern[patternIndex] && likeMatch(text, pattern, textIndex+1, patternIndex+1)
	}
}
