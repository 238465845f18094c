package workflow

import (
	"encoding/json"
	"strings"

	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// ConditionEvaluator decides which branch a Conditional step takes.
type ConditionEvaluator interface {
	Evaluate(condition string, ctx *corekit.ExecutionContext) (bool, error)
}

// SimpleConditionEvaluator supports a small expression grammar over
// ExecutionContext variables and step results: `name == value`,
// `name != value`, a bare `name` tested for truthiness, or a step id
// tested for that step's own success. It recognizes no operator
// precedence or boolean combinators; anything else evaluates false.
type SimpleConditionEvaluator struct{}

func (SimpleConditionEvaluator) Evaluate(condition string, ctx *corekit.ExecutionContext) (bool, error) {
	condition = strings.TrimSpace(condition)

	if left, right, ok := strings.Cut(condition, "=="); ok {
		return valueEquals(ctx, strings.TrimSpace(left), unquote(strings.TrimSpace(right))), nil
	}
	if left, right, ok := strings.Cut(condition, "!="); ok {
		left = strings.TrimSpace(left)
		if value, ok := ctx.Get(left); ok {
			return !stringEquals(value, unquote(strings.TrimSpace(right))), nil
		}
		// The variable named on the left is absent. Unlike the reference
		// this was ported from (which treats a missing != operand as an
		// immediate true), this falls through to a step-id success check
		// on the bare left-hand identifier, then false — the same
		// resolution rule #3 applies everywhere else a name is unresolved.
		if result, ok := ctx.StepResults[left]; ok {
			return result.Success, nil
		}
		return false, nil
	}

	if value, ok := ctx.Get(condition); ok {
		return truthy(value), nil
	}
	if result, ok := ctx.StepResults[condition]; ok {
		return result.Success, nil
	}
	return false, nil
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

func valueEquals(ctx *corekit.ExecutionContext, name, want string) bool {
	value, ok := ctx.Get(name)
	if !ok {
		return false
	}
	return stringEquals(value, want)
}

func stringEquals(value any, want string) bool {
	if s, ok := value.(string); ok {
		return s == want
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return false
	}
	return strings.Trim(string(encoded), `"`) == want
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}
