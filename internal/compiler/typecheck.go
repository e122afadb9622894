package compiler

import (
	"fmt"

	"github.com/eleven-am/flowcore/internal/domain"
)

// unifySchema folds one more arm's output schema into the running unified
// schema for a Branch node. Any side may be domain.AnySchema, in which case
// the other side wins; two differently-named concrete schemas fail to unify
// and raise BranchTypeDivergence.
func unifySchema(current, candidate *domain.Schema, shared *sharedState) *domain.Schema {
	if current == nil {
		return candidate
	}
	if current.Name == domain.AnySchema.Name {
		return candidate
	}
	if candidate == nil || candidate.Name == domain.AnySchema.Name || candidate.Name == current.Name {
		return current
	}
	shared.fail(domain.NewCompileError("BranchTypeDivergence", fmt.Errorf("arm outputs %q and %q do not unify", current.Name, candidate.Name)))
	return current
}

// loopInvariantHolds reports whether a While body's output schema equals its
// input schema, treating domain.AnySchema on either side as a wildcard.
func loopInvariantHolds(input, output *domain.Schema) bool {
	if input == nil || output == nil {
		return true
	}
	if input.Name == domain.AnySchema.Name || output.Name == domain.AnySchema.Name {
		return true
	}
	return input.Name == output.Name
}
