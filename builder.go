package flowcore

import (
	"github.com/eleven-am/flowcore/internal/compiler"
	"github.com/eleven-am/flowcore/internal/domain"
)

// Builder is the fluent flow composition API (C4): a chain of
// Then/Branch/Parallel/While/ForEach/Nested calls that each append one node
// and check the operation's type compatibility at the call site, so a
// mistake surfaces where it was introduced rather than deep inside Build.
type Builder = compiler.FlowBuilder

// BranchArmSpec pairs a label and predicate with the sub-flow built for one
// Branch arm.
type BranchArmSpec = compiler.BranchArmSpec

// NewFlow starts a new flow builder identified by flowID, whose first
// operation must accept input.
func NewFlow(flowID string, input *Schema) *Builder {
	return compiler.NewFlowBuilder(flowID, input)
}

// BranchPredicate decides which Branch arm (if any) runs for a given value.
type BranchPredicate = domain.BranchPredicate
