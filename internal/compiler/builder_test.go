package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/flowcore/internal/domain"
)

func numberSchema() *domain.Schema { return domain.NewSchema("number", nil) }
func stringSchema() *domain.Schema { return domain.NewSchema("string", nil) }

func numberTask(id string) *domain.Task {
	return &domain.Task{
		ID:           id,
		InputSchema:  numberSchema(),
		OutputSchema: numberSchema(),
		Execute:      func(_ context.Context, _ *domain.TaskContext, input any) (any, error) { return input, nil },
	}
}

func TestBuilder_ThenChainsCompatibleSchemas(t *testing.T) {
	double := numberTask("double")
	plan, err := NewFlowBuilder("flow-1", numberSchema()).Then(double).Build(nil, numberSchema())
	require.NoError(t, err)
	assert.Len(t, plan.Nodes, 1)
	assert.NotEmpty(t, plan.FlowHash)
	assert.Equal(t, "number", plan.OutputSchema.Name)
}

func TestBuilder_ThenRejectsIncompatibleSchema(t *testing.T) {
	toString := &domain.Task{ID: "stringify", InputSchema: numberSchema(), OutputSchema: stringSchema()}
	takesNumber := numberTask("takesNumber")

	_, err := NewFlowBuilder("flow-1", numberSchema()).
		Then(toString).
		Then(takesNumber).
		Build(nil, numberSchema())

	require.Error(t, err)
	assert.True(t, domain.IsCompileError(err))
}

func TestBuilder_DuplicateTaskIDFails(t *testing.T) {
	dup := numberTask("dup")
	_, err := NewFlowBuilder("flow-1", numberSchema()).
		Then(dup).
		Branch([]BranchArmSpec{
			{Label: "arm", Predicate: func(any) bool { return true }, Build: func(fb *FlowBuilder) { fb.Then(dup) }},
		}, nil).
		Build(nil, numberSchema())

	require.Error(t, err)
	assert.True(t, domain.IsCompileError(err))
}

func TestBuilder_BranchUnifiesMatchingArmOutputs(t *testing.T) {
	tagLow := numberTask("tagLow")
	tagHigh := numberTask("tagHigh")

	plan, err := NewFlowBuilder("flow-1", numberSchema()).
		Then(numberTask("double")).
		Branch([]BranchArmSpec{
			{Label: "high", Predicate: func(v any) bool { return v.(float64) > 10 }, Build: func(fb *FlowBuilder) { fb.Then(tagHigh) }},
			{Label: "low", Predicate: func(v any) bool { return v.(float64) <= 10 }, Build: func(fb *FlowBuilder) { fb.Then(tagLow) }},
		}, nil).
		Build(nil, numberSchema())

	require.NoError(t, err)
	branchNode := plan.Nodes[1]
	require.Equal(t, domain.NodeKindBranch, branchNode.Kind)
	assert.Len(t, branchNode.Branch.Arms, 2)
	assert.Nil(t, branchNode.Branch.Default)
}

func TestBuilder_BranchDivergentArmOutputsFail(t *testing.T) {
	toString := &domain.Task{ID: "toString", InputSchema: numberSchema(), OutputSchema: stringSchema()}
	stayNumber := numberTask("stayNumber")

	_, err := NewFlowBuilder("flow-1", numberSchema()).
		Branch([]BranchArmSpec{
			{Label: "a", Predicate: func(any) bool { return true }, Build: func(fb *FlowBuilder) { fb.Then(stayNumber) }},
			{Label: "b", Predicate: func(any) bool { return false }, Build: func(fb *FlowBuilder) { fb.Then(toString) }},
		}, nil).
		Build(nil, numberSchema())

	require.Error(t, err)
	assert.True(t, domain.IsCompileError(err))
}

func TestBuilder_ParallelAlwaysProducesAnySchema(t *testing.T) {
	plan, err := NewFlowBuilder("flow-1", numberSchema()).
		Parallel([]func(*FlowBuilder){
			func(fb *FlowBuilder) { fb.Then(numberTask("armA")) },
			func(fb *FlowBuilder) { fb.Then(numberTask("armB")) },
		}).
		Build(nil, numberSchema())

	require.NoError(t, err)
	assert.Equal(t, domain.AnySchema.Name, plan.OutputSchema.Name)
}

func TestBuilder_WhileRequiresLoopInvariant(t *testing.T) {
	increment := numberTask("increment")

	plan, err := NewFlowBuilder("flow-1", numberSchema()).
		While(func(v any) bool { return v.(float64) < 10 }, 0, func(fb *FlowBuilder) { fb.Then(increment) }).
		Build(nil, numberSchema())

	require.NoError(t, err)
	whileNode := plan.Nodes[0]
	assert.Equal(t, domain.NodeKindWhile, whileNode.Kind)
}

func TestBuilder_WhileRejectsBrokenInvariant(t *testing.T) {
	toString := &domain.Task{ID: "toString", InputSchema: numberSchema(), OutputSchema: stringSchema()}

	_, err := NewFlowBuilder("flow-1", numberSchema()).
		While(func(any) bool { return true }, 0, func(fb *FlowBuilder) { fb.Then(toString) }).
		Build(nil, numberSchema())

	require.Error(t, err)
	assert.True(t, domain.IsCompileError(err))
}

func TestBuilder_ForEachAcceptsAnyBodySchema(t *testing.T) {
	plan, err := NewFlowBuilder("flow-1", numberSchema()).
		ForEach(3, func(fb *FlowBuilder) { fb.Then(numberTask("processElement")) }).
		Build(nil, numberSchema())

	require.NoError(t, err)
	forEachNode := plan.Nodes[0]
	require.Equal(t, domain.NodeKindForEach, forEachNode.Kind)
	assert.Equal(t, 3, forEachNode.ForEach.Concurrency)
}

func TestBuilder_NestedWrapsChildPlan(t *testing.T) {
	child, err := NewFlowBuilder("child-flow", numberSchema()).Then(numberTask("innerDouble")).Build(nil, numberSchema())
	require.NoError(t, err)

	plan, err := NewFlowBuilder("parent-flow", numberSchema()).
		Nested("child-flow", child).
		Build(nil, numberSchema())

	require.NoError(t, err)
	assert.Equal(t, domain.NodeKindNested, plan.Nodes[0].Kind)
	assert.Same(t, child, plan.Nodes[0].Nested.Plan)
}

func TestBuilder_FlowHashChangesWithStructure(t *testing.T) {
	planA, err := NewFlowBuilder("flow-1", numberSchema()).Then(numberTask("a")).Build(nil, numberSchema())
	require.NoError(t, err)

	planB, err := NewFlowBuilder("flow-1", numberSchema()).Then(numberTask("a")).Then(numberTask("b")).Build(nil, numberSchema())
	require.NoError(t, err)

	assert.NotEqual(t, planA.FlowHash, planB.FlowHash)
}

func TestBuilder_FlowHashStableForIdenticalStructure(t *testing.T) {
	planA, err := NewFlowBuilder("flow-1", numberSchema()).Then(numberTask("a")).Build(nil, numberSchema())
	require.NoError(t, err)

	planB, err := NewFlowBuilder("flow-1", numberSchema()).Then(numberTask("a")).Build(nil, numberSchema())
	require.NoError(t, err)

	assert.Equal(t, planA.FlowHash, planB.FlowHash)
}
