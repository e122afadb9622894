package flowcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/flowcore"
)

func TestNewFlow_ThenProducesRunnablePlan(t *testing.T) {
	square := &flowcore.Task{
		ID:           "square",
		InputSchema:  flowcore.AnySchema,
		OutputSchema: flowcore.AnySchema,
		Execute: func(_ context.Context, _ *flowcore.TaskContext, input any) (any, error) {
			n := input.(float64)
			return n * n, nil
		},
	}

	plan, err := flowcore.NewFlow("square-flow", flowcore.AnySchema).
		Then(square).
		Build(nil, flowcore.AnySchema)

	require.NoError(t, err)
	assert.Equal(t, "square-flow", plan.FlowID)
	assert.NotEmpty(t, plan.FlowHash)
	assert.Len(t, plan.Nodes, 1)
}

func TestNewFlow_BranchArmSpecCompiles(t *testing.T) {
	positive := &flowcore.Task{ID: "positive", InputSchema: flowcore.AnySchema, OutputSchema: flowcore.AnySchema,
		Execute: func(_ context.Context, _ *flowcore.TaskContext, input any) (any, error) { return input, nil }}
	negative := &flowcore.Task{ID: "negative", InputSchema: flowcore.AnySchema, OutputSchema: flowcore.AnySchema,
		Execute: func(_ context.Context, _ *flowcore.TaskContext, input any) (any, error) { return input, nil }}

	plan, err := flowcore.NewFlow("sign-flow", flowcore.AnySchema).
		Branch([]flowcore.BranchArmSpec{
			{
				Label:     "positive",
				Predicate: func(v any) bool { return v.(float64) >= 0 },
				Build:     func(fb *flowcore.Builder) { fb.Then(positive) },
			},
		}, func(fb *flowcore.Builder) { fb.Then(negative) }).
		Build(nil, flowcore.AnySchema)

	require.NoError(t, err)
	assert.Len(t, plan.Nodes, 1)
}
