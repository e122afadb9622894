package policy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/flowcore/internal/domain"
)

func schemaAny() *domain.Schema { return domain.AnySchema }

func stepNode(id string, task *domain.Task) *domain.Node {
	return &domain.Node{ID: id, Kind: domain.NodeKindStep, Step: &domain.StepNode{Task: task}}
}

func TestCompensator_RunsInReverseCompletionOrder(t *testing.T) {
	var order []string

	chargeCard := &domain.Task{
		ID: "chargeCard", InputSchema: schemaAny(), OutputSchema: schemaAny(),
		Compensate: func(_ context.Context, _ *domain.TaskContext, _ any) error {
			order = append(order, "chargeCard")
			return nil
		},
	}
	reserveInventory := &domain.Task{
		ID: "reserveInventory", InputSchema: schemaAny(), OutputSchema: schemaAny(),
		Compensate: func(_ context.Context, _ *domain.TaskContext, _ any) error {
			order = append(order, "reserveInventory")
			return nil
		},
	}
	ship := &domain.Task{ID: "ship", InputSchema: schemaAny(), OutputSchema: schemaAny()}

	plan := domain.NewPlan("flow-1", []*domain.Node{
		stepNode("0", chargeCard),
		stepNode("1", reserveInventory),
		stepNode("2", ship),
	}, schemaAny(), schemaAny(), "hash")

	exec := domain.NewExecution("flow-1", "hash", json.RawMessage(`{}`), nil)
	exec.MarkNodeCompleted("0", json.RawMessage(`{}`))
	exec.MarkNodeCompleted("1", json.RawMessage(`{}`))

	results := NewCompensator(nil).Run(context.Background(), plan, exec)

	for _, r := range results {
		require.NoError(t, r.Err)
	}
	nodeIDs := make([]string, len(results))
	for i, r := range results {
		nodeIDs[i] = r.NodeID
	}
	assert.Equal(t, []string{"1", "0"}, nodeIDs)
	assert.Equal(t, []string{"reserveInventory", "chargeCard"}, order)
}

func TestCompensator_SkipsNodesWithoutCompensation(t *testing.T) {
	noCompensate := &domain.Task{ID: "noCompensate", InputSchema: schemaAny(), OutputSchema: schemaAny()}
	plan := domain.NewPlan("flow-1", []*domain.Node{stepNode("0", noCompensate)}, schemaAny(), schemaAny(), "hash")

	exec := domain.NewExecution("flow-1", "hash", json.RawMessage(`{}`), nil)
	exec.MarkNodeCompleted("0", json.RawMessage(`{}`))

	results := NewCompensator(nil).Run(context.Background(), plan, exec)
	assert.Empty(t, results)
}

func TestCompensator_RecordsFailedCompensationWithoutAborting(t *testing.T) {
	var secondRan bool

	first := &domain.Task{
		ID: "first", InputSchema: schemaAny(), OutputSchema: schemaAny(),
		Compensate: func(context.Context, *domain.TaskContext, any) error { secondRan = true; return nil },
	}
	second := &domain.Task{
		ID: "second", InputSchema: schemaAny(), OutputSchema: schemaAny(),
		Compensate: func(context.Context, *domain.TaskContext, any) error { return errors.New("compensation boom") },
	}

	plan := domain.NewPlan("flow-1", []*domain.Node{stepNode("0", first), stepNode("1", second)}, schemaAny(), schemaAny(), "hash")

	exec := domain.NewExecution("flow-1", "hash", json.RawMessage(`{}`), nil)
	exec.MarkNodeCompleted("0", json.RawMessage(`{}`))
	exec.MarkNodeCompleted("1", json.RawMessage(`{}`))

	results := NewCompensator(nil).Run(context.Background(), plan, exec)

	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].NodeID)
	require.Error(t, results[0].Err)
	assert.True(t, domain.IsCompensationError(results[0].Err))
	assert.Equal(t, "0", results[1].NodeID)
	assert.NoError(t, results[1].Err)
	assert.True(t, secondRan)
}
