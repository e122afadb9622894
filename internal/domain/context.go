package domain

import (
	"context"
	"encoding/json"
)

// TaskContext is passed to every task execute/compensate call. It embeds a
// context.Context so user code gets the familiar Done()/Err() cancellation
// surface for free, and layers read access to prior outputs and the
// execution's variables plus a guarded write accessor for variables.
type TaskContext struct {
	context.Context

	FlowID      string
	ExecutionID string
	NodeID      string
	Attempt     int

	outputs   map[string]json.RawMessage
	variables map[string]json.RawMessage
	writes    []VariableWrite
}

// NewTaskContext constructs a per-attempt TaskContext. outputs and
// variables are the execution's maps at the moment the attempt starts;
// SetVariable records writes locally so the scheduler can merge them across
// concurrent Parallel/ForEach arms (§5) rather than mutating the shared map
// directly.
func NewTaskContext(ctx context.Context, flowID, executionID, nodeID string, attempt int, outputs, variables map[string]json.RawMessage) *TaskContext {
	return &TaskContext{
		Context:     ctx,
		FlowID:      flowID,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Attempt:     attempt,
		outputs:     outputs,
		variables:   variables,
	}
}

// Output returns a previously completed node's recorded output.
func (tc *TaskContext) Output(nodeID string) (json.RawMessage, bool) {
	v, ok := tc.outputs[nodeID]
	return v, ok
}

// Variable reads the current value of a variable, reflecting the state at
// the moment this TaskContext was constructed plus any writes made by this
// same attempt so far.
func (tc *TaskContext) Variable(key string) (json.RawMessage, bool) {
	v, ok := tc.variables[key]
	return v, ok
}

// SetVariable stages a write to the named variable. The write is visible to
// subsequent reads on this same TaskContext immediately, but is only
// reconciled into the execution's shared Variables map by the scheduler
// once the attempt succeeds (see internal/domain/variables.go for the
// arm-merge rule applied when this happens under a Parallel/ForEach node).
func (tc *TaskContext) SetVariable(key string, value json.RawMessage) {
	tc.variables[key] = value
	tc.writes = append(tc.writes, VariableWrite{Key: key, Value: value})
}

// Writes returns every variable write staged during this attempt, in the
// order they were made.
func (tc *TaskContext) Writes() []VariableWrite {
	return tc.writes
}
