package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the closed set of states an Execution can occupy.
type ExecutionStatus string

const (
	StatusPending      ExecutionStatus = "pending"
	StatusRunning      ExecutionStatus = "running"
	StatusPaused       ExecutionStatus = "paused"
	StatusCompleted    ExecutionStatus = "completed"
	StatusFailed       ExecutionStatus = "failed"
	StatusCompensating ExecutionStatus = "compensating"
)

// CompletedNode records a finished node's output reference. OutputRef is
// always equal to NodeID today (outputs are keyed by node id in the
// Outputs map) but is kept as its own field to match the distilled spec's
// `(node_id, output_ref)` pair verbatim and to leave room for
// content-addressed output storage later.
type CompletedNode struct {
	NodeID    string `json:"node_id"`
	OutputRef string `json:"output_ref"`
}

// FailedNode records a node that terminally failed.
type FailedNode struct {
	NodeID      string    `json:"node_id"`
	ErrorKind   ErrorKind `json:"error_kind"`
	ErrorDetail string    `json:"error_detail"`
}

// Execution is the runtime record of one live or terminated run of a Plan.
// It is the unit persisted by every snapshot and reconstructed by
// eventlog.Replay.
type Execution struct {
	ExecutionID string          `json:"execution_id"`
	FlowID      string          `json:"flow_id"`
	FlowHash    string          `json:"flow_hash"`
	Status      ExecutionStatus `json:"status"`
	Cursor      string          `json:"cursor"`

	Completed []CompletedNode `json:"completed"`
	Failed    []FailedNode    `json:"failed"`

	Outputs   map[string]json.RawMessage `json:"outputs"`
	Variables map[string]json.RawMessage `json:"variables"`
	Metadata  map[string]string          `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NewExecution creates a fresh, pending Execution for a compiled Plan and a
// validated input. The input is recorded as the synthetic root output so
// the first node's Step input-binding rule ("input = execution input for
// the first node") is just the scheduler reading Outputs[RootInputKey].
func NewExecution(flowID, flowHash string, input json.RawMessage, metadata map[string]string) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ExecutionID: uuid.NewString(),
		FlowID:      flowID,
		FlowHash:    flowHash,
		Status:      StatusPending,
		Cursor:      "",
		Completed:   []CompletedNode{},
		Failed:      []FailedNode{},
		Outputs:     map[string]json.RawMessage{RootInputKey: input},
		Variables:   map[string]json.RawMessage{},
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     0,
	}
}

// RootInputKey is the synthetic key under which the execution's validated
// input is stored in Outputs, so the first node's predecessor output can be
// looked up the same way any other node's is.
const RootInputKey = "$input"

// IsTerminal reports whether the execution has reached a state from which
// the scheduler will never advance it further.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// MarkNodeCompleted records a successful node transition.
func (e *Execution) MarkNodeCompleted(nodeID string, output json.RawMessage) {
	e.Completed = append(e.Completed, CompletedNode{NodeID: nodeID, OutputRef: nodeID})
	e.Outputs[nodeID] = output
	e.UpdatedAt = time.Now().UTC()
}

// MarkNodeFailed records a node's terminal failure.
func (e *Execution) MarkNodeFailed(nodeID string, kind ErrorKind, detail string) {
	e.Failed = append(e.Failed, FailedNode{NodeID: nodeID, ErrorKind: kind, ErrorDetail: detail})
	e.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep-enough copy for safe mutation by the scheduler
// without aliasing the caller's slices/maps — snapshots must never be
// mutated in place once written (§3 invariant: a snapshot is immutable
// once written).
func (e *Execution) Clone() *Execution {
	clone := *e
	clone.Completed = append([]CompletedNode(nil), e.Completed...)
	clone.Failed = append([]FailedNode(nil), e.Failed...)

	clone.Outputs = make(map[string]json.RawMessage, len(e.Outputs))
	for k, v := range e.Outputs {
		clone.Outputs[k] = v
	}
	clone.Variables = make(map[string]json.RawMessage, len(e.Variables))
	for k, v := range e.Variables {
		clone.Variables[k] = v
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
