package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	executionPrefix   = "execution:state:"
	snapshotPrefix    = "execution:snapshot:"
	eventLogPrefix    = "execution:events:"
	taskResultPrefix  = "execution:task:"
	leaseNamespace    = "execution"
)

// ExecutionKey builds the canonical key for an execution's current projection.
func ExecutionKey(executionID string) string {
	return fmt.Sprintf("%s%s", executionPrefix, executionID)
}

// SnapshotKey builds the key for an immutable, versioned execution snapshot.
func SnapshotKey(executionID string, version int64) string {
	return fmt.Sprintf("%s%s:%d", snapshotPrefix, executionID, version)
}

// EventKey builds the key for a single append-only event log entry.
func EventKey(executionID string, sequence int64) string {
	return fmt.Sprintf("%s%s:%010d", eventLogPrefix, executionID, sequence)
}

// EventPrefix returns the prefix under which all events for an execution live,
// suitable for ListByPrefix scans in ascending sequence order.
func EventPrefix(executionID string) string {
	return fmt.Sprintf("%s%s:", eventLogPrefix, executionID)
}

// TaskResultKey builds the key for a completed node's recorded output.
func TaskResultKey(executionID, nodeID string) string {
	return fmt.Sprintf("%s%s:%s", taskResultPrefix, executionID, nodeID)
}

// LeaseKey builds the key used to guard exclusive execution ownership.
func LeaseKey(executionID string) string {
	return leaseNamespace + ":" + executionID
}

// ExecutionPrefix returns the prefix under which every execution's current
// projection lives, for a control plane's list_executions scan.
func ExecutionPrefix() string {
	return executionPrefix
}

// SnapshotPrefix returns the prefix under which every immutable snapshot
// version for one execution lives.
func SnapshotPrefix(executionID string) string {
	return fmt.Sprintf("%s%s:", snapshotPrefix, executionID)
}

// TaskResultPrefix returns the prefix under which every completed node's
// recorded output for one execution lives.
func TaskResultPrefix(executionID string) string {
	return fmt.Sprintf("%s%s:", taskResultPrefix, executionID)
}

// iterationSeparator qualifies a compiled node id with the loop iteration
// that produced it. A While or ForEach body is one fixed sub-plan replayed
// once per iteration/element, so its node ids alone can't distinguish
// iteration 0's completion from iteration 5's the way exec.Completed and
// exec.Outputs (both flat, keyed by node id) require. Compiled node ids
// never contain this character, so it's a safe, reversible qualifier.
const iterationSeparator = "#"

// IterationNodeID qualifies a body node's id with its 0-based iteration
// index, so each pass through a While or ForEach body gets its own
// exec.Completed/Outputs/event-log entry instead of colliding on the
// underlying node id.
func IterationNodeID(nodeID string, iteration int) string {
	return nodeID + iterationSeparator + strconv.Itoa(iteration)
}

// BaseNodeID strips every IterationNodeID qualifier back off, recovering
// the node id as it appears in the compiled Plan's index. Used wherever a
// persisted node id needs to be resolved back to its Task, e.g. the
// compensator looking up which capability to invoke.
func BaseNodeID(nodeID string) string {
	if idx := strings.Index(nodeID, iterationSeparator); idx >= 0 {
		return nodeID[:idx]
	}
	return nodeID
}
