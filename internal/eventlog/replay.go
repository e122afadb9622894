package eventlog

import (
	"encoding/json"

	"github.com/eleven-am/flowcore/internal/domain"
)

// outputResolver recovers the real output bytes a NodeSucceeded event only
// references by node id. The package-level Replay has no storage handle and
// falls back to a null placeholder; Manager.Replay supplies a resolver
// backed by the TaskResultKey records Append writes alongside each event.
type outputResolver func(nodeID string) json.RawMessage

func nullResolver(string) json.RawMessage { return json.RawMessage(`null`) }

// Replay reconstructs a read-only *domain.Execution projection by folding
// an execution's ordered event stream from scratch. This is both the
// mechanism behind the replay-determinism testable property (§8) and the
// supplemental inspect-only replay feature: a caller can obtain a
// point-in-time projection of any past execution without resuming it.
//
// Replay has no storage handle, so a NodeSucceeded event's output is left as
// a null placeholder; use Manager.Replay to recover the real output bytes.
func Replay(flowID, flowHash string, events []domain.Event) *domain.Execution {
	return replayWithResolver(flowID, flowHash, events, nullResolver)
}

func replayWithResolver(flowID, flowHash string, events []domain.Event, resolve outputResolver) *domain.Execution {
	if len(events) == 0 {
		return nil
	}

	exec := domain.NewExecution(flowID, flowHash, json.RawMessage(`null`), nil)
	exec.ExecutionID = events[0].ExecutionID
	exec.Status = domain.StatusRunning

	for _, evt := range events {
		applyEvent(exec, evt, resolve)
	}
	return exec
}

// ReplayUpTo folds only the events with Seq <= upToSeq, giving a
// point-in-time projection as of an earlier moment in the execution's
// history — the inspect-only replay use case.
func ReplayUpTo(flowID, flowHash string, events []domain.Event, upToSeq int64) *domain.Execution {
	bounded := make([]domain.Event, 0, len(events))
	for _, evt := range events {
		if evt.Seq > upToSeq {
			break
		}
		bounded = append(bounded, evt)
	}
	return Replay(flowID, flowHash, bounded)
}

func applyEvent(exec *domain.Execution, evt domain.Event, resolve outputResolver) {
	switch evt.Type {
	case domain.EventExecutionStarted:
		exec.Status = domain.StatusRunning
	case domain.EventNodeStarted:
		exec.Cursor = evt.NodeID
	case domain.EventNodeSucceeded:
		if _, ok := exec.Outputs[evt.NodeID]; !ok {
			exec.MarkNodeCompleted(evt.NodeID, resolve(evt.NodeID))
		}
	case domain.EventNodeFailed:
		exec.MarkNodeFailed(evt.NodeID, evt.ErrorKind, evt.ErrorDetail)
	case domain.EventRetryScheduled:
		exec.Cursor = evt.NodeID
	case domain.EventPaused:
		exec.Status = domain.StatusPaused
	case domain.EventResumed:
		exec.Status = domain.StatusRunning
	case domain.EventCompensationStart:
		exec.Status = domain.StatusCompensating
	case domain.EventCompensated:
	case domain.EventExecutionComplete:
		exec.Status = domain.StatusCompleted
	case domain.EventExecutionFailed:
		exec.Status = domain.StatusFailed
	}
}
