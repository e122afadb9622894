package eventlog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/flowcore/internal/domain"
)

func TestReplay_EmptyEventsReturnsNil(t *testing.T) {
	assert.Nil(t, Replay("flow-1", "hash", nil))
}

func TestReplay_FoldsLifecycleIntoTerminalStatus(t *testing.T) {
	executionID := "exec-1"
	events := []domain.Event{
		domain.NewExecutionStartedEvent(executionID, 1),
		domain.NewNodeStartedEvent(executionID, 2, "0", 1),
		domain.NewNodeSucceededEvent(executionID, 3, "0", 1, "0"),
		domain.NewExecutionCompletedEvent(executionID, 4, "0"),
	}

	exec := Replay("flow-1", "hash", events)
	require.NotNil(t, exec)
	assert.Equal(t, executionID, exec.ExecutionID)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
	require.Len(t, exec.Completed, 1)
	assert.Equal(t, "0", exec.Completed[0].NodeID)
	// No storage handle is available to the pure function, so a succeeded
	// node's real output can't be recovered here; Manager.Replay does that.
	assert.Equal(t, json.RawMessage(`null`), exec.Outputs["0"])
}

func TestReplay_NodeFailedRecordsFailure(t *testing.T) {
	executionID := "exec-2"
	events := []domain.Event{
		domain.NewExecutionStartedEvent(executionID, 1),
		domain.NewNodeFailedEvent(executionID, 2, "0", 1, domain.ErrorKindTask, "boom"),
		domain.NewExecutionFailedEvent(executionID, 3, domain.ErrorKindTask),
	}

	exec := Replay("flow-1", "hash", events)
	require.NotNil(t, exec)
	assert.Equal(t, domain.StatusFailed, exec.Status)
	require.Len(t, exec.Failed, 1)
	assert.Equal(t, "boom", exec.Failed[0].ErrorDetail)
}

func TestReplay_PausedThenResumed(t *testing.T) {
	executionID := "exec-3"
	events := []domain.Event{
		domain.NewExecutionStartedEvent(executionID, 1),
		domain.NewPausedEvent(executionID, 2, "waiting on external signal"),
	}
	paused := Replay("flow-1", "hash", events)
	require.NotNil(t, paused)
	assert.Equal(t, domain.StatusPaused, paused.Status)

	events = append(events, domain.NewResumedEvent(executionID, 3, "worker-a"))
	resumed := Replay("flow-1", "hash", events)
	require.NotNil(t, resumed)
	assert.Equal(t, domain.StatusRunning, resumed.Status)
}

func TestReplayUpTo_StopsAtBoundarySeq(t *testing.T) {
	executionID := "exec-4"
	events := []domain.Event{
		domain.NewExecutionStartedEvent(executionID, 1),
		domain.NewNodeSucceededEvent(executionID, 2, "0", 1, "0"),
		domain.NewExecutionCompletedEvent(executionID, 3, "0"),
	}

	partial := ReplayUpTo("flow-1", "hash", events, 2)
	require.NotNil(t, partial)
	assert.Equal(t, domain.StatusRunning, partial.Status)
	assert.Len(t, partial.Completed, 1)

	full := ReplayUpTo("flow-1", "hash", events, 3)
	require.NotNil(t, full)
	assert.Equal(t, domain.StatusCompleted, full.Status)
}
