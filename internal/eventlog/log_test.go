package eventlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/flowcore/internal/adapters/storage"
	"github.com/eleven-am/flowcore/internal/domain"
)

func newTestManager() *Manager {
	return NewManager(storage.NewMemoryStore(nil), nil)
}

// TestManager_AppendReproducesScenarioS1 walks the distilled spec's double
// -> double flow ({"value":3} through two doubling steps) and checks that
// Append leaves behind the exact version/snapshot/status trail S1 describes:
// snapshots at versions 1 through 4, execution completed at the end.
func TestManager_AppendReproducesScenarioS1(t *testing.T) {
	m := newTestManager()
	exec := domain.NewExecution("double-double", "hash-s1", json.RawMessage(`{"value":3}`), nil)

	_, err := m.Append(context.Background(), exec, domain.NewExecutionStartedEvent(exec.ExecutionID, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 1, exec.Version)

	exec.MarkNodeCompleted("0", json.RawMessage(`{"value":6}`))
	_, err = m.Append(context.Background(), exec, domain.NewNodeSucceededEvent(exec.ExecutionID, 0, "0", 1, "0"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, exec.Version)

	exec.MarkNodeCompleted("1", json.RawMessage(`{"value":12}`))
	_, err = m.Append(context.Background(), exec, domain.NewNodeSucceededEvent(exec.ExecutionID, 0, "1", 1, "1"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, exec.Version)

	exec.Status = domain.StatusCompleted
	_, err = m.Append(context.Background(), exec, domain.NewExecutionCompletedEvent(exec.ExecutionID, 0, "1"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, exec.Version)

	for version := int64(1); version <= 4; version++ {
		snap, err := m.SnapshotAt(exec.ExecutionID, version)
		require.NoError(t, err)
		assert.EqualValues(t, version, snap.Version)
	}

	current, err := m.CurrentProjection(exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, current.Status)
	assert.Equal(t, json.RawMessage(`{"value":12}`), current.Outputs["1"])
}

func TestManager_AppendAssignsIncreasingSequenceNumbers(t *testing.T) {
	m := newTestManager()
	exec := domain.NewExecution("flow-1", "hash", json.RawMessage(`{}`), nil)

	first, err := m.Append(context.Background(), exec, domain.NewExecutionStartedEvent(exec.ExecutionID, 0))
	require.NoError(t, err)
	second, err := m.Append(context.Background(), exec, domain.NewNodeStartedEvent(exec.ExecutionID, 0, "0", 1))
	require.NoError(t, err)

	assert.EqualValues(t, 1, first.Seq)
	assert.EqualValues(t, 2, second.Seq)

	events, err := m.Events(exec.ExecutionID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventExecutionStarted, events[0].Type)
	assert.Equal(t, domain.EventNodeStarted, events[1].Type)
}

func TestManager_CurrentProjectionMissingExecution(t *testing.T) {
	m := newTestManager()
	_, err := m.CurrentProjection("does-not-exist")
	require.Error(t, err)
	assert.True(t, domain.IsStorageError(err))
}

func TestManager_ReplayRecoversRealOutputBytes(t *testing.T) {
	m := newTestManager()
	exec := domain.NewExecution("flow-1", "hash", json.RawMessage(`{"value":3}`), nil)

	_, err := m.Append(context.Background(), exec, domain.NewExecutionStartedEvent(exec.ExecutionID, 0))
	require.NoError(t, err)

	exec.MarkNodeCompleted("0", json.RawMessage(`{"value":6}`))
	_, err = m.Append(context.Background(), exec, domain.NewNodeSucceededEvent(exec.ExecutionID, 0, "0", 1, "0"))
	require.NoError(t, err)

	exec.Status = domain.StatusCompleted
	_, err = m.Append(context.Background(), exec, domain.NewExecutionCompletedEvent(exec.ExecutionID, 0, "0"))
	require.NoError(t, err)

	replayed, err := m.Replay("flow-1", "hash", exec.ExecutionID)
	require.NoError(t, err)

	current, err := m.CurrentProjection(exec.ExecutionID)
	require.NoError(t, err)

	assert.Equal(t, current.Status, replayed.Status)
	assert.Equal(t, json.RawMessage(`{"value":6}`), replayed.Outputs["0"])
}
