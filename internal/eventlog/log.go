// Package eventlog implements the Event Log & Snapshot Manager (C7): an
// append-only record of every node transition an execution goes through,
// with a versioned, immutable snapshot written at the same transactional
// boundary as the event that caused it (§4.6).
package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/ports"
	"github.com/eleven-am/flowcore/internal/xjson"
)

// Manager is the storage-backed writer/reader for one execution's event
// log and snapshot history. It layers domain/keys.go's fixed prefixes over
// the generic Storage Port, exactly as the teacher layers workflow:state:/
// workflow:snapshot: prefixes over its own KV port.
type Manager struct {
	store  ports.StoragePort
	logger *slog.Logger
}

func NewManager(store ports.StoragePort, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger.With("component", "eventlog")}
}

func (m *Manager) nextSeq(executionID string) (int64, error) {
	count, err := m.store.CountPrefix(domain.EventPrefix(executionID))
	if err != nil {
		return 0, domain.NewStorageError("count event log prefix", err)
	}
	return int64(count) + 1, nil
}

// Append assigns evt the next sequence number for exec's execution id,
// advances exec's Version, and atomically persists the event, a new
// immutable snapshot at that version, and the execution's current
// projection pointer (plus, for a NodeSucceeded event, the node's task
// result record) — all in a single storage transaction so a crash between
// them is impossible to observe.
func (m *Manager) Append(_ context.Context, exec *domain.Execution, evt domain.Event) (domain.Event, error) {
	seq, err := m.nextSeq(exec.ExecutionID)
	if err != nil {
		return domain.Event{}, err
	}
	evt.ExecutionID = exec.ExecutionID
	evt.Seq = seq

	exec.Version++

	eventPayload, err := xjson.Marshal(evt)
	if err != nil {
		return domain.Event{}, domain.NewStorageError("marshal event", err)
	}
	snapshotPayload, err := xjson.Marshal(exec)
	if err != nil {
		return domain.Event{}, domain.NewStorageError("marshal execution snapshot", err)
	}

	txErr := m.store.RunInTransaction(func(tx ports.Transaction) error {
		if err := tx.Put(domain.EventKey(exec.ExecutionID, seq), eventPayload, 1); err != nil {
			return err
		}
		if err := tx.Put(domain.SnapshotKey(exec.ExecutionID, exec.Version), snapshotPayload, 1); err != nil {
			return err
		}
		if evt.Type == domain.EventNodeSucceeded {
			if output, ok := exec.Outputs[evt.NodeID]; ok {
				if err := writeTaskResult(tx, exec.ExecutionID, evt.NodeID, output); err != nil {
					return err
				}
			}
		}
		return tx.Put(domain.ExecutionKey(exec.ExecutionID), snapshotPayload, exec.Version)
	})
	if txErr != nil {
		return domain.Event{}, domain.NewStorageError("append event and snapshot", txErr)
	}

	m.logger.Debug("event appended", "execution_id", exec.ExecutionID, "seq", seq, "type", evt.Type, "version", exec.Version)
	return evt, nil
}

func writeTaskResult(tx ports.Transaction, executionID, nodeID string, output json.RawMessage) error {
	return tx.Put(domain.TaskResultKey(executionID, nodeID), output, 1)
}

// Events returns the full ordered event log for an execution. Keys are
// zero-padded by sequence number (domain.EventKey), so the storage port's
// natural lexical iteration order is already the log's causal order.
func (m *Manager) Events(executionID string) ([]domain.Event, error) {
	entries, err := m.store.ListByPrefix(domain.EventPrefix(executionID))
	if err != nil {
		return nil, domain.NewStorageError("list event log", err)
	}

	events := make([]domain.Event, 0, len(entries))
	for _, entry := range entries {
		var evt domain.Event
		if err := xjson.Unmarshal(entry.Value, &evt); err != nil {
			return nil, domain.NewStorageError("unmarshal event", err)
		}
		events = append(events, evt)
	}
	return events, nil
}

// CurrentProjection loads the execution's latest persisted projection, the
// record maintained at domain.ExecutionKey and overwritten (under
// optimistic version control) by every Append call.
func (m *Manager) CurrentProjection(executionID string) (*domain.Execution, error) {
	raw, _, exists, err := m.store.Get(domain.ExecutionKey(executionID))
	if err != nil {
		return nil, domain.NewStorageError("get execution projection", err)
	}
	if !exists {
		return nil, domain.NewStorageError("execution not found", domain.ErrExecutionNotFound)
	}

	var exec domain.Execution
	if err := xjson.Unmarshal(raw, &exec); err != nil {
		return nil, domain.NewStorageError("unmarshal execution projection", err)
	}
	return &exec, nil
}

// SnapshotAt loads a specific, immutable version of an execution's
// snapshot. Snapshots are write-once: no code path in this module ever
// overwrites a domain.SnapshotKey entry.
func (m *Manager) SnapshotAt(executionID string, version int64) (*domain.Execution, error) {
	raw, _, exists, err := m.store.Get(domain.SnapshotKey(executionID, version))
	if err != nil {
		return nil, domain.NewStorageError("get snapshot", err)
	}
	if !exists {
		return nil, domain.NewStorageError("snapshot not found", domain.ErrKeyNotFound)
	}

	var exec domain.Execution
	if err := xjson.Unmarshal(raw, &exec); err != nil {
		return nil, domain.NewStorageError("unmarshal snapshot", err)
	}
	return &exec, nil
}

// taskResult loads the persisted output bytes for one node's successful
// completion. It satisfies the outputResolver signature Replay uses to turn
// an event's OutputRef into the real payload during a storage-backed replay.
func (m *Manager) taskResult(executionID, nodeID string) (json.RawMessage, error) {
	raw, _, exists, err := m.store.Get(domain.TaskResultKey(executionID, nodeID))
	if err != nil {
		return nil, domain.NewStorageError("get task result", err)
	}
	if !exists {
		return nil, domain.NewStorageError("task result not found", domain.ErrKeyNotFound)
	}
	return json.RawMessage(raw), nil
}

// Replay reconstructs the execution's projection by re-reading its full
// event log and folding it with the outputs it actually produced, resolved
// from the TaskResultKey records Append wrote alongside each event. Unlike
// the package-level Replay function, this never substitutes a null
// placeholder for a completed node's output.
func (m *Manager) Replay(flowID, flowHash, executionID string) (*domain.Execution, error) {
	events, err := m.Events(executionID)
	if err != nil {
		return nil, err
	}
	return replayWithResolver(flowID, flowHash, events, func(nodeID string) json.RawMessage {
		output, err := m.taskResult(executionID, nodeID)
		if err != nil {
			return json.RawMessage(`null`)
		}
		return output
	}), nil
}
