package domain

import "time"

// EventType is the closed set of state transitions the event log can
// record (§4.6).
type EventType string

const (
	EventExecutionStarted  EventType = "ExecutionStarted"
	EventNodeStarted       EventType = "NodeStarted"
	EventNodeSucceeded     EventType = "NodeSucceeded"
	EventNodeFailed        EventType = "NodeFailed"
	EventRetryScheduled    EventType = "RetryScheduled"
	EventPaused            EventType = "Paused"
	EventResumed           EventType = "Resumed"
	EventCompensationStart EventType = "CompensationStarted"
	EventCompensated       EventType = "Compensated"
	EventExecutionComplete EventType = "ExecutionCompleted"
	EventExecutionFailed   EventType = "ExecutionFailed"
)

// Event is the single wire shape for every entry in an execution's event
// log. Every event carries (execution_id, seq, wallclock); the remaining
// fields are populated according to Type and left zero-valued otherwise, in
// the teacher's style of one flat record per closed event set rather than a
// Go interface per event (keeps (de)serialization through internal/xjson
// trivial and the log format stable across versions).
type Event struct {
	ExecutionID string    `json:"execution_id"`
	Seq         int64     `json:"seq"`
	Type        EventType `json:"type"`
	Wallclock   time.Time `json:"wallclock"`

	NodeID      string    `json:"node_id,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	OutputRef   string    `json:"output_ref,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	NextAttempt int       `json:"next_attempt,omitempty"`
	DelayMS     int64     `json:"delay_ms,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Owner       string    `json:"owner,omitempty"`
}

func NewExecutionStartedEvent(executionID string, seq int64) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventExecutionStarted, Wallclock: time.Now().UTC()}
}

func NewNodeStartedEvent(executionID string, seq int64, nodeID string, attempt int) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventNodeStarted, Wallclock: time.Now().UTC(), NodeID: nodeID, Attempt: attempt}
}

func NewNodeSucceededEvent(executionID string, seq int64, nodeID string, attempt int, outputRef string) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventNodeSucceeded, Wallclock: time.Now().UTC(), NodeID: nodeID, Attempt: attempt, OutputRef: outputRef}
}

func NewNodeFailedEvent(executionID string, seq int64, nodeID string, attempt int, kind ErrorKind, detail string) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventNodeFailed, Wallclock: time.Now().UTC(), NodeID: nodeID, Attempt: attempt, ErrorKind: kind, ErrorDetail: detail}
}

func NewRetryScheduledEvent(executionID string, seq int64, nodeID string, nextAttempt int, delay time.Duration) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventRetryScheduled, Wallclock: time.Now().UTC(), NodeID: nodeID, NextAttempt: nextAttempt, DelayMS: delay.Milliseconds()}
}

func NewPausedEvent(executionID string, seq int64, reason string) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventPaused, Wallclock: time.Now().UTC(), Reason: reason}
}

func NewResumedEvent(executionID string, seq int64, owner string) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventResumed, Wallclock: time.Now().UTC(), Owner: owner}
}

func NewCompensationStartedEvent(executionID string, seq int64) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventCompensationStart, Wallclock: time.Now().UTC()}
}

func NewCompensatedEvent(executionID string, seq int64, nodeID string) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventCompensated, Wallclock: time.Now().UTC(), NodeID: nodeID}
}

func NewExecutionCompletedEvent(executionID string, seq int64, outputRef string) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventExecutionComplete, Wallclock: time.Now().UTC(), OutputRef: outputRef}
}

func NewExecutionFailedEvent(executionID string, seq int64, kind ErrorKind) Event {
	return Event{ExecutionID: executionID, Seq: seq, Type: EventExecutionFailed, Wallclock: time.Now().UTC(), ErrorKind: kind}
}
