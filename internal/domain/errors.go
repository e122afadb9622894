package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories the engine can surface.
// It is string-backed so that a serialized Execution snapshot or event
// remains human-readable without a side lookup table.
type ErrorKind string

const (
	ErrorKindValidation                 ErrorKind = "ValidationError"
	ErrorKindTask                       ErrorKind = "TaskError"
	ErrorKindTimeout                    ErrorKind = "Timeout"
	ErrorKindCancelled                  ErrorKind = "Cancelled"
	ErrorKindCircuitOpen                ErrorKind = "CircuitOpen"
	ErrorKindCompile                    ErrorKind = "CompileError"
	ErrorKindCompensation               ErrorKind = "CompensationError"
	ErrorKindStorage                    ErrorKind = "StorageError"
	ErrorKindLeaseLost                  ErrorKind = "LeaseLost"
	ErrorKindConcurrentVariableConflict ErrorKind = "ConcurrentVariableConflict"
)

// EngineError is the single error carrier surfaced by every package in this
// module. NodeID and Attempt are populated when the failure can be traced to
// a specific node execution attempt; Detail carries an offending sub-reason
// such as "NoMatchingBranch" or "TypeMismatch".
type EngineError struct {
	Kind    ErrorKind
	NodeID  string
	Attempt int
	Detail  string
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.NodeID != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.NodeID, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

func NewValidationError(detail string, cause error) *EngineError {
	return &EngineError{Kind: ErrorKindValidation, Detail: detail, Message: "validation: " + detail, Cause: cause}
}

func NewTaskError(nodeID string, attempt int, detail string, cause error) *EngineError {
	return &EngineError{
		Kind:    ErrorKindTask,
		NodeID:  nodeID,
		Attempt: attempt,
		Detail:  detail,
		Message: fmt.Sprintf("task error in node %s: %s", nodeID, detail),
		Cause:   cause,
	}
}

func NewTimeoutError(nodeID string, attempt int) *EngineError {
	return &EngineError{
		Kind:    ErrorKindTimeout,
		NodeID:  nodeID,
		Attempt: attempt,
		Detail:  "deadline_exceeded",
		Message: fmt.Sprintf("task timed out in node %s (attempt %d)", nodeID, attempt),
	}
}

func NewCancelledError(nodeID string) *EngineError {
	return &EngineError{
		Kind:    ErrorKindCancelled,
		NodeID:  nodeID,
		Detail:  "cancelled",
		Message: fmt.Sprintf("node %s cancelled", nodeID),
	}
}

func NewCircuitOpenError(nodeID string) *EngineError {
	return &EngineError{
		Kind:    ErrorKindCircuitOpen,
		NodeID:  nodeID,
		Detail:  "circuit_open",
		Message: fmt.Sprintf("circuit breaker open for node %s", nodeID),
	}
}

func NewCompileError(detail string, cause error) *EngineError {
	return &EngineError{Kind: ErrorKindCompile, Detail: detail, Message: "compile error: " + detail, Cause: cause}
}

func NewCompensationError(nodeID, detail string, cause error) *EngineError {
	return &EngineError{
		Kind:    ErrorKindCompensation,
		NodeID:  nodeID,
		Detail:  detail,
		Message: fmt.Sprintf("compensation failed for node %s: %s", nodeID, detail),
		Cause:   cause,
	}
}

func NewStorageError(detail string, cause error) *EngineError {
	return &EngineError{Kind: ErrorKindStorage, Detail: detail, Message: "storage: " + detail, Cause: cause}
}

func NewLeaseLostError(executionID string) *EngineError {
	return &EngineError{
		Kind:    ErrorKindLeaseLost,
		Detail:  "lease_lost",
		Message: fmt.Sprintf("lease lost for execution %s", executionID),
	}
}

func NewConcurrentVariableConflictError(key string) *EngineError {
	return &EngineError{
		Kind:    ErrorKindConcurrentVariableConflict,
		Detail:  key,
		Message: fmt.Sprintf("concurrent write to variable %q from sibling arms", key),
	}
}

var (
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrExecutionCompleted = errors.New("execution already completed")
	ErrFlowHashMismatch   = errors.New("flow definition changed since execution was started")
	ErrLeaseNotFound      = errors.New("lease not found")
	ErrLeaseOwnedByOther  = errors.New("lease owned by another holder")
	ErrSnapshotImmutable  = errors.New("snapshot already exists and is immutable")
	ErrVersionMismatch    = errors.New("version mismatch")
	ErrKeyNotFound        = errors.New("key not found")
)

func kindOf(err error) (ErrorKind, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}

// KindOf extracts the ErrorKind carried by err, if any. Used by the retry
// policy and control-plane-facing status mapping (§6, §7).
func KindOf(err error) (ErrorKind, bool) {
	return kindOf(err)
}

func IsValidationError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindValidation
}

func IsTaskError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindTask
}

func IsTimeout(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindTimeout
}

func IsCancelled(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindCancelled
}

func IsCircuitOpen(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindCircuitOpen
}

func IsCompileError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindCompile
}

func IsCompensationError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindCompensation
}

func IsStorageError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindStorage
}

func IsLeaseLost(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindLeaseLost
}

func IsConcurrentVariableConflict(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindConcurrentVariableConflict
}

func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrExecutionNotFound) || errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrLeaseNotFound)
}
