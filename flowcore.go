// Package flowcore is a durable workflow orchestration engine: a fluent
// composition API for building a directed graph of tasks, a scheduler that
// drives that graph to completion while honoring ordering, branching,
// parallelism, and iteration, and an event log and snapshot manager that
// make pausing and resuming an execution across a process restart safe.
//
// A workflow is authored with Builder, one Task at a time:
//
//	square := &flowcore.Task{
//	    ID:           "square",
//	    InputSchema:  flowcore.AnySchema,
//	    OutputSchema: flowcore.AnySchema,
//	    Execute: func(ctx context.Context, tc *flowcore.TaskContext, input any) (any, error) {
//	        n := input.(float64)
//	        return n * n, nil
//	    },
//	}
//	plan, err := flowcore.NewFlow("square-flow", flowcore.AnySchema).
//	    Then(square).
//	    Build(nil, flowcore.AnySchema)
//
// A compiled Plan is registered with an Engine, which owns the storage,
// leasing, retry, circuit-breaker, and event-log machinery that drives
// executions and exposes the control-plane operations a host would put
// behind an HTTP API (registration, start, pause, resume, delete, describe,
// list — no HTTP server ships in this module):
//
//	engine := flowcore.NewMemoryEngine()
//	engine.Start(context.Background())
//	defer engine.Stop()
//
//	if err := engine.RegisterFlow(plan); err != nil { ... }
//	executionID, err := engine.StartExecution(ctx, "square-flow", 7, nil)
package flowcore

import (
	"encoding/json"
	"io"

	"github.com/eleven-am/flowcore/internal/domain"
)

// Task is an executable unit identified by a stable ID, carrying declared
// input/output schemas, an execute capability, and an optional compensation
// capability invoked in reverse completion order when a sibling node fails
// terminally.
type Task = domain.Task

// TaskContext is passed to every Task's Execute/Compensate call. It embeds
// context.Context for cooperative cancellation and layers read access to
// prior node outputs and shared execution variables plus a guarded write
// accessor for variables.
type TaskContext = domain.TaskContext

// Schema is the engine's erased representation of a task's input or output
// type, validated at runtime by a Schema Port rather than checked through
// reflection.
type Schema = domain.Schema

// AnySchema accepts any payload and is compatible with every other schema.
var AnySchema = domain.AnySchema

// NewSchema constructs a named schema carrying an optional OpenAPI-style
// JSON Schema document for runtime validation.
func NewSchema(name string, doc json.RawMessage) *Schema {
	return domain.NewSchema(name, doc)
}

// Plan is the immutable, compiled representation of a workflow's graph,
// produced by Builder.Build.
type Plan = domain.Plan

// Execution is the runtime record of one live or terminated run of a Plan:
// its status, cursor, completed/failed node history, and outputs.
type Execution = domain.Execution

// ExecutionStatus is the closed set of states an Execution can occupy.
type ExecutionStatus = domain.ExecutionStatus

const (
	StatusPending      = domain.StatusPending
	StatusRunning      = domain.StatusRunning
	StatusPaused       = domain.StatusPaused
	StatusCompleted    = domain.StatusCompleted
	StatusFailed       = domain.StatusFailed
	StatusCompensating = domain.StatusCompensating
)

// RetryPolicy is the declarative retry configuration attached to a Task or
// inherited from the Engine's default.
type RetryPolicy = domain.RetryPolicy

const (
	RetryStrategyFixed       = domain.RetryStrategyFixed
	RetryStrategyLinear      = domain.RetryStrategyLinear
	RetryStrategyExponential = domain.RetryStrategyExponential

	JitterNone = domain.JitterNone
	JitterFull = domain.JitterFull
)

// DefaultRetryPolicy is the fallback applied to a Task that declares no
// retry policy of its own: a single attempt, no retry.
func DefaultRetryPolicy() *RetryPolicy {
	return domain.DefaultRetryPolicy()
}

// CircuitBreakerConfig is the declarative, per-task breaker configuration.
type CircuitBreakerConfig = domain.CircuitBreakerConfig

// DefaultCircuitBreakerConfig disables short-circuiting: a Task that
// declares no breaker configuration of its own never trips one.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return domain.DefaultCircuitBreakerConfig()
}

// EngineConfig configures an Engine's scheduling behavior: worker
// concurrency, per-attempt timeouts, and lease timing.
type EngineConfig = domain.EngineConfig

// DefaultEngineConfig returns the engine's zero-value-hostile defaults.
func DefaultEngineConfig() *EngineConfig {
	return domain.DefaultEngineConfig()
}

// LoadEngineConfig reads a YAML document into an EngineConfig, applying
// DefaultEngineConfig for any field left at its zero value.
func LoadEngineConfig(r io.Reader) (*EngineConfig, error) {
	return domain.LoadEngineConfig(r)
}

// ErrorKind is the closed set of failure categories the engine surfaces.
type ErrorKind = domain.ErrorKind

const (
	ErrorKindValidation                 = domain.ErrorKindValidation
	ErrorKindTask                       = domain.ErrorKindTask
	ErrorKindTimeout                    = domain.ErrorKindTimeout
	ErrorKindCancelled                  = domain.ErrorKindCancelled
	ErrorKindCircuitOpen                = domain.ErrorKindCircuitOpen
	ErrorKindCompile                    = domain.ErrorKindCompile
	ErrorKindCompensation               = domain.ErrorKindCompensation
	ErrorKindStorage                    = domain.ErrorKindStorage
	ErrorKindLeaseLost                  = domain.ErrorKindLeaseLost
	ErrorKindConcurrentVariableConflict = domain.ErrorKindConcurrentVariableConflict
)

// EngineError is the single error carrier surfaced by every operation in
// this module. KindOf extracts it from any error returned by the engine.
type EngineError = domain.EngineError

// KindOf extracts the ErrorKind carried by err, if any, for a control
// plane's status-code mapping (§7).
func KindOf(err error) (ErrorKind, bool) {
	return domain.KindOf(err)
}

var (
	IsValidationError            = domain.IsValidationError
	IsTaskError                  = domain.IsTaskError
	IsTimeout                    = domain.IsTimeout
	IsCancelled                  = domain.IsCancelled
	IsCircuitOpen                = domain.IsCircuitOpen
	IsCompileError               = domain.IsCompileError
	IsCompensationError          = domain.IsCompensationError
	IsStorageError               = domain.IsStorageError
	IsLeaseLost                  = domain.IsLeaseLost
	IsConcurrentVariableConflict = domain.IsConcurrentVariableConflict
	IsNotFoundError              = domain.IsNotFoundError
)

// ErrExecutionNotFound is returned by Engine operations addressing an
// execution id this Engine's storage has no record of.
var ErrExecutionNotFound = domain.ErrExecutionNotFound
