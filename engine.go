package flowcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/eleven-am/flowcore/internal/adapters/schema"
	"github.com/eleven-am/flowcore/internal/adapters/storage"
	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/eventlog"
	"github.com/eleven-am/flowcore/internal/ports"
	"github.com/eleven-am/flowcore/internal/scheduler"
	"github.com/eleven-am/flowcore/internal/xjson"
)

// Option configures an Engine at construction time.
type Option func(*engineOptions)

type engineOptions struct {
	logger *slog.Logger
	config *EngineConfig
	lease  ports.LeaseManagerPort
	schema ports.SchemaPort
}

// WithLogger sets the structured logger every engine component derives its
// own child logger from. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithConfig sets worker concurrency, timeouts, and lease timing. Defaults
// to DefaultEngineConfig().
func WithConfig(config *EngineConfig) Option {
	return func(o *engineOptions) { o.config = config }
}

// WithLeaseManager overrides the exclusive-ownership lease implementation.
// Defaults to a storage-backed lease manager over the same Storage Port the
// Engine was constructed with.
func WithLeaseManager(lease ports.LeaseManagerPort) Option {
	return func(o *engineOptions) { o.lease = lease }
}

// WithSchemaValidator overrides the Schema Port used to validate task
// inputs before invocation (C1). Defaults to an OpenAPI-schema validator.
func WithSchemaValidator(validator ports.SchemaPort) Option {
	return func(o *engineOptions) { o.schema = validator }
}

func resolveOptions(opts []Option) *engineOptions {
	resolved := &engineOptions{}
	for _, opt := range opts {
		opt(resolved)
	}
	if resolved.logger == nil {
		resolved.logger = slog.Default()
	}
	return resolved
}

// ExecutionSummary is the read-only projection returned by
// Engine.DescribeExecution and Engine.ListExecutions (§6).
type ExecutionSummary struct {
	ExecutionID string
	FlowID      string
	Status      ExecutionStatus
	Cursor      string
	Completed   []CompletedNode
	Failed      []FailedNode
	Outputs     map[string]json.RawMessage
}

// CompletedNode records one node's successful completion within an
// ExecutionSummary.
type CompletedNode = domain.CompletedNode

// FailedNode records one node's terminal failure within an
// ExecutionSummary.
type FailedNode = domain.FailedNode

// ExecutionFilter narrows Engine.ListExecutions to executions matching
// FlowID (if non-empty) and Status (if non-empty).
type ExecutionFilter struct {
	FlowID string
	Status ExecutionStatus
}

// Page requests a slice of a ListExecutions result: Offset executions are
// skipped and at most Limit are returned. A non-positive Limit means
// unbounded.
type Page struct {
	Offset int
	Limit  int
}

// Engine is the control plane (§6): it registers compiled flows, starts,
// pauses, resumes, describes and deletes their executions, and owns the
// storage, leasing, retry, circuit-breaker, and event-log machinery every
// execution runs against. It is the single entry point a host embeds; no
// HTTP server ships in this module.
type Engine struct {
	deps   *scheduler.Deps
	logger *slog.Logger

	mu    sync.RWMutex
	flows map[string]*domain.Plan

	pool    *scheduler.Pool
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
}

// New constructs an Engine backed by store. Prefer NewMemoryEngine or
// NewBadgerEngine unless a custom Storage Port implementation is required.
func New(store ports.StoragePort, opts ...Option) *Engine {
	resolved := resolveOptions(opts)
	config := resolved.config
	if config == nil {
		config = domain.DefaultEngineConfig()
	}
	lease := resolved.lease
	if lease == nil {
		lease = storage.NewLeaseManager(store, resolved.logger)
	}
	validator := resolved.schema
	if validator == nil {
		validator = schema.NewOpenAPIValidator(resolved.logger)
	}

	return &Engine{
		deps: &scheduler.Deps{
			Store:  store,
			Events: eventlog.NewManager(store, resolved.logger),
			Lease:  lease,
			Schema: validator,
			Config: config,
			Logger: resolved.logger,
		},
		logger: resolved.logger.With("component", "flowcore-engine"),
		flows:  make(map[string]*domain.Plan),
	}
}

// Start puts the Engine in a state where it can accept StartExecution
// calls, launching the worker pool that drives submitted executions. ctx
// bounds the lifetime of every execution the pool runs; cancel it (or call
// Stop) to wind everything down.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	pool, runCtx := scheduler.NewPool(ctx, e.deps)
	poolCtx, cancel := context.WithCancel(runCtx)
	e.pool = pool
	e.runCtx = poolCtx
	e.cancel = cancel
	e.running = true
}

// Stop asks every in-flight execution to pause at its next suspension
// point, waits for the worker pool to drain, and closes the underlying
// Storage Port. Every execution that was running when Stop was called ends
// up StatusPaused, resumable with Resume on this or any other Engine over
// the same store — Stop deliberately does not cancel executions' contexts
// outright, since that would drive them through compensation to a terminal
// StatusFailed instead.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	pool := e.pool
	cancel := e.cancel
	e.running = false
	e.mu.Unlock()

	pool.PauseAll()
	if err := pool.Wait(); err != nil {
		e.logger.Warn("worker pool drain returned error", "error", err)
	}
	cancel()
	return e.deps.Store.Close()
}

// RegisterFlow makes plan available for StartExecution under plan.FlowID,
// replacing any prior registration for that flow id.
func (e *Engine) RegisterFlow(plan *Plan) error {
	if plan == nil {
		return domain.NewCompileError("NilPlan", fmt.Errorf("plan is nil"))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flows[plan.FlowID] = plan
	return nil
}

// ListFlows returns the flow ids currently registered, sorted for stable
// iteration.
func (e *Engine) ListFlows() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.flows))
	for id := range e.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flow returns the registered plan for flowID, or nil if none is
// registered.
func (e *Engine) Flow(flowID string) *Plan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flows[flowID]
}

// StartExecution validates input against flowID's registered input schema,
// creates a new pending Execution, and submits it to the worker pool,
// returning the new execution's id immediately without waiting for it to
// run.
func (e *Engine) StartExecution(ctx context.Context, flowID string, input any, metadata map[string]string) (string, error) {
	e.mu.RLock()
	running := e.running
	pool := e.pool
	plan := e.flows[flowID]
	e.mu.RUnlock()

	if !running {
		return "", fmt.Errorf("engine not started: call Start before StartExecution")
	}
	if plan == nil {
		return "", domain.NewCompileError("UnknownFlow", fmt.Errorf("no flow registered with id %q", flowID))
	}

	payload, err := xjson.Marshal(input)
	if err != nil {
		return "", domain.NewValidationError("marshal execution input", err)
	}
	if plan.InputSchema != nil && len(plan.InputSchema.Doc) > 0 {
		validated, err := e.deps.Schema.Validate(plan.InputSchema.Doc, payload)
		if err != nil {
			return "", domain.NewValidationError("execution_input_schema", err)
		}
		payload = validated
	}

	exec := domain.NewExecution(flowID, plan.FlowHash, payload, metadata)

	// The scheduler itself appends the ExecutionStarted event and writes the
	// first persisted projection the moment it picks exec up (scheduler.Run),
	// so describe_execution can return not-found for the brief window between
	// this call returning and a worker slot becoming free.
	pool.Submit(e.runCtx, plan, exec)
	return exec.ExecutionID, nil
}

// Pause requests that executionID stop at its next suspension point if this
// Engine's pool currently has it in flight. Reports false when this Engine
// has no live scheduler for it (already settled, running elsewhere, or
// never started) — Resume always works regardless, since it re-hydrates
// from the latest persisted snapshot.
func (e *Engine) Pause(executionID string) bool {
	e.mu.RLock()
	pool := e.pool
	e.mu.RUnlock()
	if pool == nil {
		return false
	}
	return pool.Pause(executionID)
}

// Resume re-hydrates executionID's latest persisted projection and
// resubmits it to the worker pool. Returns ErrExecutionNotFound if no
// projection exists, and domain.ErrExecutionCompleted if it has already
// reached a terminal status.
func (e *Engine) Resume(executionID string) error {
	e.mu.RLock()
	running := e.running
	pool := e.pool
	e.mu.RUnlock()
	if !running {
		return fmt.Errorf("engine not started: call Start before Resume")
	}

	exec, err := e.deps.Events.CurrentProjection(executionID)
	if err != nil {
		return err
	}
	if exec.IsTerminal() {
		return domain.ErrExecutionCompleted
	}

	e.mu.RLock()
	plan := e.flows[exec.FlowID]
	e.mu.RUnlock()
	if plan == nil {
		return domain.NewCompileError("UnknownFlow", fmt.Errorf("no flow registered with id %q", exec.FlowID))
	}

	pool.Submit(e.runCtx, plan, exec)
	return nil
}

// Delete purges every stored record (event log, snapshots, task results,
// current projection) for executionID. It does not stop a currently running
// execution; Pause it first.
func (e *Engine) Delete(executionID string) error {
	for _, prefix := range []string{
		domain.EventPrefix(executionID),
		domain.SnapshotPrefix(executionID),
		domain.TaskResultPrefix(executionID),
	} {
		if _, err := e.deps.Store.DeleteByPrefix(prefix); err != nil {
			return domain.NewStorageError("delete execution records", err)
		}
	}
	if err := e.deps.Store.Delete(domain.ExecutionKey(executionID)); err != nil {
		return domain.NewStorageError("delete execution projection", err)
	}
	return nil
}

// DescribeExecution returns executionID's current projection: status,
// cursor, completed/failed node history, and outputs (§6).
func (e *Engine) DescribeExecution(executionID string) (*ExecutionSummary, error) {
	exec, err := e.deps.Events.CurrentProjection(executionID)
	if err != nil {
		return nil, err
	}
	return summarize(exec), nil
}

// ListExecutions scans every stored execution projection, applies filter,
// and returns page.Limit results starting at page.Offset.
func (e *Engine) ListExecutions(filter ExecutionFilter, page Page) ([]*ExecutionSummary, error) {
	entries, err := e.deps.Store.ListByPrefix(domain.ExecutionPrefix())
	if err != nil {
		return nil, domain.NewStorageError("list executions", err)
	}

	matched := make([]*ExecutionSummary, 0, len(entries))
	for _, entry := range entries {
		var exec domain.Execution
		if err := xjson.Unmarshal(entry.Value, &exec); err != nil {
			return nil, domain.NewStorageError("unmarshal execution projection", err)
		}
		if filter.FlowID != "" && exec.FlowID != filter.FlowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		matched = append(matched, summarize(&exec))
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ExecutionID < matched[j].ExecutionID })

	if page.Offset >= len(matched) {
		return []*ExecutionSummary{}, nil
	}
	matched = matched[page.Offset:]
	if page.Limit > 0 && page.Limit < len(matched) {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

func summarize(exec *domain.Execution) *ExecutionSummary {
	return &ExecutionSummary{
		ExecutionID: exec.ExecutionID,
		FlowID:      exec.FlowID,
		Status:      exec.Status,
		Cursor:      exec.Cursor,
		Completed:   exec.Completed,
		Failed:      exec.Failed,
		Outputs:     exec.Outputs,
	}
}

// Compensator and Breaker are intentionally left nil in Deps: every
// Scheduler/Pool call routes through Deps.resolve() first, which defaults
// both from the Engine's logger the same way it defaults Schema.
