// Package scheduler implements the Scheduler/Executor (C6): given a
// compiled Plan and an Execution record, it drives the execution to a
// terminal status, persisting every node transition through the Event Log &
// Snapshot Manager before proceeding, exactly as the distilled spec's
// crash-safety requirement demands.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eleven-am/flowcore/internal/adapters/schema"
	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/eventlog"
	"github.com/eleven-am/flowcore/internal/policy"
	"github.com/eleven-am/flowcore/internal/ports"
)

// Deps bundles every external capability a Scheduler needs, mirroring the
// teacher's Engine struct's pattern of holding one field per adapter rather
// than threading each dependency through every method call individually.
type Deps struct {
	Store        ports.StoragePort
	Events       *eventlog.Manager
	Lease        ports.LeaseManagerPort
	Breaker      *policy.CircuitBreaker
	Compensator  *policy.Compensator
	Schema       ports.SchemaPort
	Config       *domain.EngineConfig
	Logger       *slog.Logger
}

func (d *Deps) resolve() *Deps {
	resolved := *d
	if resolved.Config == nil {
		resolved.Config = domain.DefaultEngineConfig()
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}
	if resolved.Breaker == nil {
		resolved.Breaker = policy.NewCircuitBreaker(resolved.Logger)
	}
	if resolved.Compensator == nil {
		resolved.Compensator = policy.NewCompensator(resolved.Logger)
	}
	if resolved.Schema == nil {
		resolved.Schema = schema.NewOpenAPIValidator(resolved.Logger)
	}
	return &resolved
}

// Scheduler owns exactly one (Plan, Execution) pair for the duration of one
// Run call, matching the distilled spec's ownership rule: an Execution is
// owned by exactly one Scheduler instance at any time, enforced by a
// storage-level lease.
type Scheduler struct {
	deps  *Deps
	plan  *domain.Plan
	exec  *domain.Execution
	owner string

	// mu serializes every read/mutation of exec and every call into
	// deps.Events.Append. Parallel and ForEach nodes run their arms on
	// separate goroutines that all share this one exec, so without this lock
	// concurrent arms would race on exec.Outputs/Variables/Completed and on
	// the event log's sequence-number counter.
	mu sync.Mutex

	// pauseRequested is closed by Pause to interrupt an in-progress Run
	// without touching the caller's own ctx, so Run can tell "the caller's
	// context died" (fail and compensate) apart from "someone asked to
	// pause" (persist Paused and return no error).
	pauseRequested chan struct{}
	pauseOnce      sync.Once

	// output holds the root sequence's final return value once Run
	// completes successfully. runNested reads this off a child Scheduler
	// instead of reconstructing a value from exec.Completed, since only
	// Step nodes ever record an output under their own node id there — a
	// child flow ending in a Branch/Parallel/While/ForEach would otherwise
	// have its composite result silently replaced by one inner arm's Step
	// output.
	output json.RawMessage

	logger *slog.Logger
}

// appendEvent appends evt under mu, so it never interleaves with a
// concurrent arm's own append or exec mutation.
func (s *Scheduler) appendEvent(ctx context.Context, evt domain.Event) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps.Events.Append(ctx, s.exec, evt)
}

// New constructs a Scheduler for one advance-loop run of exec against plan.
// plan.FlowHash must match exec.FlowHash or Run refuses to start (§9 design
// note on flow-definition drift across a resume).
func New(deps *Deps, plan *domain.Plan, exec *domain.Execution) *Scheduler {
	resolved := deps.resolve()
	return &Scheduler{
		deps:           resolved,
		plan:           plan,
		exec:           exec,
		owner:          uuid.NewString(),
		pauseRequested: make(chan struct{}),
		logger:         resolved.Logger.With("component", "scheduler", "execution_id", exec.ExecutionID, "flow_id", exec.FlowID),
	}
}

// Run acquires the execution's lease, enters the advance loop, and returns
// once the execution reaches a terminal status, is paused, or the lease is
// lost. A returned error of kind ErrorKindLeaseLost means the caller no
// longer owns the execution; every other terminal condition is reflected in
// exec.Status rather than a returned error.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.exec.FlowHash != "" && s.plan.FlowHash != "" && s.exec.FlowHash != s.plan.FlowHash {
		return domain.ErrFlowHashMismatch
	}

	record, acquired, err := s.deps.Lease.TryAcquire(domain.LeaseKey(s.exec.ExecutionID), s.owner, s.deps.Config.LeaseTTL, map[string]string{"flow_id": s.exec.FlowID})
	if err != nil {
		return domain.NewStorageError("acquire execution lease", err)
	}
	if !acquired {
		s.logger.Warn("execution lease held by another owner", "current_owner", record.Owner)
		return domain.NewLeaseLostError(s.exec.ExecutionID)
	}
	defer func() {
		if releaseErr := s.deps.Lease.Release(domain.LeaseKey(s.exec.ExecutionID), s.owner); releaseErr != nil {
			s.logger.Warn("failed to release execution lease", "error", releaseErr)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	leaseLost := make(chan struct{})
	renewDone := make(chan struct{})
	go s.renewLease(runCtx, cancel, leaseLost, renewDone)
	defer func() {
		cancel()
		<-renewDone
	}()

	pauseDone := make(chan struct{})
	go func() {
		defer close(pauseDone)
		select {
		case <-s.pauseRequested:
			cancel()
		case <-runCtx.Done():
		}
	}()
	defer func() {
		cancel()
		<-pauseDone
	}()

	if s.exec.Status == domain.StatusPending {
		s.exec.Status = domain.StatusRunning
		if _, err := s.appendEvent(runCtx, domain.NewExecutionStartedEvent(s.exec.ExecutionID, 0)); err != nil {
			return err
		}
	}
	if s.exec.Status == domain.StatusPaused {
		s.exec.Status = domain.StatusRunning
		if _, err := s.appendEvent(runCtx, domain.NewResumedEvent(s.exec.ExecutionID, 0, s.owner)); err != nil {
			return err
		}
	}

	input := s.exec.Outputs[domain.RootInputKey]
	output, runErr := s.runSequence(runCtx, s.plan, s.plan.RootNodes(), input, nil)
	if runErr == nil {
		s.output = output
	}

	select {
	case <-leaseLost:
		return domain.NewLeaseLostError(s.exec.ExecutionID)
	default:
	}

	if runErr != nil {
		if domain.IsCancelled(runErr) && ctx.Err() == nil {
			// Cancellation originated from a pause request (runCtx, not the
			// caller's ctx), not from the caller. Persist paused, not failed.
			s.exec.Status = domain.StatusPaused
			_, appendErr := s.appendEvent(context.WithoutCancel(ctx), domain.NewPausedEvent(s.exec.ExecutionID, 0, "cancelled"))
			return appendErr
		}

		s.logger.Info("execution terminally failed, running compensation", "error", runErr)
		s.exec.Status = domain.StatusCompensating
		if _, err := s.appendEvent(context.WithoutCancel(ctx), domain.NewCompensationStartedEvent(s.exec.ExecutionID, 0)); err != nil {
			return err
		}
		for _, result := range s.deps.Compensator.Run(context.WithoutCancel(ctx), s.plan, s.exec) {
			if result.Err != nil {
				s.logger.Error("compensation failed", "node_id", result.NodeID, "error", result.Err)
				if _, err := s.appendEvent(context.WithoutCancel(ctx), domain.NewNodeFailedEvent(s.exec.ExecutionID, 0, result.NodeID, 0, domain.ErrorKindCompensation, result.Err.Error())); err != nil {
					return err
				}
				continue
			}
			if _, err := s.appendEvent(context.WithoutCancel(ctx), domain.NewCompensatedEvent(s.exec.ExecutionID, 0, result.NodeID)); err != nil {
				return err
			}
		}
		s.exec.Status = domain.StatusFailed
		kind, _ := domain.KindOf(runErr)
		_, err := s.appendEvent(context.WithoutCancel(ctx), domain.NewExecutionFailedEvent(s.exec.ExecutionID, 0, kind))
		return err
	}

	s.exec.Status = domain.StatusCompleted
	_, err = s.appendEvent(context.WithoutCancel(ctx), domain.NewExecutionCompletedEvent(s.exec.ExecutionID, 0, s.exec.Cursor))
	return err
}

// renewLease periodically extends the execution's lease. If the lease is
// found to be owned by someone else (or gone entirely), it cancels runCtx
// immediately, so a run in progress stops as soon as exclusive ownership is
// lost rather than continuing to completion unsupervised.
func (s *Scheduler) renewLease(ctx context.Context, cancel context.CancelFunc, lost chan<- struct{}, done chan<- struct{}) {
	defer close(done)

	interval := s.deps.Config.LeaseRenewInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.deps.Lease.Renew(domain.LeaseKey(s.exec.ExecutionID), s.owner, s.deps.Config.LeaseTTL); err != nil {
				if errors.Is(err, domain.ErrLeaseOwnedByOther) || errors.Is(err, domain.ErrLeaseNotFound) {
					s.logger.Warn("lost execution lease during renewal", "error", err)
					close(lost)
					cancel()
					return
				}
				s.logger.Warn("lease renewal failed, will retry", "error", err)
			}
		}
	}
}

// Pause requests that Run stop at the next point it checks its context,
// leaving the execution's in-flight nodes to be re-entered from READY on
// the next Run. Safe to call from a goroutine other than the one running
// Run, and safe to call more than once. A Pause requested after Run has
// already returned has no effect.
func (s *Scheduler) Pause() {
	s.pauseOnce.Do(func() { close(s.pauseRequested) })
}
