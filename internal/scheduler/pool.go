package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eleven-am/flowcore/internal/domain"
)

// Pool drives many Executions concurrently, one Scheduler per execution,
// bounded by EngineConfig.WorkerCount — the "across executions, the engine
// may drive many in parallel" requirement, mirroring the teacher's
// EngineConfig.WorkerCount field.
type Pool struct {
	deps   *Deps
	group  *errgroup.Group
	logger *slog.Logger

	// live tracks the Scheduler for every execution currently in flight on
	// this Pool, so a host's pause(execution_id) control-plane call has
	// something to reach: Submit never returns the Scheduler it creates, and
	// without this registry a pause request would have no way to signal the
	// one goroutine actually running that execution.
	liveMu sync.Mutex
	live   map[string]*Scheduler
}

// NewPool constructs a Pool bounded by deps.Config.WorkerCount (or the
// engine default if unset/non-positive).
func NewPool(ctx context.Context, deps *Deps) (*Pool, context.Context) {
	resolved := deps.resolve()
	group, groupCtx := errgroup.WithContext(ctx)
	limit := resolved.Config.WorkerCount
	if limit <= 0 {
		limit = domain.DefaultEngineConfig().WorkerCount
	}
	group.SetLimit(limit)
	return &Pool{
		deps:   resolved,
		group:  group,
		logger: resolved.Logger.With("component", "scheduler-pool"),
		live:   make(map[string]*Scheduler),
	}, groupCtx
}

// Submit runs one execution against plan on a pool worker, non-blocking
// unless every worker slot is currently occupied. Errors are logged, not
// returned, since a pool caller submits many independent executions and one
// execution's terminal failure must never abort its siblings.
func (p *Pool) Submit(ctx context.Context, plan *domain.Plan, exec *domain.Execution) {
	p.group.Go(func() error {
		sched := New(p.deps, plan, exec)

		p.liveMu.Lock()
		p.live[exec.ExecutionID] = sched
		p.liveMu.Unlock()
		defer func() {
			p.liveMu.Lock()
			delete(p.live, exec.ExecutionID)
			p.liveMu.Unlock()
		}()

		if err := sched.Run(ctx); err != nil {
			p.logger.Error("execution run failed", "execution_id", exec.ExecutionID, "flow_id", exec.FlowID, "error", err)
		}
		return nil
	})
}

// Pause requests that the Scheduler currently running executionID on this
// Pool stop at its next suspension point. Reports false if this Pool has no
// live Scheduler for that execution (already settled, or owned by a
// different process) — the caller falls back to a storage-level resume
// later, since resume always re-hydrates from the latest persisted
// snapshot regardless of which process paused it.
func (p *Pool) Pause(executionID string) bool {
	p.liveMu.Lock()
	sched, ok := p.live[executionID]
	p.liveMu.Unlock()
	if !ok {
		return false
	}
	sched.Pause()
	return true
}

// PauseAll requests that every execution currently live on this Pool stop
// at its next suspension point, the way a single Pause does for one
// execution. Used by a graceful shutdown so in-flight executions end up
// resumable (StatusPaused) rather than driven through compensation to a
// terminal StatusFailed, which is what cancelling their context outright
// would do.
func (p *Pool) PauseAll() {
	p.liveMu.Lock()
	scheds := make([]*Scheduler, 0, len(p.live))
	for _, sched := range p.live {
		scheds = append(scheds, sched)
	}
	p.liveMu.Unlock()

	for _, sched := range scheds {
		sched.Pause()
	}
}

// Wait blocks until every submitted execution has settled.
func (p *Pool) Wait() error {
	return p.group.Wait()
}
