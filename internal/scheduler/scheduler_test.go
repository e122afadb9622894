package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/flowcore/internal/adapters/storage"
	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/eventlog"
)

func anySchema() *domain.Schema { return domain.AnySchema }

func newTestDeps() *Deps {
	store := storage.NewMemoryStore(nil)
	return &Deps{
		Store:  store,
		Events: eventlog.NewManager(store, nil),
		Lease:  storage.NewLeaseManager(store, nil),
		Config: domain.DefaultEngineConfig(),
	}
}

func numberField(v any, key string) float64 {
	m := v.(map[string]interface{})
	return m[key].(float64)
}

func stepNode(id string, task *domain.Task) *domain.Node {
	return &domain.Node{ID: id, Kind: domain.NodeKindStep, Step: &domain.StepNode{Task: task}}
}

// TestScheduler_SequentialDoubling reproduces the distilled spec's S1
// scenario: double -> double on {"value":3} completes with a final output
// carrying the doubled-twice result, snapshots recorded at every version.
func TestScheduler_SequentialDoubling(t *testing.T) {
	double := &domain.Task{
		ID: "double", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) {
			return map[string]interface{}{"value": numberField(input, "value") * 2}, nil
		},
	}
	finalize := &domain.Task{
		ID: "finalize", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) {
			return map[string]interface{}{"result": numberField(input, "value") * 2}, nil
		},
	}

	plan := domain.NewPlan("s1-flow", []*domain.Node{stepNode("0", double), stepNode("1", finalize)}, anySchema(), anySchema(), "hash-s1")
	exec := domain.NewExecution("s1-flow", "hash-s1", json.RawMessage(`{"value":3}`), nil)

	deps := newTestDeps()
	require.NoError(t, New(deps, plan, exec).Run(context.Background()))

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.JSONEq(t, `{"result":12}`, string(exec.Outputs["1"]))

	for version := int64(1); version <= 4; version++ {
		_, err := deps.Events.SnapshotAt(exec.ExecutionID, version)
		assert.NoError(t, err, "expected snapshot at version %d", version)
	}
}

// TestScheduler_BranchSelectsLowArm reproduces S2: double -> branch on
// {"value":4} yields an intermediate {"result":8}, which selects the
// tagLow arm since 8 <= 10; the tagHigh arm's node never starts.
func TestScheduler_BranchSelectsLowArm(t *testing.T) {
	double := &domain.Task{
		ID: "double", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) {
			return map[string]interface{}{"result": numberField(input, "value") * 2}, nil
		},
	}
	tagLow := &domain.Task{
		ID: "tagLow", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) {
			m := input.(map[string]interface{})
			m["tag"] = "low"
			return m, nil
		},
	}
	tagHigh := &domain.Task{
		ID: "tagHigh", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) {
			m := input.(map[string]interface{})
			m["tag"] = "high"
			return m, nil
		},
	}

	highPlan := domain.NewPlan("", []*domain.Node{stepNode("1.branch.0.then.0", tagHigh)}, anySchema(), anySchema(), "")
	lowPlan := domain.NewPlan("", []*domain.Node{stepNode("1.branch.1.then.0", tagLow)}, anySchema(), anySchema(), "")

	branchNode := &domain.Node{
		ID:   "1",
		Kind: domain.NodeKindBranch,
		Branch: &domain.BranchNode{
			Arms: []domain.BranchArm{
				{Label: "tagHigh", Predicate: func(v any) bool { return numberField(v, "result") > 10 }, Plan: highPlan},
				{Label: "tagLow", Predicate: func(v any) bool { return numberField(v, "result") <= 10 }, Plan: lowPlan},
			},
		},
	}

	plan := domain.NewPlan("s2-flow", []*domain.Node{stepNode("0", double), branchNode}, anySchema(), anySchema(), "hash-s2")
	exec := domain.NewExecution("s2-flow", "hash-s2", json.RawMessage(`{"value":4}`), nil)

	deps := newTestDeps()
	require.NoError(t, New(deps, plan, exec).Run(context.Background()))

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.JSONEq(t, `{"result":8,"tag":"low"}`, string(exec.Outputs["1.branch.1.then.0"]))
	_, tookHighArm := exec.Outputs["1.branch.0.then.0"]
	assert.False(t, tookHighArm)

	events, err := deps.Events.Events(exec.ExecutionID)
	require.NoError(t, err)
	for _, evt := range events {
		assert.NotEqual(t, "1.branch.0.then.0", evt.NodeID, "no event should reference the unchosen arm")
	}
}

// TestScheduler_ParallelFanInPreservesDeclaredOrder reproduces S3: three
// arms running concurrently join in declared order even though addThree
// (deliberately made the fastest) finishes first.
func TestScheduler_ParallelFanInPreservesDeclaredOrder(t *testing.T) {
	addN := func(id string, n float64, delay time.Duration) *domain.Task {
		return &domain.Task{
			ID: id, InputSchema: anySchema(), OutputSchema: anySchema(),
			Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) {
				time.Sleep(delay)
				return map[string]interface{}{"value": numberField(input, "value") + n}, nil
			},
		}
	}

	armPlan := func(task *domain.Task) *domain.Plan {
		return domain.NewPlan("", []*domain.Node{stepNode(task.ID, task)}, anySchema(), anySchema(), "")
	}

	parallelNode := &domain.Node{
		ID:   "0",
		Kind: domain.NodeKindParallel,
		Parallel: &domain.ParallelNode{
			Arms: []*domain.Plan{
				armPlan(addN("addOne", 1, 30*time.Millisecond)),
				armPlan(addN("addTwo", 2, 15*time.Millisecond)),
				armPlan(addN("addThree", 3, 0)),
			},
		},
	}

	plan := domain.NewPlan("s3-flow", []*domain.Node{parallelNode}, anySchema(), anySchema(), "hash-s3")
	exec := domain.NewExecution("s3-flow", "hash-s3", json.RawMessage(`{"value":10}`), nil)

	deps := newTestDeps()
	require.NoError(t, New(deps, plan, exec).Run(context.Background()))

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.JSONEq(t, `[{"value":11},{"value":12},{"value":13}]`, string(exec.Outputs["0"]))
}

// TestScheduler_RetryThenSuccess reproduces S5: a task scripted to fail
// twice then succeed with max_attempts=3, exponential(100ms,2,5s),
// jitter=none produces exactly 3 NodeStarted events, one NodeSucceeded, and
// RetryScheduled delays of 100ms then 200ms.
func TestScheduler_RetryThenSuccess(t *testing.T) {
	var calls int
	flaky := &domain.Task{
		ID:          "flaky",
		InputSchema: anySchema(), OutputSchema: anySchema(),
		RetryPolicy: &domain.RetryPolicy{
			MaxAttempts: 3,
			Strategy:    domain.RetryStrategyExponential,
			Base:        100 * time.Millisecond,
			Factor:      2,
			Cap:         5 * time.Second,
			Jitter:      domain.JitterNone,
			RetryOn:     domain.DefaultRetryOn,
		},
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient failure")
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}

	plan := domain.NewPlan("s5-flow", []*domain.Node{stepNode("0", flaky)}, anySchema(), anySchema(), "hash-s5")
	exec := domain.NewExecution("s5-flow", "hash-s5", json.RawMessage(`{}`), nil)

	deps := newTestDeps()
	require.NoError(t, New(deps, plan, exec).Run(context.Background()))

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.Equal(t, 3, calls)

	events, err := deps.Events.Events(exec.ExecutionID)
	require.NoError(t, err)

	var started, succeeded int
	var delays []int64
	for _, evt := range events {
		switch evt.Type {
		case domain.EventNodeStarted:
			started++
		case domain.EventNodeSucceeded:
			succeeded++
		case domain.EventRetryScheduled:
			delays = append(delays, evt.DelayMS)
		}
	}
	assert.Equal(t, 3, started)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, []int64{100, 200}, delays)
}

// TestScheduler_CompensatesOnTerminalFailure reproduces S6: ship fails
// terminally, so the engine compensates reserveInventory then chargeCard in
// that order and the execution ends failed.
func TestScheduler_CompensatesOnTerminalFailure(t *testing.T) {
	var order []string

	chargeCard := &domain.Task{
		ID: "chargeCard", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) { return input, nil },
		Compensate: func(_ context.Context, _ *domain.TaskContext, _ any) error {
			order = append(order, "chargeCard")
			return nil
		},
	}
	reserveInventory := &domain.Task{
		ID: "reserveInventory", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) { return input, nil },
		Compensate: func(_ context.Context, _ *domain.TaskContext, _ any) error {
			order = append(order, "reserveInventory")
			return nil
		},
	}
	ship := &domain.Task{
		ID: "ship", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) {
			return nil, errors.New("carrier rejected shipment")
		},
	}

	plan := domain.NewPlan("s6-flow", []*domain.Node{stepNode("0", chargeCard), stepNode("1", reserveInventory), stepNode("2", ship)}, anySchema(), anySchema(), "hash-s6")
	exec := domain.NewExecution("s6-flow", "hash-s6", json.RawMessage(`{}`), nil)

	deps := newTestDeps()
	err := New(deps, plan, exec).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, exec.Status)
	assert.Equal(t, []string{"reserveInventory", "chargeCard"}, order)

	events, err := deps.Events.Events(exec.ExecutionID)
	require.NoError(t, err)
	var compensated []string
	for _, evt := range events {
		if evt.Type == domain.EventCompensated {
			compensated = append(compensated, evt.NodeID)
		}
	}
	assert.Equal(t, []string{"1", "0"}, compensated)
}

// TestScheduler_ForEachPreservesInputOrder covers the ordering half of S4
// (pause/resume is covered by TestScheduler_PauseDuringForEachThenResume): squaring
// [1,2,3,4,5] concurrently still joins in input order.
func TestScheduler_ForEachPreservesInputOrder(t *testing.T) {
	square := &domain.Task{
		ID: "square", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(_ context.Context, _ *domain.TaskContext, input any) (any, error) {
			n := input.(float64)
			return n * n, nil
		},
	}

	forEachNode := &domain.Node{
		ID:   "0",
		Kind: domain.NodeKindForEach,
		ForEach: &domain.ForEachNode{
			Body:        domain.NewPlan("", []*domain.Node{stepNode("square", square)}, anySchema(), anySchema(), ""),
			Concurrency: 3,
		},
	}

	plan := domain.NewPlan("s4-flow", []*domain.Node{forEachNode}, anySchema(), anySchema(), "hash-s4")
	exec := domain.NewExecution("s4-flow", "hash-s4", json.RawMessage(`[1,2,3,4,5]`), nil)

	deps := newTestDeps()
	require.NoError(t, New(deps, plan, exec).Run(context.Background()))

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.JSONEq(t, `[1,4,9,16,25]`, string(exec.Outputs["0"]))
}

// TestScheduler_PauseDuringForEachThenResume covers the pause/resume half
// of S4: pausing mid-ForEach persists status=paused with the elements that
// had already completed intact, and a fresh Scheduler resumes from that
// snapshot to completion without re-running them.
func TestScheduler_PauseDuringForEachThenResume(t *testing.T) {
	var mu sync.Mutex
	var started []float64
	var blockedOnce bool

	square := &domain.Task{
		ID: "square", InputSchema: anySchema(), OutputSchema: anySchema(),
		Execute: func(ctx context.Context, _ *domain.TaskContext, input any) (any, error) {
			n := input.(float64)
			mu.Lock()
			started = append(started, n)
			block := n == 3 && !blockedOnce
			if block {
				blockedOnce = true
			}
			mu.Unlock()
			if block {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return n * n, nil
		},
	}

	forEachNode := &domain.Node{
		ID:   "0",
		Kind: domain.NodeKindForEach,
		ForEach: &domain.ForEachNode{
			Body:        domain.NewPlan("", []*domain.Node{stepNode("square", square)}, anySchema(), anySchema(), ""),
			Concurrency: 1,
		},
	}

	plan := domain.NewPlan("s4-flow", []*domain.Node{forEachNode}, anySchema(), anySchema(), "hash-s4")
	exec := domain.NewExecution("s4-flow", "hash-s4", json.RawMessage(`[1,2,3,4,5]`), nil)

	deps := newTestDeps()
	first := New(deps, plan, exec)

	go func() {
		for {
			mu.Lock()
			n := len(started)
			mu.Unlock()
			if n >= 3 {
				first.Pause()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := first.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, exec.Status)
	assert.Equal(t, []float64{1, 2, 3}, started)

	second := New(deps, plan, exec)
	require.NoError(t, second.Run(context.Background()))

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.JSONEq(t, `[1,4,9,16,25]`, string(exec.Outputs["0"]))
}
