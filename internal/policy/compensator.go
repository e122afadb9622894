package policy

import (
	"context"
	"log/slog"

	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/xjson"
)

// Compensator invokes the compensate capability of every completed node in
// reverse order of completion when an execution terminally fails (§4.5). A
// compensation failure is logged and does not itself trigger further
// compensation, matching the distilled spec's explicit anti-recursion rule.
type Compensator struct {
	logger *slog.Logger
}

func NewCompensator(logger *slog.Logger) *Compensator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compensator{logger: logger.With("component", "compensator")}
}

// Result records the outcome of compensating one node, so the caller can
// append the matching Compensated/CompensationError event for it — the
// Compensator itself never touches the event log, since doing so safely
// requires the exec-wide lock the Scheduler already holds appendEvent
// behind.
type Result struct {
	NodeID string
	Err    error
}

// Run walks completed in reverse order, invoking Compensate for every node
// whose Task declares one. It returns one Result per node actually
// attempted, in the order attempted; a failure here is recorded in the
// returned Result and does not itself abort the pass.
func (c *Compensator) Run(ctx context.Context, plan *domain.Plan, exec *domain.Execution) []Result {
	var results []Result

	for i := len(exec.Completed) - 1; i >= 0; i-- {
		completed := exec.Completed[i]
		node, ok := plan.NodeByID(domain.BaseNodeID(completed.NodeID))
		if !ok || node.Kind != domain.NodeKindStep || !node.Step.Task.DeclaresCompensation() {
			continue
		}

		raw, ok := exec.Outputs[completed.NodeID]
		if !ok {
			continue
		}
		var output any
		if err := xjson.Unmarshal(raw, &output); err != nil {
			c.logger.Error("compensation output unmarshal failed", "node_id", completed.NodeID, "error", err)
			results = append(results, Result{NodeID: completed.NodeID, Err: domain.NewCompensationError(completed.NodeID, "unmarshal_output", err)})
			continue
		}

		tc := domain.NewTaskContext(ctx, plan.FlowID, exec.ExecutionID, completed.NodeID, 0, exec.Outputs, exec.Variables)
		if err := node.Step.Task.Compensate(ctx, tc, output); err != nil {
			c.logger.Error("compensation failed", "node_id", completed.NodeID, "error", err)
			results = append(results, Result{NodeID: completed.NodeID, Err: domain.NewCompensationError(completed.NodeID, "compensate", err)})
			continue
		}
		c.logger.Info("node compensated", "node_id", completed.NodeID)
		results = append(results, Result{NodeID: completed.NodeID})
	}

	return results
}
