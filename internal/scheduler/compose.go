package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/xjson"
)

// varScope threads a Parallel/ForEach arm's staged variable writes so they
// never touch the shared execution until every sibling arm has settled
// (§5 shared-resource policy: variables are "effectively local" to the arm
// that wrote them, merged last-writer-wins keyed on arm index once the node
// as a whole succeeds). A nil scope means "no enclosing arm": writes there
// go straight to exec.Variables since nothing concurrent can be racing them.
type varScope struct {
	parent  *varScope
	overlay map[string]json.RawMessage
	writes  []domain.VariableWrite
}

func newVarScope(parent *varScope) *varScope {
	return &varScope{parent: parent, overlay: make(map[string]json.RawMessage)}
}

func (v *varScope) get(key string) (json.RawMessage, bool) {
	if val, ok := v.overlay[key]; ok {
		return val, true
	}
	if v.parent != nil {
		return v.parent.get(key)
	}
	return nil, false
}

func (v *varScope) set(key string, value json.RawMessage) {
	v.overlay[key] = value
	v.writes = append(v.writes, domain.VariableWrite{Key: key, Value: value})
}

// resolvedVariables layers scope's ancestor overlays (outermost first) over
// a fresh clone of the execution's shared variables, giving a task the view
// its own arm has built up so far without exposing a sibling arm's
// in-flight writes.
func (s *Scheduler) resolvedVariables(scope *varScope) map[string]json.RawMessage {
	s.mu.Lock()
	base := cloneRawJSONMap(s.exec.Variables)
	s.mu.Unlock()
	return applyScope(base, scope)
}

func applyScope(base map[string]json.RawMessage, scope *varScope) map[string]json.RawMessage {
	if scope == nil {
		return base
	}
	base = applyScope(base, scope.parent)
	for k, v := range scope.overlay {
		base[k] = v
	}
	return base
}

// runSequence advances through nodes in declared order starting from
// input, skipping any node already present in exec.Completed so a resumed
// execution replays nothing it already persisted (§4.2 resume semantics: an
// in-flight node from the pre-pause snapshot is re-run from READY, but a
// node that already succeeded never runs twice).
func (s *Scheduler) runSequence(ctx context.Context, plan *domain.Plan, nodes []*domain.Node, input json.RawMessage, scope *varScope) (json.RawMessage, error) {
	current := input
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewCancelledError(node.ID)
		}

		if output, ok := s.completedOutput(node.ID); ok {
			current = output
			continue
		}

		s.setCursor(node.ID)
		output, err := s.executeNode(ctx, plan, node, current, scope)
		if err != nil {
			return nil, err
		}
		if node.Kind != domain.NodeKindStep {
			s.mu.Lock()
			s.exec.Outputs[node.ID] = output
			s.mu.Unlock()
		}
		current = output
	}
	return current, nil
}

// completedOutput reports whether nodeID has already succeeded in a prior
// run of this execution (the resume-skip check) and, if so, its persisted
// output. Locked because sibling Parallel/ForEach arms may be appending to
// exec.Completed/Outputs concurrently.
func (s *Scheduler) completedOutput(nodeID string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.exec.Completed {
		if c.NodeID == nodeID {
			return s.exec.Outputs[nodeID], true
		}
	}
	return nil, false
}

func (s *Scheduler) setCursor(nodeID string) {
	s.mu.Lock()
	s.exec.Cursor = nodeID
	s.mu.Unlock()
}

func (s *Scheduler) executeNode(ctx context.Context, plan *domain.Plan, node *domain.Node, input json.RawMessage, scope *varScope) (json.RawMessage, error) {
	switch node.Kind {
	case domain.NodeKindStep:
		return s.runStep(ctx, node, input, scope)
	case domain.NodeKindBranch:
		return s.runBranch(ctx, node, input, scope)
	case domain.NodeKindParallel:
		return s.runParallel(ctx, node, input, scope)
	case domain.NodeKindWhile:
		return s.runWhile(ctx, node, input, scope)
	case domain.NodeKindForEach:
		return s.runForEach(ctx, node, input, scope)
	case domain.NodeKindNested:
		return s.runNested(ctx, node, input)
	default:
		return nil, domain.NewCompileError(fmt.Sprintf("unknown node kind %q", node.Kind), nil)
	}
}

// runBranch evaluates each arm's predicate, in declared order, against the
// branch's own input (predicates never see the chosen arm's output) and
// runs the first matching arm's sub-plan. No match and no default fails the
// node with TaskError/NoMatchingBranch, per Open Question (b)'s decision
// to treat an author error as a hard failure rather than silent passthrough.
func (s *Scheduler) runBranch(ctx context.Context, node *domain.Node, input json.RawMessage, scope *varScope) (json.RawMessage, error) {
	var value any
	if err := xjson.Unmarshal(input, &value); err != nil {
		return nil, domain.NewValidationError("unmarshal_branch_input", err)
	}

	for _, arm := range node.Branch.Arms {
		if arm.Predicate != nil && !arm.Predicate(value) {
			continue
		}
		return s.runSequence(ctx, arm.Plan, arm.Plan.Nodes, input, scope)
	}
	if node.Branch.Default != nil {
		return s.runSequence(ctx, node.Branch.Default, node.Branch.Default.Nodes, input, scope)
	}
	return nil, domain.NewTaskError(node.ID, 0, "NoMatchingBranch", nil)
}

// runParallel fans every arm out on the same input via a bounded errgroup;
// a failing arm cancels its siblings through the shared group context
// (as DESIGN.md's decision 2 records for ForEach) and the ordered arm outputs, in
// declared order regardless of completion order, become the node's output.
func (s *Scheduler) runParallel(ctx context.Context, node *domain.Node, input json.RawMessage, scope *varScope) (json.RawMessage, error) {
	results := make([]json.RawMessage, len(node.Parallel.Arms))
	armScopes := make([]*varScope, len(node.Parallel.Arms))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, arm := range node.Parallel.Arms {
		i, arm := i, arm
		armScopes[i] = newVarScope(scope)
		group.Go(func() error {
			out, err := s.runSequence(groupCtx, arm, arm.Nodes, input, armScopes[i])
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := s.mergeArmScopes(node.ID, scope, armScopes); err != nil {
		return nil, err
	}
	return domain.CollectForEach(results)
}

// mergeArmScopes folds every arm's staged variable writes into scope (or,
// if scope is nil, directly into the shared execution) once every arm has
// succeeded, raising ConcurrentVariableConflict if two arms wrote different
// values to the same key (§5).
func (s *Scheduler) mergeArmScopes(nodeID string, scope *varScope, armScopes []*varScope) error {
	// A ForEach that was cancelled while still acquiring its semaphore (a
	// pause or parent-context cancel landing in the gap between iterations)
	// leaves trailing armScopes entries nil for elements it never spawned.
	// Skip them rather than merging a write set that was never collected.
	armWrites := make([][]domain.VariableWrite, 0, len(armScopes))
	for _, as := range armScopes {
		if as == nil {
			continue
		}
		armWrites = append(armWrites, as.writes)
	}
	merged, err := domain.MergeArmVariables(armWrites)
	if err != nil {
		return domain.NewTaskError(nodeID, 0, err.Error(), err)
	}

	if scope != nil {
		for k, v := range merged {
			scope.set(k, v)
		}
		return nil
	}

	s.mu.Lock()
	for k, v := range merged {
		s.exec.Variables[k] = v
	}
	s.mu.Unlock()
	return nil
}

// runWhile re-executes Body so long as Predicate holds over the current
// value, the initial iteration receiving the While node's own input; output
// is the value at the first failing predicate evaluation. MaxIterations, if
// set, is a supplemental safety cap so an author bug in the predicate can't
// spin the scheduler forever.
func (s *Scheduler) runWhile(ctx context.Context, node *domain.Node, input json.RawMessage, scope *varScope) (json.RawMessage, error) {
	current := input
	iterations := 0
	for {
		var value any
		if err := xjson.Unmarshal(current, &value); err != nil {
			return nil, domain.NewValidationError("unmarshal_while_input", err)
		}
		if !node.While.Predicate(value) {
			return current, nil
		}
		if node.While.MaxIterations > 0 && iterations >= node.While.MaxIterations {
			return nil, domain.NewTaskError(node.ID, 0, "max_iterations_exceeded", nil)
		}

		body := qualifyPlan(node.While.Body, iterations)
		out, err := s.runSequence(ctx, body, body.Nodes, current, scope)
		if err != nil {
			return nil, err
		}
		current = out
		iterations++
	}
}

// runForEach requires the current value to be a JSON array, spawns up to
// Concurrency arm executions bounded by a weighted semaphore, and joins the
// arm outputs in input order regardless of completion order (DESIGN.md
// decision 2: a failing arm cancels its siblings via the shared errgroup context).
func (s *Scheduler) runForEach(ctx context.Context, node *domain.Node, input json.RawMessage, scope *varScope) (json.RawMessage, error) {
	var elements []json.RawMessage
	if err := xjson.Unmarshal(input, &elements); err != nil {
		return nil, domain.NewValidationError("foreach_input_not_a_sequence", err)
	}

	concurrency := node.ForEach.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	results := make([]json.RawMessage, len(elements))
	armScopes := make([]*varScope, len(elements))
	group, groupCtx := errgroup.WithContext(ctx)

	// acquireErr is set when the semaphore acquire itself is interrupted by
	// groupCtx being cancelled (a pause or the parent's ctx dying) rather
	// than by a spawned arm failing. When that happens, some elements never
	// get an armScopes entry or a group.Go call at all, so group.Wait() can
	// come back nil even though the ForEach as a whole didn't finish — this
	// must still be treated as a failure, not silently collected as if every
	// element ran.
	var acquireErr error
	for i, element := range elements {
		i, element := i, element
		if err := sem.Acquire(groupCtx, 1); err != nil {
			acquireErr = err
			break
		}
		body := qualifyPlan(node.ForEach.Body, i)
		armScopes[i] = newVarScope(scope)
		group.Go(func() error {
			defer sem.Release(1)
			out, err := s.runSequence(groupCtx, body, body.Nodes, element, armScopes[i])
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if acquireErr != nil {
		return nil, domain.NewCancelledError(node.ID)
	}
	if err := s.mergeArmScopes(node.ID, scope, armScopes); err != nil {
		return nil, err
	}
	return domain.CollectForEach(results)
}

// qualifyPlan rebuilds plan with every node id qualified by iteration, so a
// While or ForEach body executed multiple times against the same
// *domain.Plan produces a distinct exec.Completed/Outputs/event-log entry
// per pass instead of every iteration after the first colliding on the
// underlying node id and silently reusing an earlier iteration's cached
// output. Nested nodes are left unqualified: a Nested node starts its own
// child Execution with its own independent bookkeeping, so there's no
// collision to guard against there.
func qualifyPlan(plan *domain.Plan, iteration int) *domain.Plan {
	nodes := make([]*domain.Node, len(plan.Nodes))
	for i, n := range plan.Nodes {
		nodes[i] = qualifyNode(n, iteration)
	}
	return domain.NewPlan(plan.FlowID, nodes, plan.InputSchema, plan.OutputSchema, plan.FlowHash)
}

func qualifyNode(node *domain.Node, iteration int) *domain.Node {
	qualified := *node
	qualified.ID = domain.IterationNodeID(node.ID, iteration)

	switch node.Kind {
	case domain.NodeKindBranch:
		arms := make([]domain.BranchArm, len(node.Branch.Arms))
		for i, arm := range node.Branch.Arms {
			arms[i] = domain.BranchArm{Label: arm.Label, Predicate: arm.Predicate, Plan: qualifyPlan(arm.Plan, iteration)}
		}
		branch := &domain.BranchNode{Arms: arms}
		if node.Branch.Default != nil {
			branch.Default = qualifyPlan(node.Branch.Default, iteration)
		}
		qualified.Branch = branch
	case domain.NodeKindParallel:
		arms := make([]*domain.Plan, len(node.Parallel.Arms))
		for i, arm := range node.Parallel.Arms {
			arms[i] = qualifyPlan(arm, iteration)
		}
		qualified.Parallel = &domain.ParallelNode{Arms: arms}
	case domain.NodeKindWhile:
		qualified.While = &domain.WhileNode{
			Predicate:     node.While.Predicate,
			Body:          qualifyPlan(node.While.Body, iteration),
			MaxIterations: node.While.MaxIterations,
		}
	case domain.NodeKindForEach:
		qualified.ForEach = &domain.ForEachNode{
			Body:        qualifyPlan(node.ForEach.Body, iteration),
			Concurrency: node.ForEach.Concurrency,
		}
	}
	return &qualified
}

// runNested starts a child execution synchronously within the parent's
// context and folds its final output into the Nested node's output. A
// failed child fails the parent Nested node with the child's execution id
// attached, and (DESIGN.md decision 3) the child's own completed nodes are
// compensated first, innermost-out, before the parent's compensation runs.
func (s *Scheduler) runNested(ctx context.Context, node *domain.Node, input json.RawMessage) (json.RawMessage, error) {
	childExec := domain.NewExecution(node.Nested.FlowID, node.Nested.Plan.FlowHash, input, s.exec.Metadata)
	childScheduler := New(s.deps, node.Nested.Plan, childExec)

	if err := childScheduler.Run(ctx); err != nil {
		return nil, domain.NewTaskError(node.ID, 0, fmt.Sprintf("nested execution %s failed: %v", childExec.ExecutionID, err), err)
	}
	if childExec.Status != domain.StatusCompleted {
		return nil, domain.NewTaskError(node.ID, 0, fmt.Sprintf("nested execution %s did not complete (status=%s)", childExec.ExecutionID, childExec.Status), nil)
	}

	return childScheduler.output, nil
}
