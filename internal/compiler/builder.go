// Package compiler implements the fluent flow builder (C4): a chain of
// Then/Branch/Parallel/While/ForEach/Nested calls that each append one
// domain.Node and run the type-compatibility check for that operation
// immediately, so a mistake surfaces at the call site that introduced it
// rather than deep inside Build.
package compiler

import (
	"fmt"

	"github.com/eleven-am/flowcore/internal/domain"
)

// sharedState is threaded through every child builder spawned for a
// Branch/Parallel/While/ForEach sub-plan so that task-id uniqueness and the
// first compile error are tracked flow-wide rather than per sub-plan.
type sharedState struct {
	flowID  string
	seenIDs map[string]bool
	counter int
	err     error
}

func (s *sharedState) nextNodeID(kind string) string {
	s.counter++
	return fmt.Sprintf("%s.%s.%d", s.flowID, kind, s.counter)
}

func (s *sharedState) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// FlowBuilder accumulates a sequence of domain.Node values for one flow (or
// one sub-plan of a flow) and tracks the schema of the value that would flow
// into the next operation.
type FlowBuilder struct {
	shared *sharedState
	nodes  []*domain.Node
	tail   *domain.Schema
}

// NewFlowBuilder starts a new top-level flow with the given id and declared
// input schema.
func NewFlowBuilder(flowID string, input *domain.Schema) *FlowBuilder {
	return &FlowBuilder{
		shared: &sharedState{flowID: flowID, seenIDs: make(map[string]bool)},
		tail:   input,
	}
}

func (b *FlowBuilder) child(input *domain.Schema) *FlowBuilder {
	return &FlowBuilder{shared: b.shared, tail: input}
}

func (b *FlowBuilder) registerTaskID(id string) {
	if id == "" {
		return
	}
	if b.shared.seenIDs[id] {
		b.shared.fail(domain.NewCompileError("DuplicateTaskID", fmt.Errorf("task id %q declared more than once in flow %q", id, b.shared.flowID)))
		return
	}
	b.shared.seenIDs[id] = true
}

// Then appends a Step node running task. task's InputSchema must be
// compatible with the current tail schema.
func (b *FlowBuilder) Then(task *domain.Task) *FlowBuilder {
	if b.shared.err != nil {
		return b
	}
	if !b.tail.CompatibleWith(task.InputSchema) {
		b.shared.fail(domain.NewCompileError("TypeMismatch", fmt.Errorf("task %q expects input %q, tail produces %q", task.ID, task.InputSchema.Name, b.tail.Name)))
		return b
	}
	b.registerTaskID(task.ID)

	b.nodes = append(b.nodes, &domain.Node{
		ID:   b.shared.nextNodeID("step"),
		Kind: domain.NodeKindStep,
		Step: &domain.StepNode{Task: task},
	})
	b.tail = task.OutputSchema
	return b
}

// BranchArmSpec pairs a predicate with the sub-plan built for that arm.
// Build receives a fresh child builder seeded with the branch's input
// schema; its own Then/Branch/... calls populate the arm's sub-plan.
type BranchArmSpec struct {
	Label     string
	Predicate domain.BranchPredicate
	Build     func(*FlowBuilder)
}

// Branch appends a Branch node. Every arm must accept the branch's current
// tail schema as input; arm output schemas must unify to a single named
// schema (or all be domain.AnySchema) or compilation fails with
// BranchTypeDivergence. defaultBuild may be nil, in which case a value that
// matches no arm fails at runtime with TaskError/NoMatchingBranch.
func (b *FlowBuilder) Branch(arms []BranchArmSpec, defaultBuild func(*FlowBuilder)) *FlowBuilder {
	if b.shared.err != nil {
		return b
	}
	if len(arms) == 0 {
		b.shared.fail(domain.NewCompileError("TypeMismatch", fmt.Errorf("branch declared with no arms")))
		return b
	}

	input := b.tail
	compiledArms := make([]domain.BranchArm, 0, len(arms))
	var unified *domain.Schema

	for _, arm := range arms {
		child := b.child(input)
		arm.Build(child)
		if b.shared.err != nil {
			return b
		}
		unified = unifySchema(unified, child.tail, b.shared)
		if b.shared.err != nil {
			return b
		}
		compiledArms = append(compiledArms, domain.BranchArm{
			Label:     arm.Label,
			Predicate: arm.Predicate,
			Plan:      domain.NewPlan(b.shared.flowID, child.nodes, input, child.tail, ""),
		})
	}

	var defaultPlan *domain.Plan
	if defaultBuild != nil {
		child := b.child(input)
		defaultBuild(child)
		if b.shared.err != nil {
			return b
		}
		unified = unifySchema(unified, child.tail, b.shared)
		if b.shared.err != nil {
			return b
		}
		defaultPlan = domain.NewPlan(b.shared.flowID, child.nodes, input, child.tail, "")
	}

	b.nodes = append(b.nodes, &domain.Node{
		ID:   b.shared.nextNodeID("branch"),
		Kind: domain.NodeKindBranch,
		Branch: &domain.BranchNode{
			Arms:    compiledArms,
			Default: defaultPlan,
		},
	})
	b.tail = unified
	return b
}

// Parallel appends a Parallel node. Every arm receives the branch's current
// tail schema as input; the node's output is always domain.AnySchema since
// the resulting value is a fixed-length tuple rather than a single schema.
func (b *FlowBuilder) Parallel(arms []func(*FlowBuilder)) *FlowBuilder {
	if b.shared.err != nil {
		return b
	}
	if len(arms) == 0 {
		b.shared.fail(domain.NewCompileError("TypeMismatch", fmt.Errorf("parallel declared with no arms")))
		return b
	}

	input := b.tail
	plans := make([]*domain.Plan, 0, len(arms))
	for _, build := range arms {
		child := b.child(input)
		build(child)
		if b.shared.err != nil {
			return b
		}
		plans = append(plans, domain.NewPlan(b.shared.flowID, child.nodes, input, child.tail, ""))
	}

	b.nodes = append(b.nodes, &domain.Node{
		ID:       b.shared.nextNodeID("parallel"),
		Kind:     domain.NodeKindParallel,
		Parallel: &domain.ParallelNode{Arms: plans},
	})
	b.tail = domain.AnySchema
	return b
}

// While appends a While node. The loop body's output schema must equal its
// input schema (the loop invariant) or compilation fails with TypeMismatch.
func (b *FlowBuilder) While(predicate domain.BranchPredicate, maxIterations int, build func(*FlowBuilder)) *FlowBuilder {
	if b.shared.err != nil {
		return b
	}

	input := b.tail
	child := b.child(input)
	build(child)
	if b.shared.err != nil {
		return b
	}
	if !loopInvariantHolds(input, child.tail) {
		b.shared.fail(domain.NewCompileError("TypeMismatch", fmt.Errorf("while body output %q does not match loop input %q", child.tail.Name, input.Name)))
		return b
	}

	b.nodes = append(b.nodes, &domain.Node{
		ID:   b.shared.nextNodeID("while"),
		Kind: domain.NodeKindWhile,
		While: &domain.WhileNode{
			Predicate:     predicate,
			Body:          domain.NewPlan(b.shared.flowID, child.nodes, input, child.tail, ""),
			MaxIterations: maxIterations,
		},
	})
	b.tail = child.tail
	return b
}

// ForEach appends a ForEach node. The engine erases sequence element types
// (§9 design note), so the body accepts whatever schema its own tasks
// declare; concurrency of 0 defaults to 1 at scheduling time.
func (b *FlowBuilder) ForEach(concurrency int, build func(*FlowBuilder)) *FlowBuilder {
	if b.shared.err != nil {
		return b
	}

	child := b.child(domain.AnySchema)
	build(child)
	if b.shared.err != nil {
		return b
	}

	b.nodes = append(b.nodes, &domain.Node{
		ID:   b.shared.nextNodeID("for_each"),
		Kind: domain.NodeKindForEach,
		ForEach: &domain.ForEachNode{
			Body:        domain.NewPlan(b.shared.flowID, child.nodes, domain.AnySchema, child.tail, ""),
			Concurrency: concurrency,
		},
	})
	b.tail = domain.AnySchema
	return b
}

// Nested appends a Nested node wrapping a previously compiled child Plan.
// The child's InputSchema must be compatible with the current tail; its
// OutputSchema becomes the new tail, exactly as a Step would.
func (b *FlowBuilder) Nested(flowID string, plan *domain.Plan) *FlowBuilder {
	if b.shared.err != nil {
		return b
	}
	if !b.tail.CompatibleWith(plan.InputSchema) {
		b.shared.fail(domain.NewCompileError("TypeMismatch", fmt.Errorf("nested flow %q expects input %q, tail produces %q", flowID, plan.InputSchema.Name, b.tail.Name)))
		return b
	}

	b.nodes = append(b.nodes, &domain.Node{
		ID:   b.shared.nextNodeID("nested"),
		Kind: domain.NodeKindNested,
		Nested: &domain.NestedNode{
			FlowID: flowID,
			Plan:   plan,
		},
	})
	b.tail = plan.OutputSchema
	return b
}

// Build finalizes the flow: it surfaces the first compile error raised by
// any Then/Branch/Parallel/While/ForEach/Nested call, otherwise assembles
// the root Plan and freezes its FlowHash so a later resume can detect a flow
// definition that changed underneath a running execution.
func (b *FlowBuilder) Build(outputSchema *domain.Schema, inputSchema *domain.Schema) (*domain.Plan, error) {
	if b.shared.err != nil {
		return nil, b.shared.err
	}
	if outputSchema == nil {
		outputSchema = b.tail
	}

	plan := domain.NewPlan(b.shared.flowID, b.nodes, inputSchema, outputSchema, "")
	plan.FlowHash = HashPlan(plan)
	return plan, nil
}
