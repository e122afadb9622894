package domain

// NodeKind discriminates the tagged union of node variants a compiled Plan
// can contain. String-backed so a node's kind is readable straight out of a
// persisted snapshot.
type NodeKind string

const (
	NodeKindStep     NodeKind = "step"
	NodeKindBranch   NodeKind = "branch"
	NodeKindParallel NodeKind = "parallel"
	NodeKindWhile    NodeKind = "while"
	NodeKindForEach  NodeKind = "for_each"
	NodeKindNested   NodeKind = "nested"
)

// Node is a position in a compiled Plan. Exactly one of the kind-specific
// fields is populated, selected by Kind.
type Node struct {
	ID   string
	Kind NodeKind

	Step     *StepNode
	Branch   *BranchNode
	Parallel *ParallelNode
	While    *WhileNode
	ForEach  *ForEachNode
	Nested   *NestedNode
}

// StepNode executes a single task.
type StepNode struct {
	Task *Task
}

// BranchPredicate is a pure capability over the current value; predicates
// never mutate state and are never serialized (§9 design note) — persisted
// executions reference the chosen arm by its compiled sub-plan node IDs.
type BranchPredicate func(value any) bool

// BranchArm pairs a predicate with the sub-plan executed when it matches.
// The first arm (in declared order) whose predicate returns true is chosen;
// Label exists purely for diagnostics and event details.
type BranchArm struct {
	Label     string
	Predicate BranchPredicate
	Plan      *Plan
}

// BranchNode holds an ordered list of arms. If no arm matches and Default is
// nil, the node fails with TaskError/NoMatchingBranch (§9 Open Question b).
type BranchNode struct {
	Arms    []BranchArm
	Default *Plan
}

// ParallelNode runs every arm with the same input and joins on completion;
// the node's output is the ordered list of arm outputs regardless of the
// order in which arms actually finished.
type ParallelNode struct {
	Arms []*Plan
}

// WhileNode re-executes Body so long as Predicate holds over the current
// value. MaxIterations is a supplemental safety cap (grounded on the
// original implementation's loop(max_iterations=100) guard) applied even
// though the distilled spec does not itself bound iteration count; 0 means
// unbounded.
type WhileNode struct {
	Predicate     BranchPredicate
	Body          *Plan
	MaxIterations int
}

// ForEachNode requires the current value to be an ordered sequence and runs
// Body once per element. Concurrency bounds how many elements may be
// in flight at once; 0 is treated as 1 (§9 Open Question a).
type ForEachNode struct {
	Body        *Plan
	Concurrency int
}

// NestedNode treats a child Plan as an opaque node; its execution becomes a
// sub-execution with its own execution ID. The child Execution record holds
// no reference to its parent; only a failure message names the child's id.
type NestedNode struct {
	FlowID string
	Plan   *Plan
}
