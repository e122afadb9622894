package domain

// Plan is the immutable, compiled representation of a workflow's graph
// model. It is built exclusively by internal/compiler and never mutated
// after construction; the index below is computed once at construction time
// so concurrent executions can query it lock-free.
type Plan struct {
	FlowID       string
	Nodes        []*Node
	FlowHash     string
	InputSchema  *Schema
	OutputSchema *Schema

	index planIndex
}

type planIndex struct {
	byID      map[string]*Node
	successor map[string]string
	arms      map[string][]*Plan
}

// NewPlan constructs a Plan from its compiled root sequence and eagerly
// builds the traversal index used by NodeByID/SuccessorOf/ArmsOf.
func NewPlan(flowID string, nodes []*Node, inputSchema, outputSchema *Schema, flowHash string) *Plan {
	p := &Plan{
		FlowID:       flowID,
		Nodes:        nodes,
		FlowHash:     flowHash,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
	}
	p.index = planIndex{
		byID:      make(map[string]*Node),
		successor: make(map[string]string),
		arms:      make(map[string][]*Plan),
	}
	indexSequence(&p.index, nodes)
	return p
}

func indexSequence(idx *planIndex, nodes []*Node) {
	for i, n := range nodes {
		idx.byID[n.ID] = n
		if i+1 < len(nodes) {
			idx.successor[n.ID] = nodes[i+1].ID
		} else {
			idx.successor[n.ID] = ""
		}

		switch n.Kind {
		case NodeKindBranch:
			var plans []*Plan
			for _, arm := range n.Branch.Arms {
				plans = append(plans, arm.Plan)
				indexSequence(idx, arm.Plan.Nodes)
			}
			if n.Branch.Default != nil {
				plans = append(plans, n.Branch.Default)
				indexSequence(idx, n.Branch.Default.Nodes)
			}
			idx.arms[n.ID] = plans
		case NodeKindParallel:
			idx.arms[n.ID] = n.Parallel.Arms
			for _, sub := range n.Parallel.Arms {
				indexSequence(idx, sub.Nodes)
			}
		case NodeKindWhile:
			idx.arms[n.ID] = []*Plan{n.While.Body}
			indexSequence(idx, n.While.Body.Nodes)
		case NodeKindForEach:
			idx.arms[n.ID] = []*Plan{n.ForEach.Body}
			indexSequence(idx, n.ForEach.Body.Nodes)
		case NodeKindNested:
			idx.arms[n.ID] = []*Plan{n.Nested.Plan}
			indexSequence(idx, n.Nested.Plan.Nodes)
		}
	}
}

// NodeByID resolves any node id in the plan, including ones nested inside
// Branch/Parallel/While/ForEach sub-plans.
func (p *Plan) NodeByID(id string) (*Node, bool) {
	n, ok := p.index.byID[id]
	return n, ok
}

// SuccessorOf returns the node that follows id within its own sequence
// (root sequence or the sequence of the sub-plan that contains it). The
// empty string with ok=true means id is the last node of its sequence.
func (p *Plan) SuccessorOf(id string) (string, bool) {
	next, ok := p.index.successor[id]
	return next, ok
}

// ArmsOf returns the sub-plans owned by a Branch/Parallel/While/ForEach/
// Nested node, or nil for a Step node.
func (p *Plan) ArmsOf(id string) []*Plan {
	return p.index.arms[id]
}

// RootNodes returns the top-level node sequence.
func (p *Plan) RootNodes() []*Node {
	return p.Nodes
}

// InputTypeAt and OutputTypeAt resolve the declared schema at a node. The
// engine erases to schema objects rather than reflected static types
// (§9 design note), so these are the type-checking primitives the compiler
// and scheduler both use.
func (p *Plan) InputTypeAt(id string) (*Schema, bool) {
	n, ok := p.NodeByID(id)
	if !ok {
		return nil, false
	}
	switch n.Kind {
	case NodeKindStep:
		return n.Step.Task.InputSchema, true
	case NodeKindBranch:
		if len(n.Branch.Arms) > 0 && len(n.Branch.Arms[0].Plan.Nodes) > 0 {
			return p.InputTypeAt(n.Branch.Arms[0].Plan.Nodes[0].ID)
		}
	case NodeKindParallel:
		if len(n.Parallel.Arms) > 0 && len(n.Parallel.Arms[0].Nodes) > 0 {
			return p.InputTypeAt(n.Parallel.Arms[0].Nodes[0].ID)
		}
	case NodeKindWhile:
		if len(n.While.Body.Nodes) > 0 {
			return p.InputTypeAt(n.While.Body.Nodes[0].ID)
		}
	case NodeKindForEach:
		if len(n.ForEach.Body.Nodes) > 0 {
			return p.InputTypeAt(n.ForEach.Body.Nodes[0].ID)
		}
	case NodeKindNested:
		return n.Nested.Plan.InputSchema, true
	}
	return nil, false
}

func (p *Plan) OutputTypeAt(id string) (*Schema, bool) {
	n, ok := p.NodeByID(id)
	if !ok {
		return nil, false
	}
	switch n.Kind {
	case NodeKindStep:
		return n.Step.Task.OutputSchema, true
	case NodeKindBranch:
		if len(n.Branch.Arms) > 0 {
			last := n.Branch.Arms[0].Plan.Nodes
			if len(last) > 0 {
				return p.OutputTypeAt(last[len(last)-1].ID)
			}
		}
	case NodeKindParallel:
		return AnySchema, true
	case NodeKindWhile:
		if len(n.While.Body.Nodes) > 0 {
			return p.OutputTypeAt(n.While.Body.Nodes[len(n.While.Body.Nodes)-1].ID)
		}
	case NodeKindForEach:
		return AnySchema, true
	case NodeKindNested:
		return n.Nested.Plan.OutputSchema, true
	}
	return nil, false
}
