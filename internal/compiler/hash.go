package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/eleven-am/flowcore/internal/domain"
)

// HashPlan computes a stable digest over a Plan's structure so a resumed
// execution can detect that the flow it was compiled against has since
// changed (§9 design note). Predicates are functions and are deliberately
// excluded from the digest; the flow id, node ids and kinds, task ids,
// schema names, branch arm labels, While max iterations, ForEach
// concurrency and nested flow ids are hashed.
func HashPlan(plan *domain.Plan) string {
	h := sha256.New()
	w := &sha256Writer{h: h}
	writePlan(w, plan)
	return hex.EncodeToString(h.Sum(nil))
}

func writePlan(w *sha256Writer, plan *domain.Plan) {
	if plan == nil {
		w.write("nil-plan;")
		return
	}
	w.write("plan(", plan.FlowID, ",", schemaName(plan.InputSchema), ",", schemaName(plan.OutputSchema), ");")
	for _, n := range plan.Nodes {
		writeNode(w, n)
	}
}

func writeNode(w *sha256Writer, n *domain.Node) {
	w.write("node(", n.ID, ",", string(n.Kind), ");")
	switch n.Kind {
	case domain.NodeKindStep:
		w.write("task(", n.Step.Task.ID, ",", schemaName(n.Step.Task.InputSchema), ",", schemaName(n.Step.Task.OutputSchema), ");")
	case domain.NodeKindBranch:
		for _, arm := range n.Branch.Arms {
			w.write("arm(", arm.Label, ");")
			writePlan(w, arm.Plan)
		}
		if n.Branch.Default != nil {
			w.write("default;")
			writePlan(w, n.Branch.Default)
		}
	case domain.NodeKindParallel:
		for i, sub := range n.Parallel.Arms {
			w.write("arm(", fmt.Sprintf("%d", i), ");")
			writePlan(w, sub)
		}
	case domain.NodeKindWhile:
		w.write("max_iter(", fmt.Sprintf("%d", n.While.MaxIterations), ");")
		writePlan(w, n.While.Body)
	case domain.NodeKindForEach:
		w.write("concurrency(", fmt.Sprintf("%d", n.ForEach.Concurrency), ");")
		writePlan(w, n.ForEach.Body)
	case domain.NodeKindNested:
		w.write("nested_flow(", n.Nested.FlowID, ");")
		writePlan(w, n.Nested.Plan)
	}
}

func schemaName(s *domain.Schema) string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}

// sha256Writer is a tiny helper around hash.Hash that avoids allocating a
// strings.Builder per node while hashing a plan.
type sha256Writer struct {
	h interface{ Write([]byte) (int, error) }
}

func (w *sha256Writer) write(parts ...string) {
	_, _ = w.h.Write([]byte(strings.Join(parts, "")))
}
