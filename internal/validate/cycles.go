package validate

import (
	"fmt"
	"slices"
	"strings"

	"actgraph/internal/domain"
	"actgraph/internal/graph"
)

// compositionEdges returns the COMP edges leaving (out=true) or entering id
// whose far end exists. Edges to deleted acts cannot take part in a cycle.
func compositionEdges(view View, id domain.ActID, out bool) []domain.ActRelationship {
	var rels []domain.ActRelationship
	if out {
		rels = view.Outbound(id)
	} else {
		rels = view.Inbound(id)
	}
	var keep []domain.ActRelationship
	for _, r := range rels {
		if !r.IsComposition() || r.SourceActID == r.TargetActID {
			continue
		}
		far := r.TargetActID
		if !out {
			far = r.SourceActID
		}
		if _, ok := view.Act(far); !ok {
			continue
		}
		keep = append(keep, r)
	}
	return keep
}

// reach walks COMP edges from start in one direction. Each edge is examined
// at most once, so the walk is bounded by the composition edge count.
func reach(view View, start domain.ActID, forward bool) map[domain.ActID]struct{} {
	seen := map[domain.ActID]struct{}{start: {}}
	stack := []domain.ActID{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, r := range compositionEdges(view, cur, forward) {
			next := r.TargetActID
			if !forward {
				next = r.SourceActID
			}
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return seen
}

// Reaches reports whether to is reachable from from over composition edges.
func Reaches(view View, from, to domain.ActID) bool {
	_, ok := reach(view, from, true)[to]
	return ok
}

// Descendants lists start and every act it reaches over composition edges,
// in id order.
func Descendants(view View, start domain.ActID) []domain.ActID {
	seen := reach(view, start, true)
	out := make([]domain.ActID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b domain.ActID) int { return graph.CompareIDs(string(a), string(b)) })
	return out
}

// componentOf returns the strongly connected composition component holding
// id, as the intersection of what id reaches and what reaches id.
func componentOf(view View, id domain.ActID) []domain.ActID {
	if _, ok := view.Act(id); !ok {
		return []domain.ActID{id}
	}
	fwd := reach(view, id, true)
	bwd := reach(view, id, false)
	var members []domain.ActID
	for m := range fwd {
		if _, ok := bwd[m]; ok {
			members = append(members, m)
		}
	}
	return members
}

// cycleViolation builds the CompositionCycle violation for a component with
// more than one member.
func cycleViolation(view View, members []domain.ActID) (domain.Violation, bool) {
	if len(members) < 2 {
		return domain.Violation{}, false
	}
	members = slices.Clone(members)
	slices.SortFunc(members, func(a, b domain.ActID) int { return graph.CompareIDs(string(a), string(b)) })
	in := make(map[domain.ActID]struct{}, len(members))
	for _, m := range members {
		in[m] = struct{}{}
	}
	var rels []domain.RelationshipID
	for _, m := range members {
		for _, r := range compositionEdges(view, m, true) {
			if _, ok := in[r.TargetActID]; ok {
				rels = append(rels, r.ID)
			}
		}
	}
	slices.SortFunc(rels, func(a, b domain.RelationshipID) int { return graph.CompareIDs(string(a), string(b)) })
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = string(m)
	}
	return domain.Violation{
		Kind:            domain.KindCompositionCycle,
		Severity:        domain.SeverityBlock,
		Message:         fmt.Sprintf("composition cycle through %s", strings.Join(names, ", ")),
		ActIDs:          members,
		RelationshipIDs: rels,
	}, true
}

// compositionCycles finds every composition cycle in one Tarjan pass.
func compositionCycles(view View, acts []domain.Act) []domain.Violation {
	t := tarjan{
		view:  view,
		index: map[domain.ActID]int{},
		low:   map[domain.ActID]int{},
		on:    map[domain.ActID]bool{},
	}
	for _, a := range acts {
		if _, visited := t.index[a.ID]; !visited {
			t.visit(a.ID)
		}
	}
	return t.out
}

type tarjan struct {
	view  View
	next  int
	index map[domain.ActID]int
	low   map[domain.ActID]int
	on    map[domain.ActID]bool
	stack []domain.ActID
	out   []domain.Violation
}

func (t *tarjan) visit(id domain.ActID) {
	t.index[id] = t.next
	t.low[id] = t.next
	t.next++
	t.stack = append(t.stack, id)
	t.on[id] = true

	for _, r := range compositionEdges(t.view, id, true) {
		w := r.TargetActID
		if _, visited := t.index[w]; !visited {
			t.visit(w)
			t.low[id] = min(t.low[id], t.low[w])
		} else if t.on[w] {
			t.low[id] = min(t.low[id], t.index[w])
		}
	}

	if t.low[id] != t.index[id] {
		return
	}
	var members []domain.ActID
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.on[w] = false
		members = append(members, w)
		if w == id {
			break
		}
	}
	if v, ok := cycleViolation(t.view, members); ok {
		t.out = append(t.out, v)
	}
}
