package graph

import (
	"cmp"
	"slices"

	"actgraph/internal/domain"
)

// Txn stages changes over the committed store. Reads see the staged state;
// nothing is visible to other readers until Commit. A nil staged value marks
// a deletion.
type Txn struct {
	store    *Store
	acts     map[domain.ActID]*domain.Act
	rels     map[domain.RelationshipID]*domain.ActRelationship
	parts    map[domain.ParticipationID]*domain.Participation
	dangling map[domain.RelationshipID]*domain.DanglingEdge
}

func (s *Store) Begin() *Txn {
	return &Txn{
		store:    s,
		acts:     map[domain.ActID]*domain.Act{},
		rels:     map[domain.RelationshipID]*domain.ActRelationship{},
		parts:    map[domain.ParticipationID]*domain.Participation{},
		dangling: map[domain.RelationshipID]*domain.DanglingEdge{},
	}
}

func (t *Txn) PutAct(a domain.Act) {
	cp := a.Clone()
	t.acts[a.ID] = &cp
}

func (t *Txn) DeleteAct(id domain.ActID) { t.acts[id] = nil }

func (t *Txn) PutRelationship(r domain.ActRelationship) { t.rels[r.ID] = &r }

func (t *Txn) DeleteRelationship(id domain.RelationshipID) {
	t.rels[id] = nil
	t.dangling[id] = nil
}

func (t *Txn) PutParticipation(p domain.Participation) { t.parts[p.ID] = &p }

func (t *Txn) DeleteParticipation(id domain.ParticipationID) { t.parts[id] = nil }

func (t *Txn) MarkDangling(d domain.DanglingEdge) { t.dangling[d.RelationshipID] = &d }

func (t *Txn) ResolveDangling(id domain.RelationshipID) { t.dangling[id] = nil }

func (t *Txn) Act(id domain.ActID) (domain.Act, bool) {
	if a, staged := t.acts[id]; staged {
		if a == nil {
			return domain.Act{}, false
		}
		return a.Clone(), true
	}
	return t.store.Act(id)
}

func (t *Txn) Relationship(id domain.RelationshipID) (domain.ActRelationship, bool) {
	if r, staged := t.rels[id]; staged {
		if r == nil {
			return domain.ActRelationship{}, false
		}
		return *r, true
	}
	return t.store.Relationship(id)
}

func (t *Txn) Participation(id domain.ParticipationID) (domain.Participation, bool) {
	if p, staged := t.parts[id]; staged {
		if p == nil {
			return domain.Participation{}, false
		}
		return *p, true
	}
	return t.store.Participation(id)
}

func (t *Txn) Dangling(id domain.RelationshipID) (domain.DanglingEdge, bool) {
	if d, staged := t.dangling[id]; staged {
		if d == nil {
			return domain.DanglingEdge{}, false
		}
		return *d, true
	}
	return t.store.Dangling(id)
}

func (t *Txn) Outbound(id domain.ActID) []domain.ActRelationship {
	return t.overlayRels(t.store.Outbound(id), func(r *domain.ActRelationship) bool { return r.SourceActID == id })
}

func (t *Txn) Inbound(id domain.ActID) []domain.ActRelationship {
	return t.overlayRels(t.store.Inbound(id), func(r *domain.ActRelationship) bool { return r.TargetActID == id })
}

func (t *Txn) overlayRels(base []domain.ActRelationship, match func(*domain.ActRelationship) bool) []domain.ActRelationship {
	if len(t.rels) == 0 {
		return base
	}
	out := make([]domain.ActRelationship, 0, len(base))
	for _, r := range base {
		if _, staged := t.rels[r.ID]; !staged {
			out = append(out, r)
		}
	}
	for _, r := range t.rels {
		if r != nil && match(r) {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b domain.ActRelationship) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out
}

func (t *Txn) Participations(id domain.ActID) []domain.Participation {
	base := t.store.Participations(id)
	if len(t.parts) == 0 {
		return base
	}
	out := make([]domain.Participation, 0, len(base))
	for _, p := range base {
		if _, staged := t.parts[p.ID]; !staged {
			out = append(out, p)
		}
	}
	for _, p := range t.parts {
		if p != nil && p.ActID == id {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Participation) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out
}

// Commit publishes the staged changes. The caller must hold the latches of
// every act the changes touch.
func (t *Txn) Commit() {
	s := t.store
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	for id, r := range t.rels {
		if old, ok := s.rels.get(id); ok {
			s.out.update(old.SourceActID, removeEntry(id))
			s.in.update(old.TargetActID, removeEntry(id))
		}
		if r == nil {
			s.rels.delete(id)
			continue
		}
		s.rels.set(id, r)
		s.out.update(r.SourceActID, insertEntry(r.Sequence, id))
		s.in.update(r.TargetActID, insertEntry(r.Sequence, id))
	}
	for id, p := range t.parts {
		if old, ok := s.parts.get(id); ok {
			s.byAct.update(old.ActID, removeEntry(id))
		}
		if p == nil {
			s.parts.delete(id)
			continue
		}
		s.parts.set(id, p)
		s.byAct.update(p.ActID, insertEntry(p.Sequence, id))
	}
	for id, a := range t.acts {
		if a == nil {
			s.acts.delete(id)
			s.out.delete(id)
			s.byAct.delete(id)
			continue
		}
		s.acts.set(id, a)
	}
	for id, d := range t.dangling {
		if d == nil {
			s.dangling.delete(id)
			continue
		}
		s.dangling.set(id, d)
	}
}
