package graph

import (
	"cmp"
	"slices"
	"sync"

	"actgraph/internal/domain"
)

type entry[K ~string] struct {
	seq uint64
	id  K
}

// Store holds the committed graph. Records are immutable once stored and
// index slices are replaced on write, so readers holding a value never see it
// change underneath them.
type Store struct {
	// commitMu is held exclusively while a commit, Clone or Load spans
	// several shards, and shared by Read.
	commitMu sync.RWMutex

	acts     *shardedMap[domain.ActID, *domain.Act]
	rels     *shardedMap[domain.RelationshipID, *domain.ActRelationship]
	parts    *shardedMap[domain.ParticipationID, *domain.Participation]
	out      *shardedMap[domain.ActID, []entry[domain.RelationshipID]]
	in       *shardedMap[domain.ActID, []entry[domain.RelationshipID]]
	byAct    *shardedMap[domain.ActID, []entry[domain.ParticipationID]]
	dangling *shardedMap[domain.RelationshipID, *domain.DanglingEdge]

	ids *Allocator
}

// Snapshot is a plain copy of the graph used for export and import.
type Snapshot struct {
	Acts           []domain.Act             `json:"acts"`
	Relationships  []domain.ActRelationship `json:"relationships"`
	Participations []domain.Participation   `json:"participations"`
	Dangling       []domain.DanglingEdge    `json:"dangling,omitempty"`
}

type Stats struct {
	Acts           int `json:"acts"`
	Relationships  int `json:"relationships"`
	Participations int `json:"participations"`
	Dangling       int `json:"dangling"`
}

func NewStore(shards int) *Store {
	return &Store{
		acts:     newShardedMap[domain.ActID, *domain.Act](shards),
		rels:     newShardedMap[domain.RelationshipID, *domain.ActRelationship](shards),
		parts:    newShardedMap[domain.ParticipationID, *domain.Participation](shards),
		out:      newShardedMap[domain.ActID, []entry[domain.RelationshipID]](shards),
		in:       newShardedMap[domain.ActID, []entry[domain.RelationshipID]](shards),
		byAct:    newShardedMap[domain.ActID, []entry[domain.ParticipationID]](shards),
		dangling: newShardedMap[domain.RelationshipID, *domain.DanglingEdge](shards),
		ids:      &Allocator{},
	}
}

func (s *Store) IDs() *Allocator { return s.ids }

// Read runs fn against a state where every commit is either fully visible or
// not at all. fn must not commit, Clone or Load.
func (s *Store) Read(fn func()) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	fn()
}

func (s *Store) Act(id domain.ActID) (domain.Act, bool) {
	a, ok := s.acts.get(id)
	if !ok {
		return domain.Act{}, false
	}
	return a.Clone(), true
}

func (s *Store) Relationship(id domain.RelationshipID) (domain.ActRelationship, bool) {
	r, ok := s.rels.get(id)
	if !ok {
		return domain.ActRelationship{}, false
	}
	return *r, true
}

func (s *Store) Participation(id domain.ParticipationID) (domain.Participation, bool) {
	p, ok := s.parts.get(id)
	if !ok {
		return domain.Participation{}, false
	}
	return *p, true
}

func (s *Store) Dangling(id domain.RelationshipID) (domain.DanglingEdge, bool) {
	d, ok := s.dangling.get(id)
	if !ok {
		return domain.DanglingEdge{}, false
	}
	return *d, true
}

// Outbound returns the relationships owned by id in creation order.
func (s *Store) Outbound(id domain.ActID) []domain.ActRelationship {
	idx, _ := s.out.get(id)
	return s.resolveRels(idx, func(r *domain.ActRelationship) bool { return r.SourceActID == id })
}

// Inbound returns the relationships targeting id in creation order. The
// target need not exist: edges left behind by a deleted act are included.
func (s *Store) Inbound(id domain.ActID) []domain.ActRelationship {
	idx, _ := s.in.get(id)
	return s.resolveRels(idx, func(r *domain.ActRelationship) bool { return r.TargetActID == id })
}

func (s *Store) resolveRels(idx []entry[domain.RelationshipID], keep func(*domain.ActRelationship) bool) []domain.ActRelationship {
	out := make([]domain.ActRelationship, 0, len(idx))
	for _, e := range idx {
		r, ok := s.rels.get(e.id)
		if !ok || !keep(r) {
			continue
		}
		out = append(out, *r)
	}
	return out
}

// Participations returns the participations of id in attachment order.
func (s *Store) Participations(id domain.ActID) []domain.Participation {
	idx, _ := s.byAct.get(id)
	out := make([]domain.Participation, 0, len(idx))
	for _, e := range idx {
		p, ok := s.parts.get(e.id)
		if !ok || p.ActID != id {
			continue
		}
		out = append(out, *p)
	}
	return out
}

func (s *Store) AllActs() []domain.Act {
	var out []domain.Act
	s.acts.each(func(_ domain.ActID, a *domain.Act) { out = append(out, a.Clone()) })
	slices.SortFunc(out, func(a, b domain.Act) int { return CompareIDs(string(a.ID), string(b.ID)) })
	return out
}

func (s *Store) AllRelationships() []domain.ActRelationship {
	var out []domain.ActRelationship
	s.rels.each(func(_ domain.RelationshipID, r *domain.ActRelationship) { out = append(out, *r) })
	slices.SortFunc(out, func(a, b domain.ActRelationship) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out
}

func (s *Store) AllParticipations() []domain.Participation {
	var out []domain.Participation
	s.parts.each(func(_ domain.ParticipationID, p *domain.Participation) { out = append(out, *p) })
	slices.SortFunc(out, func(a, b domain.Participation) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out
}

func (s *Store) DanglingEdges() []domain.DanglingEdge {
	var out []domain.DanglingEdge
	s.dangling.each(func(_ domain.RelationshipID, d *domain.DanglingEdge) { out = append(out, *d) })
	slices.SortFunc(out, func(a, b domain.DanglingEdge) int {
		return CompareIDs(string(a.RelationshipID), string(b.RelationshipID))
	})
	return out
}

func (s *Store) Stats() Stats {
	return Stats{
		Acts:           s.acts.len(),
		Relationships:  s.rels.len(),
		Participations: s.parts.len(),
		Dangling:       s.dangling.len(),
	}
}

// Clone returns a consistent point-in-time copy of the store. Committed
// records are shared, not copied.
func (s *Store) Clone() *Store {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return &Store{
		acts:     s.acts.clone(),
		rels:     s.rels.clone(),
		parts:    s.parts.clone(),
		out:      s.out.clone(),
		in:       s.in.clone(),
		byAct:    s.byAct.clone(),
		dangling: s.dangling.clone(),
		ids:      s.ids,
	}
}

// Export returns a consistent snapshot of the whole graph.
func (s *Store) Export() Snapshot {
	c := s.Clone()
	return Snapshot{
		Acts:           c.AllActs(),
		Relationships:  c.AllRelationships(),
		Participations: c.AllParticipations(),
		Dangling:       c.DanglingEdges(),
	}
}

// Load replaces the store content with snap. Nothing is validated here.
func (s *Store) Load(snap Snapshot) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	for _, m := range []interface{ reset() }{s.acts, s.rels, s.parts, s.out, s.in, s.byAct, s.dangling} {
		m.reset()
	}
	for i := range snap.Acts {
		a := snap.Acts[i].Clone()
		s.acts.set(a.ID, &a)
	}
	for i := range snap.Relationships {
		r := snap.Relationships[i]
		s.rels.set(r.ID, &r)
		s.out.update(r.SourceActID, insertEntry(r.Sequence, r.ID))
		s.in.update(r.TargetActID, insertEntry(r.Sequence, r.ID))
	}
	for i := range snap.Participations {
		p := snap.Participations[i]
		s.parts.set(p.ID, &p)
		s.byAct.update(p.ActID, insertEntry(p.Sequence, p.ID))
	}
	for i := range snap.Dangling {
		d := snap.Dangling[i]
		s.dangling.set(d.RelationshipID, &d)
	}
	s.ids.observe(snap)
}

func insertEntry[K ~string](seq uint64, id K) func([]entry[K], bool) ([]entry[K], bool) {
	return func(cur []entry[K], _ bool) ([]entry[K], bool) {
		i, found := slices.BinarySearchFunc(cur, seq, func(e entry[K], s uint64) int { return cmp.Compare(e.seq, s) })
		if found && cur[i].id == id {
			return cur, true
		}
		next := make([]entry[K], 0, len(cur)+1)
		next = append(next, cur[:i]...)
		next = append(next, entry[K]{seq: seq, id: id})
		next = append(next, cur[i:]...)
		return next, true
	}
}

func removeEntry[K ~string](id K) func([]entry[K], bool) ([]entry[K], bool) {
	return func(cur []entry[K], _ bool) ([]entry[K], bool) {
		next := make([]entry[K], 0, len(cur))
		for _, e := range cur {
			if e.id != id {
				next = append(next, e)
			}
		}
		return next, len(next) > 0
	}
}

// CompareIDs orders engine ids numerically within a prefix ("act-2" before
// "act-10").
func CompareIDs(a, b string) int {
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}
