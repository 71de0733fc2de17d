package graph

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"actgraph/internal/domain"
)

const (
	actPrefix  = "act-"
	relPrefix  = "rel-"
	ptcpPrefix = "ptcp-"
)

// Allocator hands out identifiers scoped to the lifetime of one graph.
type Allocator struct {
	acts  atomic.Uint64
	rels  atomic.Uint64
	parts atomic.Uint64
	seq   atomic.Uint64
}

func (a *Allocator) ActID() domain.ActID {
	return domain.ActID(fmt.Sprintf("%s%d", actPrefix, a.acts.Add(1)))
}

func (a *Allocator) RelationshipID() domain.RelationshipID {
	return domain.RelationshipID(fmt.Sprintf("%s%d", relPrefix, a.rels.Add(1)))
}

func (a *Allocator) ParticipationID() domain.ParticipationID {
	return domain.ParticipationID(fmt.Sprintf("%s%d", ptcpPrefix, a.parts.Add(1)))
}

// Sequence returns the next creation sequence number, shared by
// relationships and participations.
func (a *Allocator) Sequence() uint64 { return a.seq.Add(1) }

// observe advances the counters past ids and sequences loaded from a
// snapshot so new ids never collide with imported ones.
func (a *Allocator) observe(s Snapshot) {
	for _, act := range s.Acts {
		raise(&a.acts, suffix(string(act.ID), actPrefix))
	}
	for _, r := range s.Relationships {
		raise(&a.rels, suffix(string(r.ID), relPrefix))
		raise(&a.seq, r.Sequence)
	}
	for _, p := range s.Participations {
		raise(&a.parts, suffix(string(p.ID), ptcpPrefix))
		raise(&a.seq, p.Sequence)
	}
}

func suffix(id, prefix string) uint64 {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func raise(c *atomic.Uint64, v uint64) {
	for {
		cur := c.Load()
		if v <= cur || c.CompareAndSwap(cur, v) {
			return
		}
	}
}
