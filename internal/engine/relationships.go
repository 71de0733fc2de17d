package engine

import (
	"context"
	"iter"

	"actgraph/internal/domain"
	"actgraph/internal/events"
	"actgraph/internal/graph"
	"actgraph/internal/validate"
)

// Connect adds a relationship owned by its source act.
func (e *Engine) Connect(ctx context.Context, c domain.Connection) (domain.ActRelationship, error) {
	plan := func() (lockPlan, error) {
		acts := []domain.ActID{c.SourceActID, c.TargetActID}
		if c.TypeCode == domain.HasComponent {
			acts = append(acts, validate.Descendants(e.store, c.TargetActID)...)
		}
		return lockPlan{acts: acts}, nil
	}
	var rel domain.ActRelationship
	_, err := e.mutate(ctx, "connect", plan, func(txn *graph.Txn) (staged, error) {
		rel = domain.ActRelationship{
			ID:          e.store.IDs().RelationshipID(),
			SourceActID: c.SourceActID,
			TargetActID: c.TargetActID,
			TypeCode:    c.TypeCode,
			Conductible: c.Conductible,
			Sequence:    e.store.IDs().Sequence(),
			CreatedAt:   e.clock(),
		}
		txn.PutRelationship(rel)
		return staged{
			neighborhood: validate.Neighborhood{Relationships: []domain.RelationshipID{rel.ID}},
			event: events.Event{
				Type:       events.RelationshipConnected,
				EntityKind: "relationship",
				EntityID:   string(rel.ID),
				Payload: events.EventPayload{
					"source":      rel.SourceActID,
					"target":      rel.TargetActID,
					"type_code":   rel.TypeCode,
					"conductible": rel.Conductible,
				},
			},
		}, nil
	})
	if err != nil {
		return domain.ActRelationship{}, err
	}
	return rel, nil
}

// planRelationship locks both endpoints of a committed relationship plus any
// extra acts. The plan changes if the relationship is repointed meanwhile.
func (e *Engine) planRelationship(id domain.RelationshipID, extra func(domain.ActRelationship) []domain.ActID) func() (lockPlan, error) {
	return func() (lockPlan, error) {
		r, ok := e.store.Relationship(id)
		if !ok {
			return lockPlan{}, domain.NotFound("relationship", id)
		}
		acts := []domain.ActID{r.SourceActID, r.TargetActID}
		if extra != nil {
			acts = append(acts, extra(r)...)
		}
		return lockPlan{acts: acts}, nil
	}
}

// Disconnect removes a relationship. A dangling record for it goes too.
func (e *Engine) Disconnect(ctx context.Context, id domain.RelationshipID) error {
	_, err := e.mutate(ctx, "disconnect", e.planRelationship(id, nil), func(txn *graph.Txn) (staged, error) {
		r, ok := txn.Relationship(id)
		if !ok {
			return staged{}, domain.NotFound("relationship", id)
		}
		txn.DeleteRelationship(id)
		return staged{
			neighborhood: validate.Neighborhood{Relationships: []domain.RelationshipID{id}},
			event: events.Event{
				Type:       events.RelationshipDisconnected,
				EntityKind: "relationship",
				EntityID:   string(id),
				Payload:    events.EventPayload{"source": r.SourceActID, "target": r.TargetActID, "type_code": r.TypeCode},
			},
		}, nil
	})
	return err
}

// Repoint moves a relationship to a new target under the same rules as
// Connect. It is how callers resolve a dangling edge.
func (e *Engine) Repoint(ctx context.Context, id domain.RelationshipID, target domain.ActID) (domain.ActRelationship, error) {
	extra := func(r domain.ActRelationship) []domain.ActID {
		if r.IsComposition() {
			return validate.Descendants(e.store, target)
		}
		return []domain.ActID{target}
	}
	var moved domain.ActRelationship
	_, err := e.mutate(ctx, "repoint", e.planRelationship(id, extra), func(txn *graph.Txn) (staged, error) {
		r, ok := txn.Relationship(id)
		if !ok {
			return staged{}, domain.NotFound("relationship", id)
		}
		from := r.TargetActID
		moved = r
		moved.TargetActID = target
		txn.PutRelationship(moved)
		txn.ResolveDangling(id)
		return staged{
			neighborhood: validate.Neighborhood{Relationships: []domain.RelationshipID{id}},
			event: events.Event{
				Type:       events.RelationshipRepointed,
				EntityKind: "relationship",
				EntityID:   string(id),
				Payload:    events.EventPayload{"from": from, "to": target},
			},
		}, nil
	})
	if err != nil {
		return domain.ActRelationship{}, err
	}
	return moved, nil
}

// Relationship returns one relationship by id.
func (e *Engine) Relationship(ctx context.Context, id domain.RelationshipID) (domain.ActRelationship, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActRelationship{}, err
	}
	var (
		r  domain.ActRelationship
		ok bool
	)
	e.store.Read(func() { r, ok = e.store.Relationship(id) })
	if !ok {
		return domain.ActRelationship{}, domain.NotFound("relationship", id)
	}
	return r, nil
}

// Outbound yields the relationships owned by id in creation order. Each
// range over the sequence reads the graph afresh.
func (e *Engine) Outbound(ctx context.Context, id domain.ActID) iter.Seq[domain.ActRelationship] {
	return e.relSeq(ctx, func() []domain.ActRelationship { return e.store.Outbound(id) })
}

// Inbound yields the relationships targeting id in creation order, including
// dangling ones left behind when id was deleted.
func (e *Engine) Inbound(ctx context.Context, id domain.ActID) iter.Seq[domain.ActRelationship] {
	return e.relSeq(ctx, func() []domain.ActRelationship { return e.store.Inbound(id) })
}

func (e *Engine) relSeq(ctx context.Context, load func() []domain.ActRelationship) iter.Seq[domain.ActRelationship] {
	return func(yield func(domain.ActRelationship) bool) {
		var rels []domain.ActRelationship
		e.store.Read(func() { rels = load() })
		for _, r := range rels {
			if ctx.Err() != nil || !yield(r) {
				return
			}
		}
	}
}

// DanglingEdges lists relationships whose target was deleted and which the
// caller has not yet repointed or disconnected.
func (e *Engine) DanglingEdges(ctx context.Context) []domain.DanglingEdge {
	var out []domain.DanglingEdge
	e.store.Read(func() { out = e.store.DanglingEdges() })
	return out
}
