package engine

import (
	"cmp"
	"context"
	"iter"
	"slices"

	"actgraph/internal/domain"
	"actgraph/internal/events"
	"actgraph/internal/graph"
	"actgraph/internal/validate"
)

// Attach links an act to an external role. The role id is not resolved.
func (e *Engine) Attach(ctx context.Context, a domain.Attachment) (domain.Participation, error) {
	var p domain.Participation
	_, err := e.mutate(ctx, "attach", e.planActs(a.ActID), func(txn *graph.Txn) (staged, error) {
		at := a.Time
		if at.IsZero() {
			at = e.clock()
		}
		p = domain.Participation{
			ID:       e.store.IDs().ParticipationID(),
			ActID:    a.ActID,
			RoleID:   a.RoleID,
			TypeCode: a.TypeCode,
			Time:     at.UTC(),
			Sequence: e.store.IDs().Sequence(),
		}
		txn.PutParticipation(p)
		return staged{
			neighborhood: validate.Neighborhood{Participations: []domain.ParticipationID{p.ID}},
			event: events.Event{
				Type:       events.ParticipationAttached,
				EntityKind: "participation",
				EntityID:   string(p.ID),
				Payload:    events.EventPayload{"act": p.ActID, "role": p.RoleID, "type_code": p.TypeCode},
			},
		}, nil
	})
	if err != nil {
		return domain.Participation{}, err
	}
	return p, nil
}

// Detach removes a participation.
func (e *Engine) Detach(ctx context.Context, id domain.ParticipationID) error {
	plan := func() (lockPlan, error) {
		p, ok := e.store.Participation(id)
		if !ok {
			return lockPlan{}, domain.NotFound("participation", id)
		}
		return lockPlan{acts: []domain.ActID{p.ActID}}, nil
	}
	_, err := e.mutate(ctx, "detach", plan, func(txn *graph.Txn) (staged, error) {
		p, ok := txn.Participation(id)
		if !ok {
			return staged{}, domain.NotFound("participation", id)
		}
		txn.DeleteParticipation(id)
		return staged{
			neighborhood: validate.Neighborhood{Participations: []domain.ParticipationID{id}},
			event: events.Event{
				Type:       events.ParticipationDetached,
				EntityKind: "participation",
				EntityID:   string(id),
				Payload:    events.EventPayload{"act": p.ActID, "role": p.RoleID, "type_code": p.TypeCode},
			},
		}, nil
	})
	return err
}

// ForAct yields the participations of id ordered by participation time, then
// attachment order.
func (e *Engine) ForAct(ctx context.Context, id domain.ActID) iter.Seq[domain.Participation] {
	return func(yield func(domain.Participation) bool) {
		var parts []domain.Participation
		e.store.Read(func() { parts = e.store.Participations(id) })
		slices.SortStableFunc(parts, func(a, b domain.Participation) int {
			if c := a.Time.Compare(b.Time); c != 0 {
				return c
			}
			return cmp.Compare(a.Sequence, b.Sequence)
		})
		for _, p := range parts {
			if ctx.Err() != nil || !yield(p) {
				return
			}
		}
	}
}
