package engine

import (
	"context"
	"fmt"

	"actgraph/internal/domain"
	"actgraph/internal/events"
	"actgraph/internal/graph"
	"actgraph/internal/validate"
)

// CreateAct adds a new act. ClassCode and MoodCode are fixed from here on.
func (e *Engine) CreateAct(ctx context.Context, in domain.NewAct) (domain.Act, error) {
	var act domain.Act
	_, err := e.mutate(ctx, "create_act", nil, func(txn *graph.Txn) (staged, error) {
		now := e.clock()
		act = domain.Act{
			ID:                  e.store.IDs().ActID(),
			ClassCode:           in.ClassCode,
			MoodCode:            in.MoodCode,
			Code:                in.Code,
			ActionNegationInd:   in.ActionNegationInd,
			IsCriterionInd:      in.IsCriterionInd,
			StatusCode:          in.StatusCode,
			Title:               in.Title,
			Text:                in.Text,
			RepeatNumber:        in.RepeatNumber,
			Interruptible:       boolOr(in.Interruptible, true),
			Independent:         boolOr(in.Independent, true),
			EffectiveTime:       in.EffectiveTime,
			ActivityTime:        in.ActivityTime,
			AvailabilityTime:    in.AvailabilityTime,
			PriorityCodes:       in.PriorityCodes,
			ConfidentialityCode: in.ConfidentialityCode,
			ReasonCodes:         in.ReasonCodes,
			LanguageCode:        in.LanguageCode,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if act.StatusCode == "" {
			act.StatusCode = domain.StatusNew
		}
		act = act.Clone()
		txn.PutAct(act)
		return staged{
			neighborhood: validate.Neighborhood{Acts: []domain.ActID{act.ID}},
			event: events.Event{
				Type:       events.ActCreated,
				EntityKind: "act",
				EntityID:   string(act.ID),
				Payload: events.EventPayload{
					"class_code": act.ClassCode.String(),
					"mood_code":  act.MoodCode.String(),
					"status":     act.StatusCode,
				},
			},
		}, nil
	})
	if err != nil {
		return domain.Act{}, err
	}
	return act, nil
}

// UpdateAttributes applies a partial update. Any attempt to change moodCode
// or classCode is rejected; restating the current value is accepted.
func (e *Engine) UpdateAttributes(ctx context.Context, id domain.ActID, patch domain.ActPatch) (domain.Act, error) {
	var updated domain.Act
	_, err := e.mutate(ctx, "update_attributes", e.planActs(id), func(txn *graph.Txn) (staged, error) {
		cur, ok := txn.Act(id)
		if !ok {
			return staged{}, domain.NotFound("act", id)
		}
		var immutable []domain.Violation
		if patch.MoodCode != nil && !patch.MoodCode.Equal(cur.MoodCode) {
			immutable = append(immutable, immutableViolation(id, "moodCode", cur.MoodCode, *patch.MoodCode))
		}
		if patch.ClassCode != nil && !patch.ClassCode.Equal(cur.ClassCode) {
			immutable = append(immutable, immutableViolation(id, "classCode", cur.ClassCode, *patch.ClassCode))
		}
		if len(immutable) > 0 {
			return staged{}, domain.Reject(immutable...)
		}
		updated = cur.Clone()
		patch.Apply(&updated)
		updated.UpdatedAt = e.clock()
		txn.PutAct(updated)
		return staged{
			neighborhood: validate.Neighborhood{Acts: []domain.ActID{id}},
			event: events.Event{
				Type:       events.ActUpdated,
				EntityKind: "act",
				EntityID:   string(id),
				Payload:    events.EventPayload{"patch": patch},
			},
		}, nil
	})
	if err != nil {
		return domain.Act{}, err
	}
	return updated, nil
}

func immutableViolation(id domain.ActID, field string, cur, next domain.Code) domain.Violation {
	return domain.Violation{
		Kind:     domain.KindImmutableField,
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf("%s is immutable (current %s, requested %s)", field, cur, next),
		ActIDs:   []domain.ActID{id},
	}
}

// SetStatus moves an act through the status state machine.
func (e *Engine) SetStatus(ctx context.Context, id domain.ActID, status domain.Status) (domain.Act, error) {
	var updated domain.Act
	_, err := e.mutate(ctx, "set_status", e.planActs(id), func(txn *graph.Txn) (staged, error) {
		cur, ok := txn.Act(id)
		if !ok {
			return staged{}, domain.NotFound("act", id)
		}
		if err := checkStatus(id, cur.StatusCode, status); err != nil {
			return staged{}, err
		}
		updated = cur.Clone()
		updated.StatusCode = status
		updated.UpdatedAt = e.clock()
		txn.PutAct(updated)
		return staged{
			neighborhood: validate.Neighborhood{Acts: []domain.ActID{id}},
			event: events.Event{
				Type:       events.ActStatus,
				EntityKind: "act",
				EntityID:   string(id),
				Payload:    events.EventPayload{"from": cur.StatusCode, "to": status},
			},
		}, nil
	})
	if err != nil {
		return domain.Act{}, err
	}
	return updated, nil
}

func checkStatus(id domain.ActID, from, to domain.Status) error {
	if !to.Valid() {
		return domain.Reject(domain.Violation{
			Kind:     domain.KindInvalidAttribute,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("statusCode %q is not one of %v", to, domain.Statuses()),
			ActIDs:   []domain.ActID{id},
		})
	}
	return domain.EnsureTransition(id, from, to)
}

// Get returns a snapshot of the act.
func (e *Engine) Get(ctx context.Context, id domain.ActID) (domain.Act, error) {
	if err := ctx.Err(); err != nil {
		return domain.Act{}, err
	}
	var (
		act domain.Act
		ok  bool
	)
	e.store.Read(func() { act, ok = e.store.Act(id) })
	if !ok {
		return domain.Act{}, domain.NotFound("act", id)
	}
	return act, nil
}

// Supersede retires prior (to cancelled or aborted) and records that
// replacement replaces it, in one step. Acts are never dropped to supersede.
func (e *Engine) Supersede(ctx context.Context, prior, replacement domain.ActID, status domain.Status) (domain.ActRelationship, error) {
	if status == "" {
		status = domain.StatusCancelled
	}
	var rel domain.ActRelationship
	_, err := e.mutate(ctx, "supersede", e.planActs(prior, replacement), func(txn *graph.Txn) (staged, error) {
		if status != domain.StatusCancelled && status != domain.StatusAborted {
			return staged{}, domain.Reject(domain.Violation{
				Kind:     domain.KindInvalidAttribute,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("superseded acts end as cancelled or aborted, not %s", status),
				ActIDs:   []domain.ActID{prior},
			})
		}
		cur, ok := txn.Act(prior)
		if !ok {
			return staged{}, domain.NotFound("act", prior)
		}
		if err := checkStatus(prior, cur.StatusCode, status); err != nil {
			return staged{}, err
		}
		retired := cur.Clone()
		retired.StatusCode = status
		retired.UpdatedAt = e.clock()
		txn.PutAct(retired)
		rel = domain.ActRelationship{
			ID:          e.store.IDs().RelationshipID(),
			SourceActID: replacement,
			TargetActID: prior,
			TypeCode:    domain.Replaces,
			Sequence:    e.store.IDs().Sequence(),
			CreatedAt:   e.clock(),
		}
		txn.PutRelationship(rel)
		return staged{
			neighborhood: validate.Neighborhood{
				Acts:          []domain.ActID{prior},
				Relationships: []domain.RelationshipID{rel.ID},
			},
			event: events.Event{
				Type:       events.ActSuperseded,
				EntityKind: "act",
				EntityID:   string(prior),
				Payload: events.EventPayload{
					"replacement":  replacement,
					"relationship": rel.ID,
					"status":       status,
				},
			},
		}, nil
	})
	if err != nil {
		return domain.ActRelationship{}, err
	}
	return rel, nil
}

// DeleteOptions controls what happens to edges pointing at a deleted act.
type DeleteOptions struct {
	// CascadeInbound removes inbound relationships instead of leaving them
	// as dangling edges for their owners to resolve.
	CascadeInbound bool
}

type DeleteResult struct {
	ActID                 domain.ActID             `json:"act_id"`
	RemovedRelationships  []domain.RelationshipID  `json:"removed_relationships"`
	RemovedParticipations []domain.ParticipationID `json:"removed_participations"`
	Dangling              []domain.DanglingEdge    `json:"dangling"`
	Warnings              []domain.Violation       `json:"warnings"`
}

// DeleteAct removes an act with its outbound relationships and its
// participations. Inbound relationships become dangling edges unless
// opts.CascadeInbound is set.
func (e *Engine) DeleteAct(ctx context.Context, id domain.ActID, opts DeleteOptions) (DeleteResult, error) {
	out := DeleteResult{ActID: id}
	plan := func() (lockPlan, error) {
		acts := []domain.ActID{id}
		for _, r := range e.store.Outbound(id) {
			acts = append(acts, r.TargetActID)
		}
		for _, r := range e.store.Inbound(id) {
			acts = append(acts, r.SourceActID)
		}
		return lockPlan{acts: acts}, nil
	}
	res, err := e.mutate(ctx, "delete_act", plan, func(txn *graph.Txn) (staged, error) {
		if _, ok := txn.Act(id); !ok {
			return staged{}, domain.NotFound("act", id)
		}
		nb := validate.Neighborhood{Acts: []domain.ActID{id}}
		for _, r := range txn.Outbound(id) {
			txn.DeleteRelationship(r.ID)
			out.RemovedRelationships = append(out.RemovedRelationships, r.ID)
			nb.Relationships = append(nb.Relationships, r.ID)
		}
		for _, r := range txn.Inbound(id) {
			nb.Relationships = append(nb.Relationships, r.ID)
			if opts.CascadeInbound {
				txn.DeleteRelationship(r.ID)
				out.RemovedRelationships = append(out.RemovedRelationships, r.ID)
				continue
			}
			d := domain.DanglingEdge{
				RelationshipID: r.ID,
				SourceActID:    r.SourceActID,
				MissingActID:   id,
				TypeCode:       r.TypeCode,
				DetectedAt:     e.clock(),
			}
			txn.MarkDangling(d)
			out.Dangling = append(out.Dangling, d)
		}
		for _, p := range txn.Participations(id) {
			txn.DeleteParticipation(p.ID)
			out.RemovedParticipations = append(out.RemovedParticipations, p.ID)
			nb.Participations = append(nb.Participations, p.ID)
		}
		txn.DeleteAct(id)
		return staged{
			neighborhood: nb,
			event: events.Event{
				Type:       events.ActDeleted,
				EntityKind: "act",
				EntityID:   string(id),
				Payload: events.EventPayload{
					"cascade_inbound":        opts.CascadeInbound,
					"removed_relationships":  out.RemovedRelationships,
					"removed_participations": out.RemovedParticipations,
					"dangling":               len(out.Dangling),
				},
			},
		}, nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	out.Warnings = res.Warnings()
	return out, nil
}

// planActs locks a fixed set of acts.
func (e *Engine) planActs(ids ...domain.ActID) func() (lockPlan, error) {
	return func() (lockPlan, error) {
		return lockPlan{acts: ids}, nil
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
