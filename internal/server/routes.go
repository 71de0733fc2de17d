package server

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"actgraph/internal/domain"
	"actgraph/internal/engine"
	"actgraph/internal/events"
	"actgraph/internal/ingest"
	"actgraph/internal/render"
)

type actPath struct {
	ID string `path:"id"`
}

type actBody struct {
	Body ActResponse `json:"body"`
}

type relationshipBody struct {
	Body domain.ActRelationship `json:"body"`
}

type relationshipsBody struct {
	Body []domain.ActRelationship `json:"body"`
}

func registerActs(api huma.API, e *engine.Engine, r *render.Renderer) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-act",
		Method:        http.MethodPost,
		Path:          "/acts",
		Summary:       "Create an act",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body ActRequest `json:"body"`
	}) (*actBody, error) {
		a, err := e.CreateAct(ctx, input.Body.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		return &actBody{Body: actResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-act",
		Method:      http.MethodGet,
		Path:        "/acts/{id}",
		Summary:     "Get an act",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actPath) (*actBody, error) {
		a, err := e.Get(ctx, domain.ActID(input.ID))
		if err != nil {
			return nil, handleError(err)
		}
		return &actBody{Body: actResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-act",
		Method:      http.MethodPatch,
		Path:        "/acts/{id}",
		Summary:     "Update mutable act attributes",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ActPatchRequest `json:"body"`
	}) (*actBody, error) {
		a, err := e.UpdateAttributes(ctx, domain.ActID(input.ID), input.Body.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		return &actBody{Body: actResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-act",
		Method:      http.MethodDelete,
		Path:        "/acts/{id}",
		Summary:     "Delete an act",
		Description: "Outbound relationships and participations go with the act. Inbound relationships become dangling edges unless cascade_inbound is set.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID             string `path:"id"`
		CascadeInbound bool   `query:"cascade_inbound"`
	}) (*struct {
		Body engine.DeleteResult `json:"body"`
	}, error) {
		res, err := e.DeleteAct(ctx, domain.ActID(input.ID), engine.DeleteOptions{CascadeInbound: input.CascadeInbound})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DeleteResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-act-status",
		Method:      http.MethodPost,
		Path:        "/acts/{id}/status",
		Summary:     "Move an act to a new status",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*actBody, error) {
		a, err := e.SetStatus(ctx, domain.ActID(input.ID), input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &actBody{Body: actResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "supersede-act",
		Method:        http.MethodPost,
		Path:          "/acts/{id}/supersede",
		Summary:       "Replace an act by another",
		Description:   "Links the replacement to the prior act with RPLC and closes the prior act.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SupersedeRequest `json:"body"`
	}) (*relationshipBody, error) {
		rel, err := e.Supersede(ctx, domain.ActID(input.ID), input.Body.ReplacementID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &relationshipBody{Body: rel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-outbound",
		Method:      http.MethodGet,
		Path:        "/acts/{id}/outbound",
		Summary:     "Outbound relationships in creation order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actPath) (*relationshipsBody, error) {
		id := domain.ActID(input.ID)
		if _, err := e.Get(ctx, id); err != nil {
			return nil, handleError(err)
		}
		return &relationshipsBody{Body: collect(e.Outbound(ctx, id))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-inbound",
		Method:      http.MethodGet,
		Path:        "/acts/{id}/inbound",
		Summary:     "Inbound relationships in creation order",
		Description: "Works for deleted acts too, so dangling edges pointing at them can be found.",
	}, func(ctx context.Context, input *actPath) (*relationshipsBody, error) {
		return &relationshipsBody{Body: collect(e.Inbound(ctx, domain.ActID(input.ID)))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-act-participations",
		Method:      http.MethodGet,
		Path:        "/acts/{id}/participations",
		Summary:     "Participations of an act in attach order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actPath) (*struct {
		Body []domain.Participation `json:"body"`
	}, error) {
		id := domain.ActID(input.ID)
		if _, err := e.Get(ctx, id); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Participation `json:"body"`
		}{Body: collect(e.ForAct(ctx, id))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "render-act",
		Method:      http.MethodGet,
		Path:        "/acts/{id}/text",
		Summary:     "Human-readable text of an act and what it includes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actPath) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		text, err := r.Text(ctx, domain.ActID(input.ID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "text/plain; charset=utf-8", Body: []byte(text + "\n")}, nil
	})
}

func registerRelationships(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "connect",
		Method:        http.MethodPost,
		Path:          "/relationships",
		Summary:       "Connect two acts",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body ConnectRequest `json:"body"`
	}) (*relationshipBody, error) {
		rel, err := e.Connect(ctx, domain.Connection{
			SourceActID: input.Body.SourceActID,
			TargetActID: input.Body.TargetActID,
			TypeCode:    input.Body.TypeCode,
			Conductible: input.Body.Conductible,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &relationshipBody{Body: rel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-relationship",
		Method:      http.MethodGet,
		Path:        "/relationships/{id}",
		Summary:     "Get a relationship",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actPath) (*relationshipBody, error) {
		rel, err := e.Relationship(ctx, domain.RelationshipID(input.ID))
		if err != nil {
			return nil, handleError(err)
		}
		return &relationshipBody{Body: rel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "disconnect",
		Method:        http.MethodDelete,
		Path:          "/relationships/{id}",
		Summary:       "Remove a relationship",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *actPath) (*struct{}, error) {
		if err := e.Disconnect(ctx, domain.RelationshipID(input.ID)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "repoint",
		Method:      http.MethodPost,
		Path:        "/relationships/{id}/repoint",
		Summary:     "Point a relationship at another target",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body RepointRequest `json:"body"`
	}) (*relationshipBody, error) {
		rel, err := e.Repoint(ctx, domain.RelationshipID(input.ID), input.Body.TargetActID)
		if err != nil {
			return nil, handleError(err)
		}
		return &relationshipBody{Body: rel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dangling",
		Method:      http.MethodGet,
		Path:        "/dangling",
		Summary:     "Relationships whose target act was deleted",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.DanglingEdge `json:"body"`
	}, error) {
		edges := e.DanglingEdges(ctx)
		if edges == nil {
			edges = []domain.DanglingEdge{}
		}
		return &struct {
			Body []domain.DanglingEdge `json:"body"`
		}{Body: edges}, nil
	})
}

func registerParticipations(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attach",
		Method:        http.MethodPost,
		Path:          "/participations",
		Summary:       "Attach a role to an act",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body AttachRequest `json:"body"`
	}) (*struct {
		Body domain.Participation `json:"body"`
	}, error) {
		p, err := e.Attach(ctx, input.Body.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participation `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "detach",
		Method:        http.MethodDelete,
		Path:          "/participations/{id}",
		Summary:       "Detach a participation",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *actPath) (*struct{}, error) {
		if err := e.Detach(ctx, domain.ParticipationID(input.ID)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAudit(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Validate the whole graph",
		Description: "Reports every violation, blocking or not, over a consistent snapshot. Mutations are not paused.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		report, err := e.Audit(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		vs := report.Violations
		if vs == nil {
			vs = []domain.Violation{}
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: AuditResponse{
			Violations: vs,
			Blocking:   report.Blocking(),
			Stats:      report.Stats,
			DurationMS: report.Duration.Milliseconds(),
			CheckedAt:  report.CheckedAt,
		}}, nil
	})
}

func registerTransmissions(api huma.API, ing *ingest.Ingester) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-transmission",
		Method:      http.MethodPost,
		Path:        "/transmissions",
		Summary:     "Apply a transmission envelope",
		Description: "Answers with an acknowledgement. AA: all applied, AE: some mutations failed, AR: envelope rejected and nothing applied.",
	}, func(ctx context.Context, input *struct {
		// Untagged so huma skips body schema checks; envelopes are checked by
		// the ingester's struct tags.
		RawBody []byte
	}) (*struct {
		Status int
		Body   ingest.Acknowledgement `json:"body"`
	}, error) {
		var t ingest.Transmission
		if err := json.Unmarshal(input.RawBody, &t); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid transmission json", map[string]any{"error": err.Error()})
		}
		ack, err := ing.Apply(ctx, t)
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if ack.TypeCode == ingest.AckReject {
			status = http.StatusBadRequest
		}
		return &struct {
			Status int
			Body   ingest.Acknowledgement `json:"body"`
		}{Status: status, Body: ack}, nil
	})
}

func registerEvents(api huma.API, reader *events.Reader) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List journal events",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"act,relationship,participation,graph"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if reader == nil {
			return nil, newAPIError(http.StatusNotFound, "journal_disabled", "the mutation journal is disabled", nil)
		}
		limit := normalizeLimit(input.Limit)
		var after int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			after = parsed
		}
		items, err := reader.List(ctx, events.Filter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			AfterID:    after,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, EventResponse{
				ID:         evt.ID,
				TS:         evt.TS,
				Type:       evt.Type,
				EntityKind: evt.EntityKind,
				EntityID:   evt.EntityID,
				ActorID:    evt.ActorID,
				Payload:    evt.Payload,
			})
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func collect[T any](seq iter.Seq[T]) []T {
	out := slices.Collect(seq)
	if out == nil {
		out = []T{}
	}
	return out
}
