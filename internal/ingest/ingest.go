package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"actgraph/internal/domain"
	"actgraph/internal/engine"
	"actgraph/internal/metrics"
)

// Mutator is the slice of the engine a transmission can drive.
type Mutator interface {
	CreateAct(ctx context.Context, in domain.NewAct) (domain.Act, error)
	UpdateAttributes(ctx context.Context, id domain.ActID, patch domain.ActPatch) (domain.Act, error)
	SetStatus(ctx context.Context, id domain.ActID, status domain.Status) (domain.Act, error)
	Supersede(ctx context.Context, prior, replacement domain.ActID, status domain.Status) (domain.ActRelationship, error)
	DeleteAct(ctx context.Context, id domain.ActID, opts engine.DeleteOptions) (engine.DeleteResult, error)
	Connect(ctx context.Context, c domain.Connection) (domain.ActRelationship, error)
	Disconnect(ctx context.Context, id domain.RelationshipID) error
	Repoint(ctx context.Context, id domain.RelationshipID, target domain.ActID) (domain.ActRelationship, error)
	Attach(ctx context.Context, a domain.Attachment) (domain.Participation, error)
	Detach(ctx context.Context, id domain.ParticipationID) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type Ingester struct {
	engine  Mutator
	acks    *AckStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	flight  singleflight.Group
}

type Option func(*Ingester)

// WithAckStore remembers acknowledgements so redelivered transmissions are
// answered without being applied twice.
func WithAckStore(s *AckStore) Option {
	return func(i *Ingester) { i.acks = s }
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) { i.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingester) { i.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingester) { i.now = now }
}

func New(m Mutator, opts ...Option) *Ingester {
	i := &Ingester{engine: m, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	return i
}

// Apply runs the payload of t in order and acknowledges it. Each mutation
// commits or fails on its own; later mutations still run after a failure.
// Concurrent deliveries of the same transmission id share one application.
func (i *Ingester) Apply(ctx context.Context, t Transmission) (Acknowledgement, error) {
	if err := validate.Struct(t); err != nil {
		ack := i.reject(t, err)
		i.metrics.IncrementTransmission(string(ack.TypeCode))
		return ack, nil
	}
	v, err, _ := i.flight.Do(t.ID, func() (any, error) {
		if i.acks != nil {
			prev, ok, err := i.acks.Lookup(ctx, t.ID)
			if err != nil {
				return Acknowledgement{}, err
			}
			if ok {
				i.logger.InfoContext(ctx, "transmission redelivered", "transmission", t.ID, "ack", prev.ID)
				return prev, nil
			}
		}
		ack := i.apply(ctx, t)
		if i.acks != nil {
			if err := i.acks.Save(ctx, t, ack); err != nil {
				return Acknowledgement{}, err
			}
		}
		i.metrics.IncrementTransmission(string(ack.TypeCode))
		return ack, nil
	})
	if err != nil {
		return Acknowledgement{}, fmt.Errorf("transmission %s: %w", t.ID, err)
	}
	return v.(Acknowledgement), nil
}

func (i *Ingester) newAck(t Transmission) Acknowledgement {
	return Acknowledgement{
		ID:           uuid.NewString(),
		Acknowledges: t.ID,
		TypeCode:     AckAccept,
		CreatedAt:    i.now().UTC(),
	}
}

func (i *Ingester) reject(t Transmission, err error) Acknowledgement {
	ack := i.newAck(t)
	ack.TypeCode = AckReject
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			ack.Details = append(ack.Details, Detail{
				TypeCode: DetailError,
				Code:     "InvalidEnvelope",
				Note:     fmt.Sprintf("failed %q validation", fe.Tag()),
				Location: fe.Namespace(),
			})
		}
	} else {
		ack.Details = append(ack.Details, Detail{TypeCode: DetailError, Code: "InvalidEnvelope", Note: err.Error()})
	}
	i.logger.Info("transmission rejected", "transmission", t.ID, "details", len(ack.Details))
	return ack
}

func (i *Ingester) apply(ctx context.Context, t Transmission) Acknowledgement {
	ack := i.newAck(t)
	refs := map[string]string{}
	applied := 0
	for n, m := range t.Payload {
		loc := fmt.Sprintf("payload[%d]", n)
		id, warnings, err := i.applyOne(ctx, m, refs)
		if err != nil {
			ack.Details = append(ack.Details, errorDetails(err, loc)...)
			continue
		}
		applied++
		if m.Ref != "" && id != "" {
			refs[m.Ref] = id
		}
		for _, w := range warnings {
			ack.Details = append(ack.Details, Detail{TypeCode: DetailWarning, Code: string(w.Kind), Note: w.Message, Location: loc})
		}
	}
	if ack.Errors() > 0 {
		ack.TypeCode = AckError
	}
	ack.Details = append(ack.Details, Detail{
		TypeCode: DetailInfo,
		Code:     "Applied",
		Note:     fmt.Sprintf("%d of %d mutations applied", applied, len(t.Payload)),
	})
	if len(refs) > 0 {
		ack.Refs = refs
	}
	i.logger.InfoContext(ctx, "transmission applied",
		"transmission", t.ID,
		"interaction", t.InteractionID,
		"ack", ack.TypeCode,
		"applied", applied,
		"mutations", len(t.Payload),
	)
	return ack
}

var errUnknownRef = errors.New("unknown ref")

// applyOne runs m and returns the id of anything it created.
func (i *Ingester) applyOne(ctx context.Context, m Mutation, refs map[string]string) (string, []domain.Violation, error) {
	resolve := func(s string) (string, error) {
		if !strings.HasPrefix(s, "$") {
			return s, nil
		}
		id, ok := refs[s]
		if !ok {
			return "", fmt.Errorf("%s: %w", s, errUnknownRef)
		}
		return id, nil
	}
	var ids [5]string
	for n, raw := range []string{m.ActID, m.SourceActID, m.TargetActID, m.RelationshipID, m.ParticipationID} {
		id, err := resolve(raw)
		if err != nil {
			return "", nil, err
		}
		ids[n] = id
	}
	actID, srcID, tgtID, relID, partID := domain.ActID(ids[0]), domain.ActID(ids[1]), domain.ActID(ids[2]), domain.RelationshipID(ids[3]), domain.ParticipationID(ids[4])

	switch m.Op {
	case OpCreateAct:
		a, err := i.engine.CreateAct(ctx, *m.Act)
		return string(a.ID), nil, err
	case OpUpdateAttributes:
		_, err := i.engine.UpdateAttributes(ctx, actID, *m.Patch)
		return "", nil, err
	case OpSetStatus:
		_, err := i.engine.SetStatus(ctx, actID, m.Status)
		return "", nil, err
	case OpSupersede:
		replacement, err := resolve(m.ReplacementID)
		if err != nil {
			return "", nil, err
		}
		r, err := i.engine.Supersede(ctx, actID, domain.ActID(replacement), m.Status)
		return string(r.ID), nil, err
	case OpDeleteAct:
		res, err := i.engine.DeleteAct(ctx, actID, engine.DeleteOptions{CascadeInbound: m.CascadeInbound})
		return "", res.Warnings, err
	case OpConnect:
		r, err := i.engine.Connect(ctx, domain.Connection{
			SourceActID: srcID,
			TargetActID: tgtID,
			TypeCode:    m.TypeCode,
			Conductible: m.Conductible,
		})
		return string(r.ID), nil, err
	case OpDisconnect:
		return "", nil, i.engine.Disconnect(ctx, relID)
	case OpRepoint:
		_, err := i.engine.Repoint(ctx, relID, tgtID)
		return "", nil, err
	case OpAttach:
		a := domain.Attachment{ActID: actID, RoleID: domain.RoleID(m.RoleID), TypeCode: m.TypeCode}
		if m.Time != nil {
			a.Time = *m.Time
		}
		p, err := i.engine.Attach(ctx, a)
		return string(p.ID), nil, err
	case OpDetach:
		return "", nil, i.engine.Detach(ctx, partID)
	}
	return "", nil, fmt.Errorf("unsupported op %q", m.Op)
}

// errorDetails turns a failed mutation into E details, one per violation.
func errorDetails(err error, loc string) []Detail {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		out := make([]Detail, 0, len(verr.Violations))
		for _, v := range verr.Violations {
			out = append(out, Detail{TypeCode: DetailError, Code: string(v.Kind), Note: v.Message, Location: loc})
		}
		return out
	}
	code := "InternalError"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = "NotFound"
	case errors.Is(err, domain.ErrContentionTimeout):
		code = "ContentionTimeout"
	case errors.Is(err, errUnknownRef):
		code = "UnknownRef"
	}
	return []Detail{{TypeCode: DetailError, Code: code, Note: err.Error(), Location: loc}}
}
