package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"actgraph/internal/config"
	"actgraph/internal/domain"
	"actgraph/internal/events"
	"actgraph/internal/graph"
	"actgraph/internal/lock"
	"actgraph/internal/metrics"
	"actgraph/internal/terminology"
	"actgraph/internal/validate"
)

var tracer = otel.Tracer("actgraph.engine")

// maxReplans bounds how often a mutation re-reads its lock set after the
// graph moved under it before giving up with a contention timeout.
const maxReplans = 8

// Journal records accepted mutations before they become visible.
type Journal interface {
	Record(ctx context.Context, evt events.Event) error
}

type Engine struct {
	store     *graph.Store
	locks     *lock.Table
	validator *validate.Validator
	oracle    validate.Oracle
	journal   Journal
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// gate is held shared by every mutation and exclusively by Import.
	gate sync.RWMutex
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithOracle replaces the terminology table built from config.
func WithOracle(o validate.Oracle) Option {
	return func(e *Engine) { e.oracle = o }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine over an empty graph.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	e := &Engine{
		store: graph.NewStore(cfg.Engine.Shards),
		locks: lock.NewTable(cfg.Engine.LockTimeout),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.oracle == nil {
		cached, err := terminology.NewCached(
			terminology.NewTable(cfg.Terminology.Specializations, cfg.Terminology.AllowUnlisted),
			cfg.Terminology.CacheSize,
			terminology.WithObserver(e.metrics.ObserveOracleLookup),
		)
		if err != nil {
			return nil, err
		}
		e.oracle = cached
	}
	e.validator = validate.New(e.oracle,
		validate.WithDefinitionMoods(cfg.Moods.Definition...),
		validate.WithWorkers(cfg.Engine.AuditWorkers),
	)
	return e, nil
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// Validator exposes the rule set the engine enforces.
func (e *Engine) Validator() *validate.Validator { return e.validator }

// Oracle is the terminology source specialization checks consult.
func (e *Engine) Oracle() validate.Oracle { return e.oracle }

type actorKey struct{}

// WithActor tags ctx with the identity recorded in the journal.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func actorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "system"
}

// lockPlan names the latches a mutation needs, read from committed state.
// A COMP insertion locks its source plus everything its target reaches over
// COMP edges. That set cannot grow while held, since growing it needs a new
// COMP edge whose source is already in it, and two insertions that could
// close a cycle together each lock the other's source.
type lockPlan struct {
	acts []domain.ActID
}

func (p lockPlan) equal(o lockPlan) bool {
	a, b := slices.Clone(p.acts), slices.Clone(o.acts)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}

// staged is what a mutation hands back after writing into the transaction.
type staged struct {
	neighborhood validate.Neighborhood
	event        events.Event
}

// mutate runs one validate-then-commit cycle: take the latches named by plan
// (re-planning if the graph moved while waiting), stage the change, check the
// affected neighborhood and publish only if nothing blocks.
func (e *Engine) mutate(ctx context.Context, op string, plan func() (lockPlan, error), stage func(*graph.Txn) (staged, error)) (res domain.Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine."+op)
	defer span.End()
	defer func() {
		outcome := outcomeOf(err)
		e.metrics.ObserveMutation(op, outcome, start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}()

	e.gate.RLock()
	defer e.gate.RUnlock()

	release, err := e.acquire(ctx, op, plan)
	if err != nil {
		return domain.Result{}, err
	}
	defer release()

	txn := e.store.Begin()
	st, err := stage(txn)
	if err != nil {
		e.logRejection(ctx, op, err)
		return domain.Result{}, err
	}
	span.SetAttributes(attribute.String("entity.id", st.event.EntityID))

	res, err = e.validator.Incremental(ctx, txn, st.neighborhood)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%s: validate: %w", op, err)
	}
	for _, v := range res.Violations {
		e.metrics.IncrementViolation(string(v.Kind), "incremental")
	}
	if verr := res.Err(); verr != nil {
		e.logRejection(ctx, op, verr)
		return res, verr
	}

	if e.journal != nil {
		st.event.ActorID = actorFrom(ctx)
		if err := e.journal.Record(ctx, st.event); err != nil {
			return domain.Result{}, fmt.Errorf("%s: journal: %w", op, err)
		}
	}
	txn.Commit()
	e.logger.DebugContext(ctx, "mutation committed",
		"op", op,
		"entity", st.event.EntityID,
		"warnings", len(res.Violations),
	)
	return res, nil
}

func (e *Engine) acquire(ctx context.Context, op string, plan func() (lockPlan, error)) (func(), error) {
	if plan == nil {
		return func() {}, nil
	}
	want, err := e.readPlan(plan)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxReplans; attempt++ {
		release, err := e.locks.AcquireActs(ctx, want.acts...)
		if err != nil {
			e.metrics.IncrementContentionTimeout()
			e.logger.WarnContext(ctx, "lock contention", "op", op, "acts", want.acts, "error", err)
			return nil, err
		}
		got, err := e.readPlan(plan)
		if err != nil {
			release()
			return nil, err
		}
		if got.equal(want) {
			return release, nil
		}
		release()
		want = got
	}
	e.metrics.IncrementContentionTimeout()
	return nil, fmt.Errorf("%s: lock set kept changing: %w", op, domain.ErrContentionTimeout)
}

func (e *Engine) readPlan(plan func() (lockPlan, error)) (p lockPlan, err error) {
	e.store.Read(func() { p, err = plan() })
	return p, err
}

func (e *Engine) logRejection(ctx context.Context, op string, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		e.logger.InfoContext(ctx, "mutation rejected", "op", op, "kinds", verr.Kinds())
		return
	}
	e.logger.InfoContext(ctx, "mutation rejected", "op", op, "error", err)
}

func outcomeOf(err error) string {
	var verr *domain.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "rejected"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrContentionTimeout):
		return "contention"
	default:
		return "error"
	}
}

// Stats reports the size of the committed graph.
func (e *Engine) Stats() graph.Stats {
	var st graph.Stats
	e.store.Read(func() { st = e.store.Stats() })
	return st
}
