package validate

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actgraph/internal/domain"
	"actgraph/internal/graph"
)

// specializesBySystem accepts a code when its system names the class code.
type specializesBySystem struct{}

func (specializesBySystem) Specializes(_ context.Context, code, classCode domain.Code) (bool, error) {
	return code.Equal(classCode) || code.System == classCode.Code, nil
}

type builder struct {
	t     *testing.T
	store *graph.Store
}

func newBuilder(t *testing.T) *builder {
	return &builder{t: t, store: graph.NewStore(4)}
}

func (b *builder) act(mut ...func(*domain.Act)) domain.ActID {
	a := domain.Act{
		ID:            b.store.IDs().ActID(),
		ClassCode:     domain.Code{Code: "OBS"},
		MoodCode:      domain.Code{Code: domain.MoodEvent},
		StatusCode:    domain.StatusNew,
		Interruptible: true,
		Independent:   true,
	}
	for _, m := range mut {
		m(&a)
	}
	txn := b.store.Begin()
	txn.PutAct(a)
	txn.Commit()
	return a.ID
}

func (b *builder) rel(src, tgt domain.ActID, typeCode string, conductible bool) domain.RelationshipID {
	r := domain.ActRelationship{
		ID:          b.store.IDs().RelationshipID(),
		SourceActID: src,
		TargetActID: tgt,
		TypeCode:    typeCode,
		Conductible: conductible,
		Sequence:    b.store.IDs().Sequence(),
	}
	txn := b.store.Begin()
	txn.PutRelationship(r)
	txn.Commit()
	return r.ID
}

func (b *builder) part(act domain.ActID, role domain.RoleID, typeCode string) domain.ParticipationID {
	p := domain.Participation{
		ID:       b.store.IDs().ParticipationID(),
		ActID:    act,
		RoleID:   role,
		TypeCode: typeCode,
		Time:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Sequence: b.store.IDs().Sequence(),
	}
	txn := b.store.Begin()
	txn.PutParticipation(p)
	txn.Commit()
	return p.ID
}

func kinds(res domain.Result) []domain.Kind {
	var out []domain.Kind
	for _, v := range res.Violations {
		out = append(out, v.Kind)
	}
	return out
}

func TestBatchOnValidGraphIsEmptyAndIdempotent(t *testing.T) {
	b := newBuilder(t)
	a := b.act()
	c := b.act(func(a *domain.Act) { a.Code = &domain.Code{System: "OBS", Code: "8480-6"} })
	d := b.act()
	b.rel(a, c, domain.HasComponent, true)
	b.rel(c, d, domain.HasComponent, true)
	b.rel(a, d, domain.HasReason, true)
	b.rel(d, a, domain.HasReason, true)
	b.part(a, "role-1", domain.Author)
	b.part(a, "role-1", domain.Performer)

	v := New(specializesBySystem{})
	for i := 0; i < 3; i++ {
		res, err := v.Batch(context.Background(), b.store)
		require.NoError(t, err)
		assert.Empty(t, res.Violations)
	}
}

func TestBatchReportsEveryViolation(t *testing.T) {
	b := newBuilder(t)
	a := b.act()
	c := b.act()
	crit := b.act(func(a *domain.Act) { a.IsCriterionInd = true })
	b.act(func(a *domain.Act) {
		a.MoodCode = domain.Code{Code: domain.MoodDefinition}
		a.ActionNegationInd = domain.True
	})
	b.act(func(a *domain.Act) { a.Code = &domain.Code{System: "PROC", Code: "x"} })
	b.act(func(a *domain.Act) { a.RepeatNumber = &domain.IntRange{Low: 3, High: 1} })

	b.rel(a, c, domain.HasComponent, false)
	b.rel(c, a, domain.HasComponent, false)
	b.rel(a, a, domain.HasReason, false)
	b.rel(a, crit, domain.HasReason, true)
	b.rel(a, "act-404", domain.HasReason, false)
	b.part(c, "role-1", domain.Author)
	b.part(c, "role-1", domain.Author)

	res, err := New(specializesBySystem{}).Batch(context.Background(), b.store)
	require.NoError(t, err)
	got := kinds(res)
	for _, k := range []domain.Kind{
		domain.KindCompositionCycle,
		domain.KindSelfLoop,
		domain.KindCriterionConductibility,
		domain.KindDanglingEndpoint,
		domain.KindDuplicateParticipation,
		domain.KindInvalidMoodForDefinition,
		domain.KindInvalidSpecialization,
		domain.KindInvalidAttribute,
	} {
		assert.Contains(t, got, k)
	}
	assert.True(t, res.HasBlocking())
}

func TestCompositionCycleViolationNamesMembersAndEdges(t *testing.T) {
	b := newBuilder(t)
	a, c, d := b.act(), b.act(), b.act()
	r1 := b.rel(a, c, domain.HasComponent, false)
	r2 := b.rel(c, d, domain.HasComponent, false)
	r3 := b.rel(d, a, domain.HasComponent, false)
	b.rel(a, d, domain.HasReason, false)

	res, err := New(nil).Batch(context.Background(), b.store)
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	v := res.Violations[0]
	assert.Equal(t, domain.KindCompositionCycle, v.Kind)
	assert.Equal(t, []domain.ActID{a, c, d}, v.ActIDs)
	assert.Equal(t, []domain.RelationshipID{r1, r2, r3}, v.RelationshipIDs)
	assert.True(t, Reaches(b.store, c, a))
}

func TestMutualNonCompositionEdgesAreAllowed(t *testing.T) {
	b := newBuilder(t)
	a, c := b.act(), b.act()
	b.rel(a, c, domain.HasReason, true)
	b.rel(c, a, domain.HasReason, true)
	res, err := New(nil).Batch(context.Background(), b.store)
	require.NoError(t, err)
	assert.Empty(t, res.Violations)
}

func TestCriterionRuleAppliesInBothDirections(t *testing.T) {
	b := newBuilder(t)
	plain := b.act()
	crit := b.act(func(a *domain.Act) { a.IsCriterionInd = true })
	b.rel(crit, plain, domain.HasComponent, true)
	b.rel(plain, crit, domain.HasReason, false)
	res, err := New(nil).Batch(context.Background(), b.store)
	require.NoError(t, err)
	assert.Equal(t, []domain.Kind{domain.KindCriterionConductibility}, kinds(res))
}

func TestDanglingRecordTurnsEndpointIntoWarning(t *testing.T) {
	b := newBuilder(t)
	src := b.act()
	rel := b.rel(src, "act-99", domain.HasReason, false)

	res, err := New(nil).Batch(context.Background(), b.store)
	require.NoError(t, err)
	assert.Equal(t, []domain.Kind{domain.KindDanglingEndpoint}, kinds(res))

	txn := b.store.Begin()
	txn.MarkDangling(domain.DanglingEdge{RelationshipID: rel, SourceActID: src, MissingActID: "act-99"})
	txn.Commit()

	res, err = New(nil).Batch(context.Background(), b.store)
	require.NoError(t, err)
	assert.Equal(t, []domain.Kind{domain.KindDanglingEdge}, kinds(res))
	assert.False(t, res.HasBlocking())
	assert.NoError(t, res.Err())
}

func TestNilOracleRejectsCodes(t *testing.T) {
	b := newBuilder(t)
	b.act(func(a *domain.Act) { a.Code = &domain.Code{Code: "x"} })
	res, err := New(nil).Batch(context.Background(), b.store)
	require.NoError(t, err)
	assert.Equal(t, []domain.Kind{domain.KindInvalidSpecialization}, kinds(res))
}

func TestOracleErrorAbortsBatch(t *testing.T) {
	b := newBuilder(t)
	b.act(func(a *domain.Act) { a.Code = &domain.Code{Code: "x"} })
	failing := oracleFunc(func(context.Context, domain.Code, domain.Code) (bool, error) {
		return false, fmt.Errorf("vocabulary offline")
	})
	_, err := New(failing).Batch(context.Background(), b.store)
	assert.ErrorContains(t, err, "vocabulary offline")
}

type oracleFunc func(context.Context, domain.Code, domain.Code) (bool, error)

func (f oracleFunc) Specializes(ctx context.Context, code, classCode domain.Code) (bool, error) {
	return f(ctx, code, classCode)
}

func TestWithDefinitionMoods(t *testing.T) {
	v := New(nil, WithDefinitionMoods("DEFN"))
	assert.True(t, v.IsDefinitionMood(domain.Code{Code: "DEFN"}))
	assert.False(t, v.IsDefinitionMood(domain.Code{Code: "DEF"}))
}

// randomGraph commits a random, often invalid, graph straight into the store.
func randomGraph(t *testing.T, rng *rand.Rand) *builder {
	b := newBuilder(t)
	n := 3 + rng.Intn(8)
	var acts []domain.ActID
	for i := 0; i < n; i++ {
		crit := rng.Intn(4) == 0
		neg := rng.Intn(5) == 0
		def := rng.Intn(4) == 0
		acts = append(acts, b.act(func(a *domain.Act) {
			a.IsCriterionInd = crit
			if neg {
				a.ActionNegationInd = domain.True
			}
			if def {
				a.MoodCode = domain.Code{Code: domain.MoodDefinition}
			}
		}))
	}
	pick := func() domain.ActID {
		if rng.Intn(12) == 0 {
			return domain.ActID(fmt.Sprintf("act-missing-%d", rng.Intn(3)))
		}
		return acts[rng.Intn(len(acts))]
	}
	types := []string{domain.HasComponent, domain.HasComponent, domain.HasReason, domain.IsSequel}
	for i := 0; i < n*2; i++ {
		b.rel(pick(), pick(), types[rng.Intn(len(types))], rng.Intn(2) == 0)
	}
	roles := []domain.RoleID{"role-1", "role-2"}
	for i := 0; i < n; i++ {
		b.part(pick(), roles[rng.Intn(len(roles))], domain.Author)
	}
	return b
}

func TestIncrementalMatchesFilteredBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := New(specializesBySystem{})
	ctx := context.Background()

	for round := 0; round < 200; round++ {
		b := randomGraph(t, rng)
		full, err := v.Batch(ctx, b.store)
		require.NoError(t, err)

		acts := b.store.AllActs()
		rels := b.store.AllRelationships()
		parts := b.store.AllParticipations()
		var n Neighborhood
		for _, a := range acts {
			if rng.Intn(3) == 0 {
				n.Acts = append(n.Acts, a.ID)
			}
		}
		if rng.Intn(4) == 0 {
			n.Acts = append(n.Acts, "act-missing-0")
		}
		for _, r := range rels {
			if rng.Intn(4) == 0 {
				n.Relationships = append(n.Relationships, r.ID)
			}
		}
		for _, p := range parts {
			if rng.Intn(4) == 0 {
				n.Participations = append(n.Participations, p.ID)
			}
		}

		aSet, rSet, pSet := n.sets()
		var want []string
		for _, viol := range full.Violations {
			if viol.Touches(aSet, rSet, pSet) {
				want = append(want, viol.Key())
			}
		}
		inc, err := v.Incremental(ctx, b.store, n)
		require.NoError(t, err)
		var got []string
		for _, viol := range inc.Violations {
			got = append(got, viol.Key())
		}
		require.Equal(t, want, got, "round %d neighborhood %+v", round, n)
	}
}
