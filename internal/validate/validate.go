// Package validate checks Act graphs against the RIM integrity rules. It never
// mutates the graph it inspects.
package validate

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"actgraph/internal/domain"
	"actgraph/internal/graph"
)

// View is the read surface the checks need. Both the committed store and a
// staged transaction satisfy it.
type View interface {
	Act(domain.ActID) (domain.Act, bool)
	Relationship(domain.RelationshipID) (domain.ActRelationship, bool)
	Participation(domain.ParticipationID) (domain.Participation, bool)
	Dangling(domain.RelationshipID) (domain.DanglingEdge, bool)
	Outbound(domain.ActID) []domain.ActRelationship
	Inbound(domain.ActID) []domain.ActRelationship
	Participations(domain.ActID) []domain.Participation
}

// Graph is a View that can also enumerate everything it holds.
type Graph interface {
	View
	AllActs() []domain.Act
	AllRelationships() []domain.ActRelationship
	AllParticipations() []domain.Participation
}

// Oracle decides whether a code specializes a class code.
type Oracle interface {
	Specializes(ctx context.Context, code, classCode domain.Code) (bool, error)
}

type Validator struct {
	oracle          Oracle
	definitionMoods map[string]struct{}
	workers         int
}

type Option func(*Validator)

// WithDefinitionMoods replaces the mood codes treated as definition moods.
func WithDefinitionMoods(codes ...string) Option {
	return func(v *Validator) {
		v.definitionMoods = make(map[string]struct{}, len(codes))
		for _, c := range codes {
			v.definitionMoods[c] = struct{}{}
		}
	}
}

// WithWorkers bounds the goroutines used by Batch.
func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.workers = n
		}
	}
}

func New(oracle Oracle, opts ...Option) *Validator {
	v := &Validator{oracle: oracle, workers: 4}
	WithDefinitionMoods(domain.DefaultDefinitionMoods()...)(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) IsDefinitionMood(mood domain.Code) bool {
	_, ok := v.definitionMoods[mood.Code]
	return ok
}

// Neighborhood names the entities a single mutation touched.
type Neighborhood struct {
	Acts           []domain.ActID
	Relationships  []domain.RelationshipID
	Participations []domain.ParticipationID
}

func (n Neighborhood) sets() (map[domain.ActID]struct{}, map[domain.RelationshipID]struct{}, map[domain.ParticipationID]struct{}) {
	acts := make(map[domain.ActID]struct{}, len(n.Acts))
	for _, id := range n.Acts {
		acts[id] = struct{}{}
	}
	rels := make(map[domain.RelationshipID]struct{}, len(n.Relationships))
	for _, id := range n.Relationships {
		rels[id] = struct{}{}
	}
	parts := make(map[domain.ParticipationID]struct{}, len(n.Participations))
	for _, id := range n.Participations {
		parts[id] = struct{}{}
	}
	return acts, rels, parts
}

// Batch re-checks every rule across g and reports all violations.
func (v *Validator) Batch(ctx context.Context, g Graph) (domain.Result, error) {
	acts := g.AllActs()
	rels := g.AllRelationships()
	parts := g.AllParticipations()

	var (
		mu  sync.Mutex
		res domain.Result
	)
	collect := func(vs []domain.Violation) {
		if len(vs) == 0 {
			return
		}
		mu.Lock()
		res.Add(vs...)
		mu.Unlock()
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(v.workers)
	for _, chunk := range chunks(acts, v.workers) {
		grp.Go(func() error {
			for _, a := range chunk {
				vs, err := v.CheckAct(gctx, a)
				if err != nil {
					return err
				}
				collect(vs)
			}
			return nil
		})
	}
	grp.Go(func() error {
		for _, r := range rels {
			collect(v.CheckRelationship(g, r))
		}
		return nil
	})
	grp.Go(func() error {
		for _, p := range parts {
			collect(v.CheckParticipation(g, p))
		}
		return nil
	})
	grp.Go(func() error {
		collect(compositionCycles(g, acts))
		return nil
	})
	if err := grp.Wait(); err != nil {
		return domain.Result{}, err
	}
	res.Violations = domain.SortViolations(res.Violations)
	return res, nil
}

// Incremental reports exactly the violations Batch would report whose
// offending entities intersect n. It inspects the entities of n, everything
// incident to the acts of n, and the composition components that contain them.
func (v *Validator) Incremental(ctx context.Context, view View, n Neighborhood) (domain.Result, error) {
	actSet, relSet, partSet := n.sets()
	var res domain.Result

	rels := map[domain.RelationshipID]domain.ActRelationship{}
	parts := map[domain.ParticipationID]domain.Participation{}
	seeds := map[domain.ActID]struct{}{}

	for _, id := range n.Acts {
		seeds[id] = struct{}{}
		if a, ok := view.Act(id); ok {
			vs, err := v.CheckAct(ctx, a)
			if err != nil {
				return domain.Result{}, err
			}
			res.Add(vs...)
		}
		for _, r := range view.Outbound(id) {
			rels[r.ID] = r
		}
		for _, r := range view.Inbound(id) {
			rels[r.ID] = r
		}
		for _, p := range view.Participations(id) {
			parts[p.ID] = p
		}
	}
	for _, id := range n.Relationships {
		if r, ok := view.Relationship(id); ok {
			rels[r.ID] = r
			seeds[r.SourceActID] = struct{}{}
			seeds[r.TargetActID] = struct{}{}
		}
	}
	for _, id := range n.Participations {
		if p, ok := view.Participation(id); ok {
			parts[p.ID] = p
		}
	}

	for _, r := range rels {
		res.Add(v.CheckRelationship(view, r)...)
	}
	for _, p := range parts {
		res.Add(v.CheckParticipation(view, p)...)
	}
	seen := map[domain.ActID]struct{}{}
	for id := range seeds {
		if _, done := seen[id]; done {
			continue
		}
		members := componentOf(view, id)
		for _, m := range members {
			seen[m] = struct{}{}
		}
		if viol, ok := cycleViolation(view, members); ok {
			res.Add(viol)
		}
	}

	filtered := res.Violations[:0]
	for _, viol := range res.Violations {
		if viol.Touches(actSet, relSet, partSet) {
			filtered = append(filtered, viol)
		}
	}
	res.Violations = domain.SortViolations(filtered)
	return res, nil
}

// CheckAct applies the node-local rules to a.
func (v *Validator) CheckAct(ctx context.Context, a domain.Act) ([]domain.Violation, error) {
	var out []domain.Violation
	invalid := func(format string, args ...any) {
		out = append(out, domain.Violation{
			Kind:     domain.KindInvalidAttribute,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			ActIDs:   []domain.ActID{a.ID},
		})
	}
	if a.ClassCode.Code == "" {
		invalid("classCode is required")
	}
	if a.MoodCode.Code == "" {
		invalid("moodCode is required")
	}
	if !a.StatusCode.Valid() {
		invalid("statusCode %q is not one of %v", a.StatusCode, domain.Statuses())
	}
	if a.RepeatNumber != nil && !a.RepeatNumber.Valid() {
		invalid("repeatNumber [%d, %d] must satisfy 0 <= low <= high", a.RepeatNumber.Low, a.RepeatNumber.High)
	}
	if a.ActionNegationInd == domain.True && v.IsDefinitionMood(a.MoodCode) {
		out = append(out, domain.Violation{
			Kind:     domain.KindInvalidMoodForDefinition,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("actionNegationInd cannot be true for definition mood %s", a.MoodCode),
			ActIDs:   []domain.ActID{a.ID},
		})
	}
	if a.Code != nil && !a.Code.IsZero() {
		ok, err := v.specializes(ctx, *a.Code, a.ClassCode)
		if err != nil {
			return nil, fmt.Errorf("check specialization of act %s: %w", a.ID, err)
		}
		if !ok {
			out = append(out, domain.Violation{
				Kind:     domain.KindInvalidSpecialization,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("code %s does not specialize classCode %s", a.Code, a.ClassCode),
				ActIDs:   []domain.ActID{a.ID},
			})
		}
	}
	return out, nil
}

func (v *Validator) specializes(ctx context.Context, code, classCode domain.Code) (bool, error) {
	if v.oracle == nil {
		return false, nil
	}
	return v.oracle.Specializes(ctx, code, classCode)
}

// CheckRelationship applies the edge rules to r as it stands in view.
func (v *Validator) CheckRelationship(view View, r domain.ActRelationship) []domain.Violation {
	var out []domain.Violation
	add := func(kind domain.Kind, sev domain.Severity, format string, args ...any) {
		out = append(out, domain.Violation{
			Kind:            kind,
			Severity:        sev,
			Message:         fmt.Sprintf(format, args...),
			ActIDs:          []domain.ActID{r.SourceActID, r.TargetActID},
			RelationshipIDs: []domain.RelationshipID{r.ID},
		})
	}
	if r.TypeCode == "" {
		add(domain.KindInvalidAttribute, domain.SeverityBlock, "relationship %s has no typeCode", r.ID)
	}
	if r.SourceActID == r.TargetActID {
		add(domain.KindSelfLoop, domain.SeverityBlock, "relationship %s connects act %s to itself", r.ID, r.SourceActID)
	}
	src, srcOK := view.Act(r.SourceActID)
	if !srcOK {
		add(domain.KindDanglingEndpoint, domain.SeverityBlock, "source act %s does not exist", r.SourceActID)
	}
	tgt, tgtOK := view.Act(r.TargetActID)
	if !tgtOK {
		if _, dangling := view.Dangling(r.ID); dangling {
			add(domain.KindDanglingEdge, domain.SeverityWarn, "relationship %s points at deleted act %s", r.ID, r.TargetActID)
		} else {
			add(domain.KindDanglingEndpoint, domain.SeverityBlock, "target act %s does not exist", r.TargetActID)
		}
	}
	if srcOK && tgtOK && r.Conductible && src.IsCriterionInd != tgt.IsCriterionInd {
		add(domain.KindCriterionConductibility, domain.SeverityBlock,
			"conductible %s edge between criterion and non-criterion acts (%s criterion=%t, %s criterion=%t)",
			r.TypeCode, src.ID, src.IsCriterionInd, tgt.ID, tgt.IsCriterionInd)
	}
	return out
}

// CheckParticipation applies the participation rules to p as it stands in view.
func (v *Validator) CheckParticipation(view View, p domain.Participation) []domain.Violation {
	var out []domain.Violation
	add := func(kind domain.Kind, ids []domain.ParticipationID, format string, args ...any) {
		out = append(out, domain.Violation{
			Kind:             kind,
			Severity:         domain.SeverityBlock,
			Message:          fmt.Sprintf(format, args...),
			ActIDs:           []domain.ActID{p.ActID},
			ParticipationIDs: ids,
		})
	}
	self := []domain.ParticipationID{p.ID}
	if p.RoleID == "" {
		add(domain.KindInvalidAttribute, self, "participation %s has no roleId", p.ID)
	}
	if p.TypeCode == "" {
		add(domain.KindInvalidAttribute, self, "participation %s has no typeCode", p.ID)
	}
	if _, ok := view.Act(p.ActID); !ok {
		add(domain.KindDanglingEndpoint, self, "act %s does not exist", p.ActID)
		return out
	}
	var dups []domain.ParticipationID
	for _, other := range view.Participations(p.ActID) {
		if other.Key() == p.Key() {
			dups = append(dups, other.ID)
		}
	}
	if len(dups) > 1 {
		slices.SortFunc(dups, func(a, b domain.ParticipationID) int { return graph.CompareIDs(string(a), string(b)) })
		add(domain.KindDuplicateParticipation, dups, "role %s already participates in act %s as %s", p.RoleID, p.ActID, p.TypeCode)
	}
	return out
}

func chunks[T any](items []T, n int) [][]T {
	if n <= 0 {
		n = 1
	}
	size := (len(items) + n - 1) / n
	if size == 0 {
		return nil
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
