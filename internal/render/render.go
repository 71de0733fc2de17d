// Package render produces the human-readable text of an act: the act itself,
// its participations and everything reachable through its outbound
// relationships, as one indented outline.
package render

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/list"

	"actgraph/internal/domain"
)

// DocumentSection is the class code of document sections, which are rendered
// on their own rather than as part of the enclosing act.
var DocumentSection = domain.Code{Code: "DOCSECT"}

// Reader is the read surface rendering needs.
type Reader interface {
	Get(ctx context.Context, id domain.ActID) (domain.Act, error)
	Outbound(ctx context.Context, id domain.ActID) iter.Seq[domain.ActRelationship]
	ForAct(ctx context.Context, id domain.ActID) iter.Seq[domain.Participation]
}

// Oracle widens the section check to class codes specializing DOCSECT.
type Oracle interface {
	Specializes(ctx context.Context, code, classCode domain.Code) (bool, error)
}

type Renderer struct {
	reader Reader
	oracle Oracle
	style  list.Style
}

type Option func(*Renderer)

func WithOracle(o Oracle) Option {
	return func(r *Renderer) { r.oracle = o }
}

// WithStyle picks the outline style; the default is plain ASCII.
func WithStyle(s list.Style) Option {
	return func(r *Renderer) { r.style = s }
}

func New(reader Reader, opts ...Option) *Renderer {
	r := &Renderer{reader: reader, style: list.StyleDefault}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Text renders id. Titles, previous versions (RPLC), anything reached over a
// transformation (XFRM) and component document sections are left out. An act
// reached twice is rendered once and referenced afterwards.
func (r *Renderer) Text(ctx context.Context, id domain.ActID) (string, error) {
	root, err := r.reader.Get(ctx, id)
	if err != nil {
		return "", err
	}
	w := list.NewWriter()
	w.SetStyle(r.style)
	seen := map[domain.ActID]bool{}
	if err := r.walk(ctx, w, "", root, seen); err != nil {
		return "", err
	}
	return w.Render(), nil
}

func (r *Renderer) walk(ctx context.Context, w list.Writer, via string, act domain.Act, seen map[domain.ActID]bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seen[act.ID] = true
	w.AppendItem(via + describe(act))

	var children []string
	for p := range r.reader.ForAct(ctx, act.ID) {
		children = append(children, fmt.Sprintf("%s %s at %s", p.TypeCode, p.RoleID, p.Time.Format(time.RFC3339)))
	}
	type next struct {
		rel    domain.ActRelationship
		target domain.Act
	}
	var nested []next
	for rel := range r.reader.Outbound(ctx, act.ID) {
		if rel.TypeCode == domain.Replaces || rel.TypeCode == domain.Transformation {
			continue
		}
		target, err := r.reader.Get(ctx, rel.TargetActID)
		if err != nil {
			children = append(children, fmt.Sprintf("%s -> %s (deleted)", rel.TypeCode, rel.TargetActID))
			continue
		}
		if rel.IsComposition() {
			section, err := r.isSection(ctx, target.ClassCode)
			if err != nil {
				return err
			}
			if section {
				continue
			}
		}
		if seen[target.ID] {
			children = append(children, fmt.Sprintf("%s -> %s (see above)", rel.TypeCode, target.ID))
			continue
		}
		nested = append(nested, next{rel: rel, target: target})
	}
	if len(children) == 0 && len(nested) == 0 {
		return nil
	}
	w.Indent()
	for _, c := range children {
		w.AppendItem(c)
	}
	for _, n := range nested {
		if seen[n.target.ID] {
			w.AppendItem(fmt.Sprintf("%s -> %s (see above)", n.rel.TypeCode, n.target.ID))
			continue
		}
		if err := r.walk(ctx, w, n.rel.TypeCode+" ", n.target, seen); err != nil {
			return err
		}
	}
	w.UnIndent()
	return nil
}

func (r *Renderer) isSection(ctx context.Context, class domain.Code) (bool, error) {
	if class.Equal(DocumentSection) {
		return true, nil
	}
	if r.oracle == nil {
		return false, nil
	}
	ok, err := r.oracle.Specializes(ctx, class, DocumentSection)
	if err != nil {
		return false, fmt.Errorf("render: section check: %w", err)
	}
	return ok, nil
}

func describe(a domain.Act) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", a.ID, a.ClassCode, a.MoodCode)
	if a.ActionNegationInd == domain.True {
		b.WriteString(" NOT")
	}
	if a.Code != nil {
		fmt.Fprintf(&b, " code=%s", a.Code)
	}
	if a.IsCriterionInd {
		b.WriteString(" criterion")
	}
	fmt.Fprintf(&b, " [%s]", a.StatusCode)
	if a.EffectiveTime != nil {
		fmt.Fprintf(&b, " effective=%s", interval(a.EffectiveTime))
	}
	if a.ActivityTime != nil {
		fmt.Fprintf(&b, " activity=%s", interval(a.ActivityTime))
	}
	if a.AvailabilityTime != nil {
		fmt.Fprintf(&b, " available=%s", a.AvailabilityTime.Format(time.RFC3339))
	}
	if a.RepeatNumber != nil {
		fmt.Fprintf(&b, " repeat=%d..%d", a.RepeatNumber.Low, a.RepeatNumber.High)
	}
	fmt.Fprintf(&b, " interruptible=%t independent=%t", a.Interruptible, a.Independent)
	for _, c := range a.PriorityCodes {
		fmt.Fprintf(&b, " priority=%s", c)
	}
	if a.ConfidentialityCode != nil {
		fmt.Fprintf(&b, " confidentiality=%s", a.ConfidentialityCode)
	}
	for _, c := range a.ReasonCodes {
		fmt.Fprintf(&b, " reason=%s", c)
	}
	if a.LanguageCode != "" {
		fmt.Fprintf(&b, " lang=%s", a.LanguageCode)
	}
	if a.Text != "" {
		fmt.Fprintf(&b, ": %s", a.Text)
	}
	return b.String()
}

func interval(i *domain.Interval) string {
	low, high := "?", "?"
	if i.Low != nil {
		low = i.Low.Format(time.RFC3339)
	}
	if i.High != nil {
		high = i.High.Format(time.RFC3339)
	}
	return low + ".." + high
}
