package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type Kind string

const (
	KindImmutableField           Kind = "ImmutableFieldViolation"
	KindInvalidSpecialization    Kind = "InvalidSpecialization"
	KindInvalidMoodForDefinition Kind = "InvalidMoodForDefinition"
	KindIllegalStatusTransition  Kind = "IllegalStatusTransition"
	KindSelfLoop                 Kind = "SelfLoop"
	KindDanglingEndpoint         Kind = "DanglingEndpoint"
	KindCompositionCycle         Kind = "CompositionCycle"
	KindCriterionConductibility  Kind = "CriterionConductibilityViolation"
	KindDuplicateParticipation   Kind = "DuplicateParticipation"
	KindInvalidAttribute         Kind = "InvalidAttribute"
	KindDanglingEdge             Kind = "DanglingEdge"
)

type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrContentionTimeout = errors.New("contention timeout")

	ErrImmutableField           = errors.New("immutable field violation")
	ErrInvalidSpecialization    = errors.New("invalid specialization")
	ErrInvalidMoodForDefinition = errors.New("invalid mood for definition")
	ErrIllegalStatusTransition  = errors.New("illegal status transition")
	ErrSelfLoop                 = errors.New("self loop")
	ErrDanglingEndpoint         = errors.New("dangling endpoint")
	ErrCompositionCycle         = errors.New("composition cycle")
	ErrCriterionConductibility  = errors.New("criterion conductibility violation")
	ErrDuplicateParticipation   = errors.New("duplicate participation")
	ErrInvalidAttribute         = errors.New("invalid attribute")
	ErrDanglingEdge             = errors.New("dangling edge")
)

var kindSentinels = map[Kind]error{
	KindImmutableField:           ErrImmutableField,
	KindInvalidSpecialization:    ErrInvalidSpecialization,
	KindInvalidMoodForDefinition: ErrInvalidMoodForDefinition,
	KindIllegalStatusTransition:  ErrIllegalStatusTransition,
	KindSelfLoop:                 ErrSelfLoop,
	KindDanglingEndpoint:         ErrDanglingEndpoint,
	KindCompositionCycle:         ErrCompositionCycle,
	KindCriterionConductibility:  ErrCriterionConductibility,
	KindDuplicateParticipation:   ErrDuplicateParticipation,
	KindInvalidAttribute:         ErrInvalidAttribute,
	KindDanglingEdge:             ErrDanglingEdge,
}

// Sentinel returns the error matched by errors.Is for violations of kind k.
func (k Kind) Sentinel() error { return kindSentinels[k] }

// Violation is one broken invariant, tagged with every entity that takes part
// in it.
type Violation struct {
	Kind             Kind              `json:"kind"`
	Severity         Severity          `json:"severity"`
	Message          string            `json:"message"`
	ActIDs           []ActID           `json:"act_ids,omitempty"`
	RelationshipIDs  []RelationshipID  `json:"relationship_ids,omitempty"`
	ParticipationIDs []ParticipationID `json:"participation_ids,omitempty"`
}

func (v Violation) Blocking() bool { return v.Severity != SeverityWarn }

// Key identifies a violation for set comparison.
func (v Violation) Key() string {
	var b strings.Builder
	b.WriteString(string(v.Kind))
	for _, id := range v.ActIDs {
		b.WriteString("|a:")
		b.WriteString(string(id))
	}
	for _, id := range v.RelationshipIDs {
		b.WriteString("|r:")
		b.WriteString(string(id))
	}
	for _, id := range v.ParticipationIDs {
		b.WriteString("|p:")
		b.WriteString(string(id))
	}
	b.WriteString("|")
	b.WriteString(v.Message)
	return b.String()
}

// Touches reports whether any entity of v is in the given sets.
func (v Violation) Touches(acts map[ActID]struct{}, rels map[RelationshipID]struct{}, parts map[ParticipationID]struct{}) bool {
	for _, id := range v.ActIDs {
		if _, ok := acts[id]; ok {
			return true
		}
	}
	for _, id := range v.RelationshipIDs {
		if _, ok := rels[id]; ok {
			return true
		}
	}
	for _, id := range v.ParticipationIDs {
		if _, ok := parts[id]; ok {
			return true
		}
	}
	return false
}

// SortViolations orders violations deterministically and drops duplicates.
func SortViolations(vs []Violation) []Violation {
	slices.SortFunc(vs, func(a, b Violation) int { return strings.Compare(a.Key(), b.Key()) })
	return slices.CompactFunc(vs, func(a, b Violation) bool { return a.Key() == b.Key() })
}

// Result is the outcome of a validation pass.
type Result struct {
	Violations []Violation `json:"violations"`
}

func (r *Result) Add(v ...Violation) { r.Violations = append(r.Violations, v...) }

func (r *Result) Merge(other Result) { r.Violations = append(r.Violations, other.Violations...) }

func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Blocking() {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if !v.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Err returns a *ValidationError carrying the blocking violations, or nil.
func (r Result) Err() error {
	var blocking []Violation
	for _, v := range r.Violations {
		if v.Blocking() {
			blocking = append(blocking, v)
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	return &ValidationError{Violations: blocking}
}

// ValidationError rejects a mutation. It is a value the caller can inspect and
// errors.Is matches the sentinel of every kind it carries.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		v := e.Violations[0]
		return fmt.Sprintf("%s: %s", v.Kind, v.Message)
	}
	kinds := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		kinds = append(kinds, string(v.Kind))
	}
	return fmt.Sprintf("%d violations: %s", len(e.Violations), strings.Join(kinds, ", "))
}

func (e *ValidationError) Is(target error) bool {
	for _, v := range e.Violations {
		if s := v.Kind.Sentinel(); s != nil && s == target {
			return true
		}
	}
	return false
}

// Kinds returns the distinct violation kinds in order of first appearance.
func (e *ValidationError) Kinds() []Kind {
	var out []Kind
	for _, v := range e.Violations {
		if !slices.Contains(out, v.Kind) {
			out = append(out, v.Kind)
		}
	}
	return out
}

// Reject wraps violations into a *ValidationError.
func Reject(vs ...Violation) error {
	return &ValidationError{Violations: vs}
}

func NotFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}

// Retryable reports whether err may succeed when retried unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrContentionTimeout)
}
