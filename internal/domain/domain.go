package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type (
	ActID           string
	RelationshipID  string
	ParticipationID string
	RoleID          string
)

// Code is an opaque coded value. Two codes are the same concept only when
// both system and code match.
type Code struct {
	System string `json:"system,omitempty" yaml:"system"`
	Code   string `json:"code" yaml:"code"`
}

func (c Code) IsZero() bool { return c.System == "" && c.Code == "" }

func (c Code) Equal(o Code) bool { return c.System == o.System && c.Code == o.Code }

func (c Code) String() string {
	if c.System == "" {
		return c.Code
	}
	return c.System + "#" + c.Code
}

// Tristate carries HL7 indicator semantics: true, false, or not stated.
type Tristate uint8

const (
	Unspecified Tristate = iota
	False
	True
)

func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

func (t Tristate) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (t *Tristate) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("indicator must be true, false or null: %w", err)
	}
	if b == nil {
		*t = Unspecified
		return nil
	}
	*t = TristateOf(*b)
	return nil
}

// IntRange is a closed integer interval.
type IntRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

func (r IntRange) Valid() bool { return r.Low >= 0 && r.Low <= r.High }

type Interval struct {
	Low  *time.Time `json:"low,omitempty"`
	High *time.Time `json:"high,omitempty"`
}

type Act struct {
	ID                  ActID      `json:"id"`
	ClassCode           Code       `json:"class_code"`
	MoodCode            Code       `json:"mood_code"`
	Code                *Code      `json:"code,omitempty"`
	ActionNegationInd   Tristate   `json:"action_negation_ind"`
	IsCriterionInd      bool       `json:"is_criterion_ind"`
	StatusCode          Status     `json:"status_code"`
	Title               string     `json:"title,omitempty"`
	Text                string     `json:"text,omitempty"`
	RepeatNumber        *IntRange  `json:"repeat_number,omitempty"`
	Interruptible       bool       `json:"interruptible"`
	Independent         bool       `json:"independent"`
	EffectiveTime       *Interval  `json:"effective_time,omitempty"`
	ActivityTime        *Interval  `json:"activity_time,omitempty"`
	AvailabilityTime    *time.Time `json:"availability_time,omitempty"`
	PriorityCodes       []Code     `json:"priority_codes,omitempty"`
	ConfidentialityCode *Code      `json:"confidentiality_code,omitempty"`
	ReasonCodes         []Code     `json:"reason_codes,omitempty"`
	LanguageCode        string     `json:"language_code,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so snapshots handed to callers never alias
// engine state.
func (a Act) Clone() Act {
	cp := a
	if a.Code != nil {
		c := *a.Code
		cp.Code = &c
	}
	if a.RepeatNumber != nil {
		r := *a.RepeatNumber
		cp.RepeatNumber = &r
	}
	if a.EffectiveTime != nil {
		i := *a.EffectiveTime
		cp.EffectiveTime = &i
	}
	if a.ActivityTime != nil {
		i := *a.ActivityTime
		cp.ActivityTime = &i
	}
	if a.AvailabilityTime != nil {
		t := *a.AvailabilityTime
		cp.AvailabilityTime = &t
	}
	if a.ConfidentialityCode != nil {
		c := *a.ConfidentialityCode
		cp.ConfidentialityCode = &c
	}
	cp.PriorityCodes = append([]Code(nil), a.PriorityCodes...)
	cp.ReasonCodes = append([]Code(nil), a.ReasonCodes...)
	return cp
}

// NewAct holds creation parameters. ClassCode and MoodCode are fixed for the
// lifetime of the act once created.
type NewAct struct {
	ClassCode           Code       `json:"class_code"`
	MoodCode            Code       `json:"mood_code"`
	Code                *Code      `json:"code,omitempty"`
	ActionNegationInd   Tristate   `json:"action_negation_ind"`
	IsCriterionInd      bool       `json:"is_criterion_ind"`
	StatusCode          Status     `json:"status_code,omitempty"`
	Title               string     `json:"title,omitempty"`
	Text                string     `json:"text,omitempty"`
	RepeatNumber        *IntRange  `json:"repeat_number,omitempty"`
	Interruptible       *bool      `json:"interruptible,omitempty"`
	Independent         *bool      `json:"independent,omitempty"`
	EffectiveTime       *Interval  `json:"effective_time,omitempty"`
	ActivityTime        *Interval  `json:"activity_time,omitempty"`
	AvailabilityTime    *time.Time `json:"availability_time,omitempty"`
	PriorityCodes       []Code     `json:"priority_codes,omitempty"`
	ConfidentialityCode *Code      `json:"confidentiality_code,omitempty"`
	ReasonCodes         []Code     `json:"reason_codes,omitempty"`
	LanguageCode        string     `json:"language_code,omitempty"`
}

// ActPatch is the whitelisted set of mutable attributes. MoodCode and
// ClassCode exist only so that attempts to change them can be reported.
type ActPatch struct {
	MoodCode            *Code     `json:"mood_code,omitempty"`
	ClassCode           *Code     `json:"class_code,omitempty"`
	Code                *Code     `json:"code,omitempty"`
	ClearCode           bool      `json:"clear_code,omitempty"`
	ActionNegationInd   *Tristate `json:"action_negation_ind,omitempty"`
	IsCriterionInd      *bool     `json:"is_criterion_ind,omitempty"`
	Title               *string   `json:"title,omitempty"`
	Text                *string   `json:"text,omitempty"`
	RepeatNumber        *IntRange `json:"repeat_number,omitempty"`
	ClearRepeatNumber   bool      `json:"clear_repeat_number,omitempty"`
	Interruptible       *bool     `json:"interruptible,omitempty"`
	Independent         *bool     `json:"independent,omitempty"`
	EffectiveTime       *Interval `json:"effective_time,omitempty"`
	ActivityTime        *Interval `json:"activity_time,omitempty"`
	PriorityCodes       []Code    `json:"priority_codes,omitempty"`
	ConfidentialityCode *Code     `json:"confidentiality_code,omitempty"`
	ReasonCodes         []Code    `json:"reason_codes,omitempty"`
	LanguageCode        *string   `json:"language_code,omitempty"`
}

// Apply copies the patch onto act. Immutable fields are left untouched; the
// caller checks them separately.
func (p ActPatch) Apply(act *Act) {
	if p.ClearCode {
		act.Code = nil
	}
	if p.Code != nil {
		c := *p.Code
		act.Code = &c
	}
	if p.ActionNegationInd != nil {
		act.ActionNegationInd = *p.ActionNegationInd
	}
	if p.IsCriterionInd != nil {
		act.IsCriterionInd = *p.IsCriterionInd
	}
	if p.Title != nil {
		act.Title = *p.Title
	}
	if p.Text != nil {
		act.Text = *p.Text
	}
	if p.ClearRepeatNumber {
		act.RepeatNumber = nil
	}
	if p.RepeatNumber != nil {
		r := *p.RepeatNumber
		act.RepeatNumber = &r
	}
	if p.Interruptible != nil {
		act.Interruptible = *p.Interruptible
	}
	if p.Independent != nil {
		act.Independent = *p.Independent
	}
	if p.EffectiveTime != nil {
		i := *p.EffectiveTime
		act.EffectiveTime = &i
	}
	if p.ActivityTime != nil {
		i := *p.ActivityTime
		act.ActivityTime = &i
	}
	if p.PriorityCodes != nil {
		act.PriorityCodes = append([]Code(nil), p.PriorityCodes...)
	}
	if p.ConfidentialityCode != nil {
		c := *p.ConfidentialityCode
		act.ConfidentialityCode = &c
	}
	if p.ReasonCodes != nil {
		act.ReasonCodes = append([]Code(nil), p.ReasonCodes...)
	}
	if p.LanguageCode != nil {
		act.LanguageCode = *p.LanguageCode
	}
}

// Relationship type codes the engine interprets. Any other code is stored
// and traversed without special meaning.
const (
	HasComponent   = "COMP"
	HasReason      = "RSON"
	IsSequel       = "SEQL"
	Replaces       = "RPLC"
	Transformation = "XFRM"
	Fulfills       = "FLFS"
	HasSubject     = "SUBJ"
)

// Participation type codes commonly used by callers.
const (
	Author    = "AUT"
	Subject   = "SBJ"
	Performer = "PRF"
)

type ActRelationship struct {
	ID          RelationshipID `json:"id"`
	SourceActID ActID          `json:"source_act_id"`
	TargetActID ActID          `json:"target_act_id"`
	TypeCode    string         `json:"type_code"`
	Conductible bool           `json:"conductible"`
	Sequence    uint64         `json:"sequence"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (r ActRelationship) IsComposition() bool { return r.TypeCode == HasComponent }

// Connection holds the parameters of a new relationship.
type Connection struct {
	SourceActID ActID  `json:"source_act_id"`
	TargetActID ActID  `json:"target_act_id"`
	TypeCode    string `json:"type_code"`
	Conductible bool   `json:"conductible"`
}

// DanglingEdge records an inbound relationship whose target act was deleted.
// It stays until the caller repoints or disconnects the relationship.
type DanglingEdge struct {
	RelationshipID RelationshipID `json:"relationship_id"`
	SourceActID    ActID          `json:"source_act_id"`
	MissingActID   ActID          `json:"missing_act_id"`
	TypeCode       string         `json:"type_code"`
	DetectedAt     time.Time      `json:"detected_at"`
}

type Participation struct {
	ID       ParticipationID `json:"id"`
	ActID    ActID           `json:"act_id"`
	RoleID   RoleID          `json:"role_id"`
	TypeCode string          `json:"type_code"`
	Time     time.Time       `json:"time"`
	Sequence uint64          `json:"sequence"`
}

// Attachment holds the parameters of a new participation.
type Attachment struct {
	ActID    ActID     `json:"act_id"`
	RoleID   RoleID    `json:"role_id"`
	TypeCode string    `json:"type_code"`
	Time     time.Time `json:"time,omitempty"`
}

// ParticipationKey is the uniqueness key of a participation.
type ParticipationKey struct {
	ActID    ActID
	RoleID   RoleID
	TypeCode string
}

func (p Participation) Key() ParticipationKey {
	return ParticipationKey{ActID: p.ActID, RoleID: p.RoleID, TypeCode: p.TypeCode}
}

// ParseCode reads the "system#code" form produced by Code.String. A value
// without '#' is a bare code with no system.
func ParseCode(s string) Code {
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		return Code{System: s[:i], Code: s[i+1:]}
	}
	return Code{Code: s}
}
