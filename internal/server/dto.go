package server

import (
	"time"

	"actgraph/internal/domain"
	"actgraph/internal/graph"
)

// ActRequest creates an act. Indicators are plain booleans on the wire; an
// omitted action_negation_ind stays unspecified.
type ActRequest struct {
	ClassCode           domain.Code      `json:"class_code"`
	MoodCode            domain.Code      `json:"mood_code"`
	Code                *domain.Code     `json:"code,omitempty"`
	ActionNegationInd   *bool            `json:"action_negation_ind,omitempty"`
	IsCriterionInd      bool             `json:"is_criterion_ind,omitempty"`
	StatusCode          domain.Status    `json:"status_code,omitempty" doc:"Initial status, new when omitted"`
	Title               string           `json:"title,omitempty"`
	Text                string           `json:"text,omitempty"`
	RepeatNumber        *domain.IntRange `json:"repeat_number,omitempty"`
	Interruptible       *bool            `json:"interruptible,omitempty"`
	Independent         *bool            `json:"independent,omitempty"`
	EffectiveTime       *domain.Interval `json:"effective_time,omitempty"`
	ActivityTime        *domain.Interval `json:"activity_time,omitempty"`
	AvailabilityTime    *time.Time       `json:"availability_time,omitempty"`
	PriorityCodes       []domain.Code    `json:"priority_codes,omitempty"`
	ConfidentialityCode *domain.Code     `json:"confidentiality_code,omitempty"`
	ReasonCodes         []domain.Code    `json:"reason_codes,omitempty"`
	LanguageCode        string           `json:"language_code,omitempty"`
}

func (r ActRequest) toDomain() domain.NewAct {
	return domain.NewAct{
		ClassCode:           r.ClassCode,
		MoodCode:            r.MoodCode,
		Code:                r.Code,
		ActionNegationInd:   tristate(r.ActionNegationInd),
		IsCriterionInd:      r.IsCriterionInd,
		StatusCode:          r.StatusCode,
		Title:               r.Title,
		Text:                r.Text,
		RepeatNumber:        r.RepeatNumber,
		Interruptible:       r.Interruptible,
		Independent:         r.Independent,
		EffectiveTime:       r.EffectiveTime,
		ActivityTime:        r.ActivityTime,
		AvailabilityTime:    r.AvailabilityTime,
		PriorityCodes:       r.PriorityCodes,
		ConfidentialityCode: r.ConfidentialityCode,
		ReasonCodes:         r.ReasonCodes,
		LanguageCode:        r.LanguageCode,
	}
}

// ActPatchRequest updates mutable attributes. class_code and mood_code are
// accepted only to report attempts to change them.
type ActPatchRequest struct {
	ClassCode              *domain.Code     `json:"class_code,omitempty"`
	MoodCode               *domain.Code     `json:"mood_code,omitempty"`
	Code                   *domain.Code     `json:"code,omitempty"`
	ClearCode              bool             `json:"clear_code,omitempty"`
	ActionNegationInd      *bool            `json:"action_negation_ind,omitempty"`
	ClearActionNegationInd bool             `json:"clear_action_negation_ind,omitempty"`
	IsCriterionInd         *bool            `json:"is_criterion_ind,omitempty"`
	Title                  *string          `json:"title,omitempty"`
	Text                   *string          `json:"text,omitempty"`
	RepeatNumber           *domain.IntRange `json:"repeat_number,omitempty"`
	ClearRepeatNumber      bool             `json:"clear_repeat_number,omitempty"`
	Interruptible          *bool            `json:"interruptible,omitempty"`
	Independent            *bool            `json:"independent,omitempty"`
	EffectiveTime          *domain.Interval `json:"effective_time,omitempty"`
	ActivityTime           *domain.Interval `json:"activity_time,omitempty"`
	PriorityCodes          []domain.Code    `json:"priority_codes,omitempty"`
	ConfidentialityCode    *domain.Code     `json:"confidentiality_code,omitempty"`
	ReasonCodes            []domain.Code    `json:"reason_codes,omitempty"`
	LanguageCode           *string          `json:"language_code,omitempty"`
}

func (r ActPatchRequest) toDomain() domain.ActPatch {
	p := domain.ActPatch{
		ClassCode:           r.ClassCode,
		MoodCode:            r.MoodCode,
		Code:                r.Code,
		ClearCode:           r.ClearCode,
		IsCriterionInd:      r.IsCriterionInd,
		Title:               r.Title,
		Text:                r.Text,
		RepeatNumber:        r.RepeatNumber,
		ClearRepeatNumber:   r.ClearRepeatNumber,
		Interruptible:       r.Interruptible,
		Independent:         r.Independent,
		EffectiveTime:       r.EffectiveTime,
		ActivityTime:        r.ActivityTime,
		PriorityCodes:       r.PriorityCodes,
		ConfidentialityCode: r.ConfidentialityCode,
		ReasonCodes:         r.ReasonCodes,
		LanguageCode:        r.LanguageCode,
	}
	switch {
	case r.ClearActionNegationInd:
		t := domain.Unspecified
		p.ActionNegationInd = &t
	case r.ActionNegationInd != nil:
		t := domain.TristateOf(*r.ActionNegationInd)
		p.ActionNegationInd = &t
	}
	return p
}

func tristate(b *bool) domain.Tristate {
	if b == nil {
		return domain.Unspecified
	}
	return domain.TristateOf(*b)
}

type ActResponse struct {
	ID                  domain.ActID     `json:"id"`
	ClassCode           domain.Code      `json:"class_code"`
	MoodCode            domain.Code      `json:"mood_code"`
	Code                *domain.Code     `json:"code,omitempty"`
	ActionNegationInd   *bool            `json:"action_negation_ind,omitempty"`
	IsCriterionInd      bool             `json:"is_criterion_ind"`
	StatusCode          domain.Status    `json:"status_code"`
	Title               string           `json:"title,omitempty"`
	Text                string           `json:"text,omitempty"`
	RepeatNumber        *domain.IntRange `json:"repeat_number,omitempty"`
	Interruptible       bool             `json:"interruptible"`
	Independent         bool             `json:"independent"`
	EffectiveTime       *domain.Interval `json:"effective_time,omitempty"`
	ActivityTime        *domain.Interval `json:"activity_time,omitempty"`
	AvailabilityTime    *time.Time       `json:"availability_time,omitempty"`
	PriorityCodes       []domain.Code    `json:"priority_codes,omitempty"`
	ConfidentialityCode *domain.Code     `json:"confidentiality_code,omitempty"`
	ReasonCodes         []domain.Code    `json:"reason_codes,omitempty"`
	LanguageCode        string           `json:"language_code,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

func actResponse(a domain.Act) ActResponse {
	out := ActResponse{
		ID:                  a.ID,
		ClassCode:           a.ClassCode,
		MoodCode:            a.MoodCode,
		Code:                a.Code,
		IsCriterionInd:      a.IsCriterionInd,
		StatusCode:          a.StatusCode,
		Title:               a.Title,
		Text:                a.Text,
		RepeatNumber:        a.RepeatNumber,
		Interruptible:       a.Interruptible,
		Independent:         a.Independent,
		EffectiveTime:       a.EffectiveTime,
		ActivityTime:        a.ActivityTime,
		AvailabilityTime:    a.AvailabilityTime,
		PriorityCodes:       a.PriorityCodes,
		ConfidentialityCode: a.ConfidentialityCode,
		ReasonCodes:         a.ReasonCodes,
		LanguageCode:        a.LanguageCode,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
	if a.ActionNegationInd != domain.Unspecified {
		b := a.ActionNegationInd == domain.True
		out.ActionNegationInd = &b
	}
	return out
}

type StatusRequest struct {
	Status domain.Status `json:"status" enum:"new,active,completed,cancelled,aborted,suspended,held"`
}

type SupersedeRequest struct {
	ReplacementID domain.ActID  `json:"replacement_id"`
	Status        domain.Status `json:"status,omitempty" doc:"Status given to the prior act, cancelled when omitted"`
}

type ConnectRequest struct {
	SourceActID domain.ActID `json:"source_act_id"`
	TargetActID domain.ActID `json:"target_act_id"`
	TypeCode    string       `json:"type_code" example:"COMP"`
	Conductible bool         `json:"conductible,omitempty"`
}

type RepointRequest struct {
	TargetActID domain.ActID `json:"target_act_id"`
}

type AttachRequest struct {
	ActID    domain.ActID  `json:"act_id"`
	RoleID   domain.RoleID `json:"role_id"`
	TypeCode string        `json:"type_code" example:"AUT"`
	Time     *time.Time    `json:"time,omitempty" doc:"Participation time, now when omitted"`
}

func (r AttachRequest) toDomain() domain.Attachment {
	a := domain.Attachment{ActID: r.ActID, RoleID: r.RoleID, TypeCode: r.TypeCode}
	if r.Time != nil {
		a.Time = *r.Time
	}
	return a
}

type HealthResponse struct {
	Status string      `json:"status"`
	Stats  graph.Stats `json:"stats"`
}

type AuditResponse struct {
	Violations []domain.Violation `json:"violations"`
	Blocking   int                `json:"blocking"`
	Stats      graph.Stats        `json:"stats"`
	DurationMS int64              `json:"duration_ms"`
	CheckedAt  time.Time          `json:"checked_at"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}
