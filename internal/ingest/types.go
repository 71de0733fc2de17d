// Package ingest applies Transmission envelopes to the act graph and answers
// each one with an Acknowledgement.
package ingest

import (
	"time"

	"actgraph/internal/domain"
)

// Mutation ops accepted in a transmission payload.
const (
	OpCreateAct        = "create_act"
	OpUpdateAttributes = "update_attributes"
	OpSetStatus        = "set_status"
	OpConnect          = "connect"
	OpDisconnect       = "disconnect"
	OpRepoint          = "repoint"
	OpAttach           = "attach"
	OpDetach           = "detach"
	OpDeleteAct        = "delete_act"
	OpSupersede        = "supersede"
)

// Transmission is one message from a sending application. Only Payload is
// interpreted; the wrapper fields are checked for shape and echoed in logs.
type Transmission struct {
	ID                     string                  `json:"id" validate:"required,uuid"`
	CreationTime           time.Time               `json:"creation_time" validate:"required"`
	InteractionID          string                  `json:"interaction_id" validate:"required"`
	ResponseModeCode       string                  `json:"response_mode_code,omitempty" validate:"omitempty,oneof=I D Q"`
	SecurityText           string                  `json:"security_text,omitempty"`
	ProfileIDs             []string                `json:"profile_ids,omitempty" validate:"dive,required"`
	AttentionLines         []AttentionLine         `json:"attention_lines,omitempty" validate:"dive"`
	CommunicationFunctions []CommunicationFunction `json:"communication_functions,omitempty" validate:"dive"`
	Attachments            []Attachment            `json:"attachments,omitempty" validate:"dive"`
	Payload                []Mutation              `json:"payload" validate:"required,min=1,dive"`
}

// AttentionLine is a routing parameter with no meaning for the graph.
type AttentionLine struct {
	KeyWordText string `json:"key_word_text" validate:"required"`
	Value       string `json:"value"`
}

// CommunicationFunction binds the entities acting as sender, receiver or
// respond-to party.
type CommunicationFunction struct {
	ID        string   `json:"id" validate:"required"`
	TypeCode  string   `json:"type_code" validate:"required,oneof=SND RCV RSP"`
	EntityIDs []string `json:"entity_ids" validate:"required,min=1,dive,required"`
}

// Attachment is a data block the payload can refer to by id.
type Attachment struct {
	ID        string `json:"id" validate:"required"`
	MediaType string `json:"media_type,omitempty"`
	Reference string `json:"reference,omitempty" validate:"omitempty,uri"`
}

// Mutation is one engine operation. Id fields starting with '$' name the
// Ref of an entity created earlier in the same transmission.
type Mutation struct {
	Op              string           `json:"op" validate:"required,oneof=create_act update_attributes set_status connect disconnect repoint attach detach delete_act supersede"`
	Ref             string           `json:"ref,omitempty" validate:"omitempty,startswith=$"`
	Act             *domain.NewAct   `json:"act,omitempty" validate:"required_if=Op create_act"`
	Patch           *domain.ActPatch `json:"patch,omitempty" validate:"required_if=Op update_attributes"`
	ActID           string           `json:"act_id,omitempty" validate:"required_if=Op update_attributes,required_if=Op set_status,required_if=Op attach,required_if=Op delete_act,required_if=Op supersede"`
	Status          domain.Status    `json:"status,omitempty" validate:"required_if=Op set_status"`
	SourceActID     string           `json:"source_act_id,omitempty" validate:"required_if=Op connect"`
	TargetActID     string           `json:"target_act_id,omitempty" validate:"required_if=Op connect,required_if=Op repoint"`
	TypeCode        string           `json:"type_code,omitempty" validate:"required_if=Op connect,required_if=Op attach"`
	Conductible     bool             `json:"conductible,omitempty"`
	RelationshipID  string           `json:"relationship_id,omitempty" validate:"required_if=Op disconnect,required_if=Op repoint"`
	ParticipationID string           `json:"participation_id,omitempty" validate:"required_if=Op detach"`
	RoleID          string           `json:"role_id,omitempty" validate:"required_if=Op attach"`
	Time            *time.Time       `json:"time,omitempty"`
	ReplacementID   string           `json:"replacement_id,omitempty" validate:"required_if=Op supersede"`
	CascadeInbound  bool             `json:"cascade_inbound,omitempty"`
}

// AckCode is the overall outcome of a transmission.
type AckCode string

const (
	// AckAccept: every mutation was applied.
	AckAccept AckCode = "AA"
	// AckError: the envelope was sound but at least one mutation failed.
	AckError AckCode = "AE"
	// AckReject: the envelope itself was malformed; nothing was applied.
	AckReject AckCode = "AR"
)

// DetailType classifies one acknowledgement detail.
type DetailType string

const (
	DetailError   DetailType = "E"
	DetailWarning DetailType = "W"
	DetailInfo    DetailType = "I"
)

type Acknowledgement struct {
	ID           string            `json:"id"`
	Acknowledges string            `json:"acknowledges"`
	TypeCode     AckCode           `json:"type_code"`
	CreatedAt    time.Time         `json:"created_at"`
	Details      []Detail          `json:"details,omitempty"`
	Refs         map[string]string `json:"refs,omitempty"`
}

// Detail reports one finding. Location points into the transmission, for
// example "payload[2]" or "Transmission.ID".
type Detail struct {
	TypeCode DetailType `json:"type_code"`
	Code     string     `json:"code"`
	Note     string     `json:"note,omitempty"`
	Location string     `json:"location,omitempty"`
}

// Errors counts the E details.
func (a Acknowledgement) Errors() int {
	n := 0
	for _, d := range a.Details {
		if d.TypeCode == DetailError {
			n++
		}
	}
	return n
}
