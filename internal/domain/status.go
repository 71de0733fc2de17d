package domain

import "fmt"

type Status string

const (
	StatusNew       Status = "new"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusAborted   Status = "aborted"
	StatusSuspended Status = "suspended"
	StatusHeld      Status = "held"
)

var statuses = []Status{StatusNew, StatusActive, StatusCompleted, StatusCancelled, StatusAborted, StatusSuspended, StatusHeld}

// Statuses returns the closed set of act status codes.
func Statuses() []Status { return append([]Status(nil), statuses...) }

func (s Status) Valid() bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusAborted
}

// CanTransition reports whether an act in status from may move to status to.
// held is accepted as an initial status but has no outgoing transitions.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusNew:
		return to == StatusActive || to == StatusCancelled || to == StatusAborted
	case StatusActive:
		return to == StatusCompleted || to == StatusCancelled || to == StatusAborted || to == StatusSuspended
	case StatusSuspended:
		return to == StatusActive
	}
	return false
}

// EnsureTransition returns an IllegalStatusTransition violation error when
// the move is not permitted.
func EnsureTransition(id ActID, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return Reject(Violation{
		Kind:     KindIllegalStatusTransition,
		Severity: SeverityBlock,
		Message:  fmt.Sprintf("invalid act status transition %s -> %s", from, to),
		ActIDs:   []ActID{id},
	})
}

// Well-known HL7 ActMood codes.
const (
	MoodEvent      = "EVN"
	MoodIntent     = "INT"
	MoodRequest    = "RQO"
	MoodPromise    = "PRMS"
	MoodProposal   = "PRP"
	MoodGoal       = "GOL"
	MoodCriterion  = "EVN.CRT"
	MoodDefinition = "DEF"
)

// DefaultDefinitionMoods lists mood codes treated as definition moods when no
// configuration overrides them.
func DefaultDefinitionMoods() []string { return []string{MoodDefinition} }
