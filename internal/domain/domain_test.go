package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusNew:       {StatusActive, StatusCancelled, StatusAborted},
		StatusActive:    {StatusCompleted, StatusCancelled, StatusAborted, StatusSuspended},
		StatusSuspended: {StatusActive},
	}
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
			err := EnsureTransition("act-1", from, to)
			if want {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrIllegalStatusTransition)
			}
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusAborted} {
		assert.True(t, s.Terminal())
	}
	assert.False(t, Status("paused").Valid())
}

func TestValidationErrorMatchesEveryKind(t *testing.T) {
	err := Reject(
		Violation{Kind: KindSelfLoop, Severity: SeverityBlock, Message: "loop"},
		Violation{Kind: KindCompositionCycle, Severity: SeverityBlock, Message: "cycle"},
	)
	wrapped := fmt.Errorf("connect: %w", err)
	assert.ErrorIs(t, wrapped, ErrSelfLoop)
	assert.ErrorIs(t, wrapped, ErrCompositionCycle)
	assert.NotErrorIs(t, wrapped, ErrDuplicateParticipation)
	assert.False(t, Retryable(wrapped))

	var verr *ValidationError
	require.True(t, errors.As(wrapped, &verr))
	assert.Equal(t, []Kind{KindSelfLoop, KindCompositionCycle}, verr.Kinds())
	assert.Contains(t, err.Error(), "2 violations")
}

func TestResultSeparatesWarnings(t *testing.T) {
	var r Result
	r.Add(Violation{Kind: KindDanglingEdge, Severity: SeverityWarn, Message: "dangling"})
	assert.False(t, r.HasBlocking())
	assert.NoError(t, r.Err())
	assert.Len(t, r.Warnings(), 1)

	r.Merge(Result{Violations: []Violation{{Kind: KindSelfLoop, Severity: SeverityBlock}}})
	assert.True(t, r.HasBlocking())
	assert.ErrorIs(t, r.Err(), ErrSelfLoop)
	assert.NotErrorIs(t, r.Err(), ErrDanglingEdge)
}

func TestSortViolationsDropsDuplicates(t *testing.T) {
	dup := Violation{Kind: KindDuplicateParticipation, ActIDs: []ActID{"act-1"}, ParticipationIDs: []ParticipationID{"ptcp-1", "ptcp-2"}}
	vs := SortViolations([]Violation{dup, {Kind: KindSelfLoop, ActIDs: []ActID{"act-2"}}, dup})
	require.Len(t, vs, 2)
	assert.Equal(t, KindDuplicateParticipation, vs[0].Kind)
}

func TestTouches(t *testing.T) {
	v := Violation{ActIDs: []ActID{"act-1", "act-2"}, RelationshipIDs: []RelationshipID{"rel-1"}}
	assert.True(t, v.Touches(map[ActID]struct{}{"act-2": {}}, nil, nil))
	assert.True(t, v.Touches(nil, map[RelationshipID]struct{}{"rel-1": {}}, nil))
	assert.False(t, v.Touches(map[ActID]struct{}{"act-3": {}}, nil, map[ParticipationID]struct{}{"ptcp-1": {}}))
}

func TestTristateJSON(t *testing.T) {
	var doc struct {
		A Tristate `json:"a"`
		B Tristate `json:"b"`
		C Tristate `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":true,"b":false,"c":null}`), &doc))
	assert.Equal(t, True, doc.A)
	assert.Equal(t, False, doc.B)
	assert.Equal(t, Unspecified, doc.C)

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":true,"b":false,"c":null}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"a":"yes"}`), &doc))
}

func TestPatchApplyLeavesImmutableFields(t *testing.T) {
	act := Act{ID: "act-1", ClassCode: Code{Code: "OBS"}, MoodCode: Code{Code: MoodEvent}, Title: "old", Code: &Code{Code: "x"}}
	title := "new"
	class := Code{Code: "PROC"}
	ActPatch{Title: &title, ClassCode: &class, MoodCode: &Code{Code: MoodDefinition}, ClearCode: true}.Apply(&act)
	assert.Equal(t, "new", act.Title)
	assert.Nil(t, act.Code)
	assert.Equal(t, "OBS", act.ClassCode.Code)
	assert.Equal(t, MoodEvent, act.MoodCode.Code)
}

func TestParseCode(t *testing.T) {
	assert.Equal(t, Code{System: "http://loinc.org", Code: "8480-6"}, ParseCode("http://loinc.org#8480-6"))
	assert.Equal(t, Code{Code: "OBS"}, ParseCode("OBS"))
	assert.Equal(t, "http://loinc.org#8480-6", ParseCode("http://loinc.org#8480-6").String())
}
