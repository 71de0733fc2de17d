package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actgraph/internal/domain"
)

func putAct(s *Store, id domain.ActID) {
	txn := s.Begin()
	txn.PutAct(domain.Act{ID: id, ClassCode: domain.Code{Code: "OBS"}, MoodCode: domain.Code{Code: "EVN"}, StatusCode: domain.StatusNew})
	txn.Commit()
}

func putRel(s *Store, src, tgt domain.ActID, typeCode string) domain.ActRelationship {
	r := domain.ActRelationship{
		ID:          s.IDs().RelationshipID(),
		SourceActID: src,
		TargetActID: tgt,
		TypeCode:    typeCode,
		Sequence:    s.IDs().Sequence(),
	}
	txn := s.Begin()
	txn.PutRelationship(r)
	txn.Commit()
	return r
}

func ids(rels []domain.ActRelationship) []domain.RelationshipID {
	var out []domain.RelationshipID
	for _, r := range rels {
		out = append(out, r.ID)
	}
	return out
}

func TestTxnIsInvisibleUntilCommit(t *testing.T) {
	s := NewStore(4)
	putAct(s, "act-1")
	putAct(s, "act-2")

	txn := s.Begin()
	r := domain.ActRelationship{ID: "rel-1", SourceActID: "act-1", TargetActID: "act-2", TypeCode: domain.HasComponent, Sequence: 1}
	txn.PutRelationship(r)
	txn.DeleteAct("act-2")

	_, ok := txn.Act("act-2")
	assert.False(t, ok)
	assert.Len(t, txn.Outbound("act-1"), 1)
	assert.Len(t, txn.Inbound("act-2"), 1)

	_, ok = s.Act("act-2")
	assert.True(t, ok)
	assert.Empty(t, s.Outbound("act-1"))

	txn.Commit()
	_, ok = s.Act("act-2")
	assert.False(t, ok)
	assert.Equal(t, []domain.RelationshipID{"rel-1"}, ids(s.Outbound("act-1")))
	assert.Equal(t, []domain.RelationshipID{"rel-1"}, ids(s.Inbound("act-2")), "inbound edges of deleted acts stay indexed")
}

func TestIndexesKeepCreationOrderAcrossRepoint(t *testing.T) {
	s := NewStore(4)
	for _, id := range []domain.ActID{"act-1", "act-2", "act-3"} {
		putAct(s, id)
	}
	r1 := putRel(s, "act-1", "act-2", domain.HasReason)
	r2 := putRel(s, "act-1", "act-3", domain.HasReason)
	r3 := putRel(s, "act-1", "act-2", domain.IsSequel)

	assert.Equal(t, []domain.RelationshipID{r1.ID, r3.ID}, ids(s.Inbound("act-2")))

	txn := s.Begin()
	moved := r2
	moved.TargetActID = "act-2"
	txn.PutRelationship(moved)
	assert.Equal(t, []domain.RelationshipID{r1.ID, r2.ID, r3.ID}, ids(txn.Inbound("act-2")))
	assert.Empty(t, txn.Inbound("act-3"))
	txn.Commit()

	assert.Equal(t, []domain.RelationshipID{r1.ID, r2.ID, r3.ID}, ids(s.Inbound("act-2")))
	assert.Empty(t, s.Inbound("act-3"))
	assert.Equal(t, []domain.RelationshipID{r1.ID, r2.ID, r3.ID}, ids(s.Outbound("act-1")))
}

func TestSnapshotsDoNotAliasStore(t *testing.T) {
	s := NewStore(4)
	txn := s.Begin()
	txn.PutAct(domain.Act{ID: "act-1", PriorityCodes: []domain.Code{{Code: "R"}}, Code: &domain.Code{Code: "x"}})
	txn.Commit()

	a, ok := s.Act("act-1")
	require.True(t, ok)
	a.PriorityCodes[0].Code = "S"
	a.Code.Code = "y"

	again, _ := s.Act("act-1")
	assert.Equal(t, "R", again.PriorityCodes[0].Code)
	assert.Equal(t, "x", again.Code.Code)
}

func TestExportLoadRoundTripAdvancesAllocator(t *testing.T) {
	s := NewStore(4)
	putAct(s, s.IDs().ActID())
	putAct(s, s.IDs().ActID())
	putRel(s, "act-1", "act-2", domain.HasComponent)
	txn := s.Begin()
	txn.PutParticipation(domain.Participation{ID: s.IDs().ParticipationID(), ActID: "act-1", RoleID: "r", TypeCode: domain.Author, Sequence: s.IDs().Sequence()})
	txn.MarkDangling(domain.DanglingEdge{RelationshipID: "rel-9", SourceActID: "act-1", MissingActID: "act-7"})
	txn.Commit()

	snap := s.Export()
	require.Len(t, snap.Acts, 2)
	require.Len(t, snap.Relationships, 1)
	require.Len(t, snap.Participations, 1)
	require.Len(t, snap.Dangling, 1)

	fresh := NewStore(8)
	fresh.Load(snap)
	assert.Equal(t, s.Stats(), fresh.Stats())
	assert.Equal(t, snap, fresh.Export())
	assert.Equal(t, domain.ActID("act-3"), fresh.IDs().ActID())
	assert.Equal(t, domain.RelationshipID("rel-2"), fresh.IDs().RelationshipID())
	assert.Greater(t, fresh.IDs().Sequence(), snap.Participations[0].Sequence)
}

func TestCloneIsPointInTime(t *testing.T) {
	s := NewStore(4)
	putAct(s, "act-1")
	c := s.Clone()
	putAct(s, "act-2")
	assert.Equal(t, 1, c.Stats().Acts)
	assert.Equal(t, 2, s.Stats().Acts)
}

func TestConcurrentCommitsOnDisjointActs(t *testing.T) {
	s := NewStore(8)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				src, tgt := s.IDs().ActID(), s.IDs().ActID()
				putAct(s, src)
				putAct(s, tgt)
				putRel(s, src, tgt, domain.HasComponent)
			}
		}()
	}
	wg.Wait()
	st := s.Stats()
	assert.Equal(t, 800, st.Acts)
	assert.Equal(t, 400, st.Relationships)
	for _, r := range s.AllRelationships() {
		assert.Len(t, s.Outbound(r.SourceActID), 1)
		assert.Len(t, s.Inbound(r.TargetActID), 1)
	}
}

func TestReadNeverSeesHalfACommit(t *testing.T) {
	s := NewStore(8)
	src, tgt := s.IDs().ActID(), s.IDs().ActID()
	putAct(s, src)
	putAct(s, tgt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			r := putRel(s, src, tgt, domain.HasComponent)
			txn := s.Begin()
			txn.DeleteAct(src)
			txn.DeleteRelationship(r.ID)
			txn.Commit()
			putAct(s, src)
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		s.Read(func() {
			_, present := s.Act(src)
			out, in := s.Outbound(src), s.Inbound(tgt)
			if !present {
				assert.Empty(t, out)
				assert.Empty(t, in)
			}
			assert.Equal(t, len(out), len(in))
		})
	}
}

func TestCompareIDs(t *testing.T) {
	assert.Negative(t, CompareIDs("act-2", "act-10"))
	assert.Positive(t, CompareIDs("act-10", "act-9"))
	assert.Zero(t, CompareIDs("rel-1", "rel-1"))
}
