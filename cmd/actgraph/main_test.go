package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actgraph/internal/domain"
	"actgraph/internal/graph"
	"actgraph/internal/ingest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func act(id, class string) domain.Act {
	return domain.Act{
		ID:         domain.ActID(id),
		ClassCode:  domain.Code{Code: class},
		MoodCode:   domain.Code{Code: domain.MoodEvent},
		StatusCode: domain.StatusNew,
		Text:       class + " " + id,
	}
}

func rel(id, src, tgt, typeCode string, seq uint64) domain.ActRelationship {
	return domain.ActRelationship{
		ID:          domain.RelationshipID(id),
		SourceActID: domain.ActID(src),
		TargetActID: domain.ActID(tgt),
		TypeCode:    typeCode,
		Sequence:    seq,
	}
}

func writeFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, writeJSON(path, v))
	return path
}

func TestAuditReportsBlockingViolations(t *testing.T) {
	dir := t.TempDir()
	clean := writeFile(t, dir, "clean.json", graph.Snapshot{
		Acts:          []domain.Act{act("act-1", "OBS"), act("act-2", "OBS")},
		Relationships: []domain.ActRelationship{rel("rel-1", "act-1", "act-2", domain.HasComponent, 1)},
	})
	out, err := run(t, "audit", "-w", dir, "--file", clean)
	require.NoError(t, err)
	assert.Contains(t, out, "0 violations (0 blocking)")

	cyclic := writeFile(t, dir, "cyclic.json", graph.Snapshot{
		Acts: []domain.Act{act("act-1", "OBS"), act("act-2", "OBS")},
		Relationships: []domain.ActRelationship{
			rel("rel-1", "act-1", "act-2", domain.HasComponent, 1),
			rel("rel-2", "act-2", "act-1", domain.HasComponent, 2),
		},
	})
	out, err = run(t, "audit", "-w", dir, "--file", cyclic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocking violations")
	assert.Contains(t, out, string(domain.KindCompositionCycle))
}

func TestRenderFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := writeFile(t, dir, "graph.json", graph.Snapshot{
		Acts:          []domain.Act{act("act-1", "OBS"), act("act-2", "PROC")},
		Relationships: []domain.ActRelationship{rel("rel-1", "act-1", "act-2", domain.HasComponent, 1)},
	})
	out, err := run(t, "render", "-w", dir, "--file", snap, "--act", "act-1")
	require.NoError(t, err)
	assert.Contains(t, out, "OBS act-1")
	assert.Contains(t, out, "PROC act-2")

	_, err = run(t, "render", "-w", dir, "--file", snap, "--act", "act-9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIngestWritesResultingSnapshot(t *testing.T) {
	dir := t.TempDir()
	start := writeFile(t, dir, "start.json", graph.Snapshot{
		Acts: []domain.Act{act("act-1", "OBS")},
	})
	tx := writeFile(t, dir, "tx.json", ingest.Transmission{
		ID:            uuid.NewString(),
		CreationTime:  time.Now().UTC(),
		InteractionID: "PRPA_IN101103",
		Payload: []ingest.Mutation{
			{Op: ingest.OpCreateAct, Ref: "$b", Act: &domain.NewAct{
				ClassCode: domain.Code{Code: "OBS"},
				MoodCode:  domain.Code{Code: domain.MoodEvent},
			}},
			{Op: ingest.OpConnect, SourceActID: "act-1", TargetActID: "$b", TypeCode: domain.HasComponent},
		},
	})
	result := filepath.Join(dir, "out.json")
	out, err := run(t, "ingest", "-w", dir, "--file", tx, "--snapshot", start, "--out", result)
	require.NoError(t, err)
	assert.Contains(t, out, "AA ")

	data, err := os.ReadFile(result)
	require.NoError(t, err)
	var snap graph.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Len(t, snap.Acts, 2)
	require.Len(t, snap.Relationships, 1)
	assert.Equal(t, domain.ActID("act-1"), snap.Relationships[0].SourceActID)
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "config", "validate", "-w", dir)
	require.Error(t, err)

	out, err := run(t, "config", "init", "-w", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "actgraph.yml")
	_, err = run(t, "config", "init", "-w", dir)
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "config", "validate", "-w", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")

	out, err = run(t, "config", "show", "-w", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "lock_timeout")
}

func TestLogTailOnEmptyJournal(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "log", "tail", "-w", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "TYPE")
}
