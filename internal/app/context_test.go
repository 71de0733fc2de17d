package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actgraph/internal/config"
	"actgraph/internal/domain"
)

func TestOpenWiresJournal(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, t.TempDir(), nil)
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.DB)

	_, err = rt.Engine.CreateAct(ctx, domain.NewAct{
		ClassCode: domain.Code{Code: "OBS"},
		MoodCode:  domain.Code{Code: domain.MoodEvent},
	})
	require.NoError(t, err)
	evs, err := rt.Events.Tail(ctx, 5)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "act.created", evs[0].Type)

	h, err := rt.Handler()
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestOpenWithoutJournal(t *testing.T) {
	workspace := t.TempDir()
	cfg := config.Default()
	cfg.Journal.Enabled = false
	rt, err := OpenWithConfig(context.Background(), workspace, cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, rt.DB)
	assert.Nil(t, rt.Events)
	assert.NoError(t, rt.Close())

	_, err = os.Stat(workspace + "/.actgraph")
	assert.True(t, os.IsNotExist(err))
}

func TestOpenRejectsBadConfig(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(workspace), []byte("engine:\n  shards: 0\n"), 0o644))
	_, err := Open(context.Background(), workspace, nil)
	assert.ErrorContains(t, err, "shards")
}
