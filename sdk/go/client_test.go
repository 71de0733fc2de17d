package actgraphsdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actgraph/internal/engine"
	"actgraph/internal/server"
	actgraphsdk "actgraph/sdk/go"
)

func newClient(t *testing.T) *actgraphsdk.Client {
	t.Helper()
	eng, err := engine.New(nil)
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: eng})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return actgraphsdk.New(srv.URL)
}

func obs(text string) actgraphsdk.NewAct {
	return actgraphsdk.NewAct{
		ClassCode: actgraphsdk.Code{Code: "OBS"},
		MoodCode:  actgraphsdk.Code{Code: "EVN"},
		Text:      text,
	}
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	panel, err := c.CreateAct(ctx, obs("panel"))
	require.NoError(t, err)
	reading, err := c.CreateAct(ctx, obs("reading"))
	require.NoError(t, err)
	rel, err := c.Connect(ctx, panel.ID, reading.ID, "COMP", false)
	require.NoError(t, err)
	_, err = c.Attach(ctx, panel.ID, "role-nurse", "AUT", time.Time{})
	require.NoError(t, err)

	_, err = c.Connect(ctx, reading.ID, panel.ID, "COMP", false)
	var apiErr *actgraphsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "validation_failed", apiErr.Code)
	require.Len(t, apiErr.Violations, 1)
	assert.Equal(t, "CompositionCycle", apiErr.Violations[0].Kind)
	assert.False(t, actgraphsdk.Retryable(err))

	text, err := c.Text(ctx, panel.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "reading")

	out, err := c.Outbound(ctx, panel.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, rel.ID, out[0].ID)

	res, err := c.DeleteAct(ctx, reading.ID, false)
	require.NoError(t, err)
	assert.Len(t, res.Dangling, 1)
	dangling, err := c.Dangling(ctx)
	require.NoError(t, err)
	require.Len(t, dangling, 1)
	require.NoError(t, c.Disconnect(ctx, rel.ID))

	report, err := c.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Violations)

	_, err = c.GetAct(ctx, reading.ID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestSendTransmission(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	tx := map[string]any{
		"id":             uuid.NewString(),
		"creation_time":  time.Now().UTC(),
		"interaction_id": "PRPA_IN101103",
		"payload": []map[string]any{
			{"op": "create_act", "ref": "$a", "act": obs("from transmission")},
		},
	}
	ack, err := c.SendTransmission(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, "AA", ack.TypeCode)
	require.Contains(t, ack.Refs, "$a")

	act, err := c.GetAct(ctx, ack.Refs["$a"])
	require.NoError(t, err)
	assert.Equal(t, "from transmission", act.Text)

	tx["id"] = "not-a-uuid"
	ack, err = c.SendTransmission(ctx, tx)
	require.Error(t, err)
	assert.Equal(t, "AR", ack.TypeCode)
}
