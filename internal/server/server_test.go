package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actgraph/internal/db"
	"actgraph/internal/engine"
	"actgraph/internal/events"
	"actgraph/internal/metrics"
	"actgraph/internal/migrate"
	"actgraph/internal/server"
)

const secret = "test-secret"

type testServer struct {
	*httptest.Server
	token string
}

func newTestServer(t *testing.T, auth server.AuthConfig) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	reg := prometheus.NewRegistry()
	eng, err := engine.New(nil,
		engine.WithJournal(events.Writer{DB: conn}),
		engine.WithMetrics(metrics.New(reg)),
	)
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine:   eng,
		Events:   &events.Reader{DB: conn},
		Gatherer: reg,
		BasePath: "/v0",
		Auth:     auth,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	status, raw := s.raw(t, method, path, body)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return status, out
}

func (s *testServer) raw(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (s *testServer) createAct(t *testing.T, class string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/v0/acts", map[string]any{
		"class_code": map[string]string{"code": class},
		"mood_code":  map[string]string{"code": "EVN"},
		"text":       class + " text",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["id"].(string)
}

func errorBody(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	env, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", body)
	return env
}

func TestActLifecycle(t *testing.T) {
	s := newTestServer(t, server.AuthConfig{})
	id := s.createAct(t, "OBS")

	status, body := s.do(t, http.MethodGet, "/v0/acts/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "new", body["status_code"])
	assert.NotContains(t, body, "action_negation_ind")

	status, body = s.do(t, http.MethodPatch, "/v0/acts/"+id, map[string]any{
		"title":               "blood pressure",
		"action_negation_ind": false,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "blood pressure", body["title"])
	assert.Equal(t, false, body["action_negation_ind"])

	status, body = s.do(t, http.MethodPatch, "/v0/acts/"+id, map[string]any{
		"mood_code": map[string]string{"code": "RQO"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	env := errorBody(t, body)
	assert.Equal(t, "validation_failed", env["code"])
	assert.Equal(t, []any{"ImmutableFieldViolation"}, env["details"].(map[string]any)["kinds"])

	status, body = s.do(t, http.MethodPost, "/v0/acts/"+id+"/status", map[string]any{"status": "active"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "active", body["status_code"])

	status, body = s.do(t, http.MethodPost, "/v0/acts/"+id+"/status", map[string]any{"status": "new"})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, []any{"IllegalStatusTransition"}, errorBody(t, body)["details"].(map[string]any)["kinds"])

	status, body = s.do(t, http.MethodPost, "/v0/acts/"+id+"/status", map[string]any{"status": "bogus"})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", errorBody(t, body)["code"])

	status, body = s.do(t, http.MethodGet, "/v0/acts/act-404", nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorBody(t, body)["code"])
}

func TestCompositionCycleIsRejected(t *testing.T) {
	s := newTestServer(t, server.AuthConfig{})
	a, b := s.createAct(t, "OBS"), s.createAct(t, "OBS")

	status, body := s.do(t, http.MethodPost, "/v0/relationships", map[string]any{
		"source_act_id": a, "target_act_id": b, "type_code": "COMP",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "COMP", body["type_code"])

	status, body = s.do(t, http.MethodPost, "/v0/relationships", map[string]any{
		"source_act_id": b, "target_act_id": a, "type_code": "COMP",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	details := errorBody(t, body)["details"].(map[string]any)
	assert.Equal(t, []any{"CompositionCycle"}, details["kinds"])
	assert.Len(t, details["violations"], 1)

	var rels []map[string]any
	status, raw := s.raw(t, http.MethodGet, "/v0/acts/"+a+"/outbound", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &rels))
	assert.Len(t, rels, 1)
}

func TestDeleteLeavesDanglingEdge(t *testing.T) {
	s := newTestServer(t, server.AuthConfig{})
	src, tgt := s.createAct(t, "OBS"), s.createAct(t, "OBS")
	status, rel := s.do(t, http.MethodPost, "/v0/relationships", map[string]any{
		"source_act_id": src, "target_act_id": tgt, "type_code": "RSON",
	})
	require.Equal(t, http.StatusCreated, status)
	status, _ = s.do(t, http.MethodPost, "/v0/participations", map[string]any{
		"act_id": tgt, "role_id": "role-nurse", "type_code": "AUT",
	})
	require.Equal(t, http.StatusCreated, status)

	status, body := s.do(t, http.MethodDelete, "/v0/acts/"+tgt, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["dangling"], 1)
	assert.Len(t, body["removed_participations"], 1)

	var dangling []map[string]any
	status, raw := s.raw(t, http.MethodGet, "/v0/dangling", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &dangling))
	require.Len(t, dangling, 1)
	assert.Equal(t, rel["id"], dangling[0]["relationship_id"])

	status, body = s.do(t, http.MethodGet, "/v0/audit", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["blocking"])
	assert.Len(t, body["violations"], 1)

	other := s.createAct(t, "OBS")
	status, body = s.do(t, http.MethodPost, "/v0/relationships/"+rel["id"].(string)+"/repoint", map[string]any{"target_act_id": other})
	require.Equal(t, http.StatusOK, status, body)
	status, raw = s.raw(t, http.MethodGet, "/v0/dangling", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(raw))

	status, _ = s.raw(t, http.MethodDelete, "/v0/relationships/"+rel["id"].(string), nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestTextEndpoint(t *testing.T) {
	s := newTestServer(t, server.AuthConfig{})
	panel, part := s.createAct(t, "OBS"), s.createAct(t, "PROC")
	status, _ := s.do(t, http.MethodPost, "/v0/relationships", map[string]any{
		"source_act_id": panel, "target_act_id": part, "type_code": "COMP",
	})
	require.Equal(t, http.StatusCreated, status)

	resp, err := s.Client().Get(s.URL + "/v0/acts/" + panel + "/text")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "OBS text")
	assert.Contains(t, string(data), "COMP "+part)
}

func TestTransmissionAcknowledgement(t *testing.T) {
	s := newTestServer(t, server.AuthConfig{})
	tx := map[string]any{
		"id":             uuid.NewString(),
		"creation_time":  time.Now().UTC(),
		"interaction_id": "PRPA_IN101103",
		"payload": []map[string]any{
			{"op": "create_act", "ref": "$a", "act": map[string]any{
				"class_code":          map[string]string{"code": "OBS"},
				"mood_code":           map[string]string{"code": "EVN"},
				"action_negation_ind": true,
			}},
			{"op": "attach", "act_id": "$a", "role_id": "role-1", "type_code": "AUT"},
		},
	}
	status, body := s.do(t, http.MethodPost, "/v0/transmissions", tx)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "AA", body["type_code"])
	assert.Equal(t, tx["id"], body["acknowledges"])
	refs := body["refs"].(map[string]any)

	status, act := s.do(t, http.MethodGet, "/v0/acts/"+refs["$a"].(string), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, act["action_negation_ind"])

	delete(tx, "interaction_id")
	tx["id"] = uuid.NewString()
	status, body = s.do(t, http.MethodPost, "/v0/transmissions", tx)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "AR", body["type_code"])

	status, _ = s.raw(t, http.MethodPost, "/v0/transmissions", "not an envelope")
	assert.Equal(t, http.StatusBadRequest, status)

	resp, err := s.Client().Post(s.URL+"/v0/transmissions", "application/json", strings.NewReader("{garbage"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMinimalTransmissionIsApplied(t *testing.T) {
	s := newTestServer(t, server.AuthConfig{})
	envelope := `{"id":"` + uuid.NewString() + `","creation_time":"2024-05-01T10:00:00Z","interaction_id":"PRPA_IN101103",` +
		`"payload":[{"op":"create_act","ref":"$obs","act":{"class_code":{"code":"OBS"},"mood_code":{"code":"EVN"}}}]}`
	resp, err := s.Client().Post(s.URL+"/v0/transmissions", "application/json", strings.NewReader(envelope))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var ack struct {
		TypeCode string            `json:"type_code"`
		Refs     map[string]string `json:"refs"`
	}
	require.NoError(t, json.Unmarshal(data, &ack))
	assert.Equal(t, "AA", ack.TypeCode)
	assert.Contains(t, ack.Refs, "$obs")
}

func TestBearerAuthSetsJournalActor(t *testing.T) {
	s := newTestServer(t, server.AuthConfig{JWTSecret: secret})

	status, body := s.do(t, http.MethodGet, "/v0/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = s.do(t, http.MethodGet, "/v0/audit", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorBody(t, body)["code"])

	s.token = "garbage"
	status, body = s.do(t, http.MethodGet, "/v0/audit", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", errorBody(t, body)["code"])

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "dr-who",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	s.token = token
	id := s.createAct(t, "OBS")

	status, body = s.do(t, http.MethodGet, "/v0/events?entity_kind=act&limit=1", nil)
	require.Equal(t, http.StatusOK, status, body)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	evt := items[0].(map[string]any)
	assert.Equal(t, "act.created", evt["type"])
	assert.Equal(t, id, evt["entity_id"])
	assert.Equal(t, "dr-who", evt["actor_id"])

	status, body = s.do(t, http.MethodGet, "/v0/events?cursor=abc", nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", errorBody(t, body)["code"])
}

func TestOpenAPIAndMetrics(t *testing.T) {
	s := newTestServer(t, server.AuthConfig{JWTSecret: secret})

	status, body := s.do(t, http.MethodGet, "/v0/openapi.json", nil)
	require.Equal(t, http.StatusOK, status)
	schemes := body["components"].(map[string]any)["securitySchemes"].(map[string]any)
	assert.Contains(t, schemes, "bearerAuth")
	assert.Contains(t, body["paths"], "/v0/acts/{id}/text")

	status, raw := s.raw(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "actgraph_contention_timeouts_total")
}
