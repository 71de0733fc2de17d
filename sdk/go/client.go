package actgraphsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal act graph HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Code struct {
	System string `json:"system,omitempty"`
	Code   string `json:"code"`
}

// NewAct is the create-act request. Nil pointers are left to server defaults.
type NewAct struct {
	ClassCode         Code   `json:"class_code"`
	MoodCode          Code   `json:"mood_code"`
	Code              *Code  `json:"code,omitempty"`
	ActionNegationInd *bool  `json:"action_negation_ind,omitempty"`
	IsCriterionInd    bool   `json:"is_criterion_ind,omitempty"`
	StatusCode        string `json:"status_code,omitempty"`
	Title             string `json:"title,omitempty"`
	Text              string `json:"text,omitempty"`
}

// Act represents the API act model (partial).
type Act struct {
	ID                string    `json:"id"`
	ClassCode         Code      `json:"class_code"`
	MoodCode          Code      `json:"mood_code"`
	Code              *Code     `json:"code,omitempty"`
	ActionNegationInd *bool     `json:"action_negation_ind,omitempty"`
	IsCriterionInd    bool      `json:"is_criterion_ind"`
	StatusCode        string    `json:"status_code"`
	Title             string    `json:"title,omitempty"`
	Text              string    `json:"text,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Relationship struct {
	ID          string `json:"id"`
	SourceActID string `json:"source_act_id"`
	TargetActID string `json:"target_act_id"`
	TypeCode    string `json:"type_code"`
	Conductible bool   `json:"conductible"`
	Sequence    uint64 `json:"sequence"`
}

type Participation struct {
	ID       string    `json:"id"`
	ActID    string    `json:"act_id"`
	RoleID   string    `json:"role_id"`
	TypeCode string    `json:"type_code"`
	Time     time.Time `json:"time"`
}

type DanglingEdge struct {
	RelationshipID string    `json:"relationship_id"`
	SourceActID    string    `json:"source_act_id"`
	MissingActID   string    `json:"missing_act_id"`
	TypeCode       string    `json:"type_code"`
	DetectedAt     time.Time `json:"detected_at"`
}

// Violation is one broken integrity rule.
type Violation struct {
	Kind             string   `json:"kind"`
	Severity         string   `json:"severity"`
	Message          string   `json:"message"`
	ActIDs           []string `json:"act_ids,omitempty"`
	RelationshipIDs  []string `json:"relationship_ids,omitempty"`
	ParticipationIDs []string `json:"participation_ids,omitempty"`
}

type DeleteResult struct {
	ActID                 string         `json:"act_id"`
	RemovedRelationships  []string       `json:"removed_relationships"`
	RemovedParticipations []string       `json:"removed_participations"`
	Dangling              []DanglingEdge `json:"dangling"`
	Warnings              []Violation    `json:"warnings"`
}

type AuditReport struct {
	Violations []Violation `json:"violations"`
	Blocking   int         `json:"blocking"`
	DurationMS int64       `json:"duration_ms"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Acknowledgement answers a transmission.
type Acknowledgement struct {
	ID           string            `json:"id"`
	Acknowledges string            `json:"acknowledges"`
	TypeCode     string            `json:"type_code"`
	Details      []AckDetail       `json:"details,omitempty"`
	Refs         map[string]string `json:"refs,omitempty"`
}

type AckDetail struct {
	TypeCode string `json:"type_code"`
	Code     string `json:"code"`
	Note     string `json:"note,omitempty"`
	Location string `json:"location,omitempty"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Violations are filled from the
// error envelope when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Violations []Violation
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether err is a lock contention the caller may retry.
func Retryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "contention_timeout"
}

func (c *Client) CreateAct(ctx context.Context, act NewAct) (Act, error) {
	var resp Act
	err := c.do(ctx, http.MethodPost, "acts", act, &resp)
	return resp, err
}

func (c *Client) GetAct(ctx context.Context, id string) (Act, error) {
	var resp Act
	err := c.do(ctx, http.MethodGet, "acts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateAct sends a partial update; see the API docs for accepted fields.
func (c *Client) UpdateAct(ctx context.Context, id string, patch map[string]any) (Act, error) {
	var resp Act
	err := c.do(ctx, http.MethodPatch, "acts/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) SetStatus(ctx context.Context, id, status string) (Act, error) {
	var resp Act
	err := c.do(ctx, http.MethodPost, "acts/"+url.PathEscape(id)+"/status", map[string]any{"status": status}, &resp)
	return resp, err
}

// Supersede replaces prior with replacement. An empty status closes prior as
// cancelled.
func (c *Client) Supersede(ctx context.Context, prior, replacement, status string) (Relationship, error) {
	body := map[string]any{"replacement_id": replacement}
	if status != "" {
		body["status"] = status
	}
	var resp Relationship
	err := c.do(ctx, http.MethodPost, "acts/"+url.PathEscape(prior)+"/supersede", body, &resp)
	return resp, err
}

func (c *Client) DeleteAct(ctx context.Context, id string, cascadeInbound bool) (DeleteResult, error) {
	endpoint := "acts/" + url.PathEscape(id)
	if cascadeInbound {
		endpoint += "?cascade_inbound=true"
	}
	var resp DeleteResult
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Outbound(ctx context.Context, id string) ([]Relationship, error) {
	var resp []Relationship
	err := c.do(ctx, http.MethodGet, "acts/"+url.PathEscape(id)+"/outbound", nil, &resp)
	return resp, err
}

func (c *Client) Inbound(ctx context.Context, id string) ([]Relationship, error) {
	var resp []Relationship
	err := c.do(ctx, http.MethodGet, "acts/"+url.PathEscape(id)+"/inbound", nil, &resp)
	return resp, err
}

// Text returns the rendered text of an act.
func (c *Client) Text(ctx context.Context, id string) (string, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, "acts/"+url.PathEscape(id)+"/text", nil, &buf)
	return strings.TrimRight(buf.String(), "\n"), err
}

func (c *Client) Connect(ctx context.Context, source, target, typeCode string, conductible bool) (Relationship, error) {
	body := map[string]any{
		"source_act_id": source,
		"target_act_id": target,
		"type_code":     typeCode,
		"conductible":   conductible,
	}
	var resp Relationship
	err := c.do(ctx, http.MethodPost, "relationships", body, &resp)
	return resp, err
}

func (c *Client) Disconnect(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "relationships/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Repoint(ctx context.Context, id, target string) (Relationship, error) {
	var resp Relationship
	err := c.do(ctx, http.MethodPost, "relationships/"+url.PathEscape(id)+"/repoint", map[string]any{"target_act_id": target}, &resp)
	return resp, err
}

func (c *Client) Dangling(ctx context.Context) ([]DanglingEdge, error) {
	var resp []DanglingEdge
	err := c.do(ctx, http.MethodGet, "dangling", nil, &resp)
	return resp, err
}

// Attach adds a participation. A zero at lets the server use its clock.
func (c *Client) Attach(ctx context.Context, actID, roleID, typeCode string, at time.Time) (Participation, error) {
	body := map[string]any{
		"act_id":    actID,
		"role_id":   roleID,
		"type_code": typeCode,
	}
	if !at.IsZero() {
		body["time"] = at
	}
	var resp Participation
	err := c.do(ctx, http.MethodPost, "participations", body, &resp)
	return resp, err
}

func (c *Client) Detach(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "participations/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Audit(ctx context.Context) (AuditReport, error) {
	var resp AuditReport
	err := c.do(ctx, http.MethodGet, "audit", nil, &resp)
	return resp, err
}

// SendTransmission posts a transmission envelope. A rejected envelope (AR)
// still returns its acknowledgement alongside the APIError.
func (c *Client) SendTransmission(ctx context.Context, transmission any) (Acknowledgement, error) {
	var resp Acknowledgement
	err := c.do(ctx, http.MethodPost, "transmissions", transmission, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		if json.Unmarshal([]byte(apiErr.Body), &resp) == nil && resp.TypeCode != "" {
			return resp, err
		}
	}
	return resp, err
}

// EventsPage returns a paginated journal listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, b)
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details struct {
				Violations []Violation `json:"violations"`
			} `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Violations = env.Error.Details.Violations
	}
	return apiErr
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
