package studioflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Studioflow HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Stage     string `json:"stage"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
}

// ApprovalConfig is one level of an approver chain. Field names follow the
// API's approval config wire shape.
type ApprovalConfig struct {
	ApproverType    string `json:"approver_type"`
	ApproverRole    string `json:"approver_role,omitempty"`
	ApproverUserID  string `json:"approver_user_id,omitempty"`
	Required        bool   `json:"required"`
	AllowDelegation bool   `json:"allow_delegation,omitempty"`
	RequireComment  bool   `json:"require_comment,omitempty"`
	ExpiryDays      *int   `json:"expiry_days,omitempty"`
}

// ApprovalRequest represents a sign-off in flight.
type ApprovalRequest struct {
	ID           string           `json:"id"`
	ProjectID    string           `json:"project_id"`
	EntityType   string           `json:"entity_type"`
	EntityID     string           `json:"entity_id"`
	EntityName   string           `json:"entity_name"`
	Stage        string           `json:"stage,omitempty"`
	Status       string           `json:"status"`
	CurrentLevel int              `json:"current_level"`
	AssignedTo   string           `json:"assigned_to"`
	Configs      []ApprovalConfig `json:"configs"`
	ExpiresAt    string           `json:"expires_at,omitempty"`
}

// GateResult reports whether a stage may complete and what blocks it.
type GateResult struct {
	Stage    string   `json:"stage"`
	Eligible bool     `json:"eligible"`
	Missing  []string `json:"missing"`
}

// Event represents a log entry. Payload carries the raw JSON document the
// server stores for the event.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// EventPage wraps event listings with a cursor. Next is 0 when exhausted.
type EventPage struct {
	Events []Event `json:"events"`
	Next   int64   `json:"next"`
}

// CreateTask creates a task in the client's project.
func (c *Client) CreateTask(ctx context.Context, stage, title, priority string) (Task, error) {
	body := map[string]any{
		"stage":    stage,
		"title":    title,
		"priority": priority,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// RequestApproval opens an approval request for an entity.
func (c *Client) RequestApproval(ctx context.Context, entityType, entityID, entityName, stage string, configs []ApprovalConfig) (ApprovalRequest, error) {
	body := map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"entity_name": entityName,
		"stage":       stage,
		"configs":     configs,
	}
	var resp ApprovalRequest
	err := c.do(ctx, http.MethodPost, c.projectPath("approvals"), body, &resp)
	return resp, err
}

// Approvals lists approval requests, optionally filtered by status.
func (c *Client) Approvals(ctx context.Context, status string) ([]ApprovalRequest, error) {
	endpoint := c.projectPath("approvals")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []ApprovalRequest
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Approval fetches a single request by id.
func (c *Client) Approval(ctx context.Context, id string) (ApprovalRequest, error) {
	var resp ApprovalRequest
	err := c.do(ctx, http.MethodGet, "v0/approvals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Approve approves the current level of a request.
func (c *Client) Approve(ctx context.Context, id, comment string) (ApprovalRequest, error) {
	return c.decide(ctx, id, "approve", comment)
}

// Reject rejects a request. Rejection is final.
func (c *Client) Reject(ctx context.Context, id, comment string) (ApprovalRequest, error) {
	return c.decide(ctx, id, "reject", comment)
}

func (c *Client) decide(ctx context.Context, id, action, comment string) (ApprovalRequest, error) {
	body := map[string]any{"comment": comment}
	var resp ApprovalRequest
	endpoint := fmt.Sprintf("v0/approvals/%s/%s", url.PathEscape(id), action)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Delegate hands the current level to another member.
func (c *Client) Delegate(ctx context.Context, id, delegateID, comment string) (ApprovalRequest, error) {
	body := map[string]any{
		"delegate_id": delegateID,
		"comment":     comment,
	}
	var resp ApprovalRequest
	endpoint := fmt.Sprintf("v0/approvals/%s/delegate", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// StageGate checks whether a stage is eligible for completion.
func (c *Client) StageGate(ctx context.Context, stage string) (GateResult, error) {
	var resp GateResult
	endpoint := c.projectPath(fmt.Sprintf("stages/%s/gate", url.PathEscape(stage)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteStage completes a stage and activates the next one.
func (c *Client) CompleteStage(ctx context.Context, stage string) error {
	endpoint := c.projectPath(fmt.Sprintf("stages/%s/complete", url.PathEscape(stage)))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{}, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, 0)
	return page.Events, err
}

// EventsPage returns a paginated event listing. Pass a page's Next value
// as before to fetch the one after it.
func (c *Client) EventsPage(ctx context.Context, limit int, before int64) (EventPage, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if c.ProjectID != "" {
		params.Set("project", c.ProjectID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if before > 0 {
		params.Set("before", fmt.Sprint(before))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp EventPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
