// Package actions is the client for the predictive-action recommendation
// service: an HTTP endpoint returning ranked remediation actions for a
// described failure.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Failure types accepted by the recommendation service.
const (
	FailureTypeSecurityAlert = "security_alert"
	FailureTypeCIFailure     = "ci_failure"
	FailureTypeSpamIncident  = "spam_incident"
)

const defaultTimeout = 10 * time.Second

// ActionRequest is the body of POST /api/predictive_actions.
type ActionRequest struct {
	FailureDescription string         `json:"failure_description"`
	FailureType        string         `json:"failure_type"`
	Context            map[string]any `json:"context"`
	Severity           string         `json:"severity"`
	UserID             string         `json:"user_id,omitempty"`
	SessionID          string         `json:"session_id,omitempty"`
}

// RecommendedAction is one ranked remediation action.
type RecommendedAction struct {
	ActionID      string   `json:"action_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ActionType    string   `json:"action_type"`
	Priority      int      `json:"priority"`
	EstimatedTime string   `json:"estimated_time,omitempty"`
	SuccessRate   *float64 `json:"success_rate,omitempty"`
}

// ActionResponse is the body returned by POST /api/predictive_actions.
type ActionResponse struct {
	RequestID           string              `json:"request_id"`
	Actions             []RecommendedAction `json:"actions"`
	RecommendedActionID string              `json:"recommended_action_id,omitempty"`
}

// SelectionLog is the body of POST /api/actions/log_selection.
type SelectionLog struct {
	RequestID  string `json:"request_id"`
	ActionID   string `json:"action_id"`
	SelectedAt string `json:"selected_at"`
	Outcome    string `json:"outcome,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
}

// Client calls the recommendation service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the service at baseURL. A zero timeout
// defaults to 10 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Recommend requests ranked remediation actions for a failure.
// A non-200 response is an error.
func (c *Client) Recommend(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	if req.Context == nil {
		req.Context = map[string]any{}
	}
	var out ActionResponse
	if err := c.post(ctx, "/api/predictive_actions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LogSelection reports which action the operator picked. The confirmation
// payload is returned as-is.
func (c *Client) LogSelection(ctx context.Context, sel SelectionLog) (map[string]any, error) {
	var out map[string]any
	if err := c.post(ctx, "/api/actions/log_selection", sel, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("actions API returned %d: %s", resp.StatusCode, string(snippet))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}
