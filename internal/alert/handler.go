// Package alert processes security and CI alerts: it asks the
// recommendation service for ranked remediation actions and shapes the
// result for the operator surface.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/caseflow/internal/actions"
)

// Alert is a security or CI alert awaiting triage.
type Alert struct {
	AlertID     string         `json:"alert_id"`
	AlertType   string         `json:"alert_type"` // security_alert, ci_failure, spam_incident
	Severity    string         `json:"severity"`   // critical, high, medium, low
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	Timestamp   string         `json:"timestamp"`
	Context     map[string]any `json:"context,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
}

// UIAction is a recommended action shaped for display.
type UIAction struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Type          string `json:"type"`
	Priority      int    `json:"priority"`
	EstimatedTime string `json:"estimated_time"`
	Confidence    int    `json:"confidence"` // success rate as a percentage
	IsRecommended bool   `json:"is_recommended"`
	ButtonLabel   string `json:"button_label"`
}

// Notification summarizes an alert for the notification surface.
type Notification struct {
	Title             string `json:"title"`
	Message           string `json:"message"`
	Severity          string `json:"severity"`
	Color             string `json:"color"`
	ActionCount       int    `json:"action_count"`
	RecommendedAction string `json:"recommended_action,omitempty"`
}

// Result is the outcome of handling one alert.
type Result struct {
	AlertID      string       `json:"alert_id"`
	AlertType    string       `json:"alert_type"`
	Timestamp    string       `json:"timestamp"`
	RequestID    string       `json:"request_id"`
	Actions      []UIAction   `json:"actions"`
	Notification Notification `json:"notification"`
	Status       string       `json:"status"`
}

// Recommender is the slice of the actions client the handler needs.
type Recommender interface {
	Recommend(ctx context.Context, req actions.ActionRequest) (*actions.ActionResponse, error)
	LogSelection(ctx context.Context, sel actions.SelectionLog) (map[string]any, error)
}

// Handler turns alerts into action recommendations.
type Handler struct {
	client Recommender
	logger *slog.Logger
	clock  func() time.Time

	mu   sync.Mutex
	logs []map[string]any
}

// NewHandler creates a Handler backed by the given recommendation client.
func NewHandler(client Recommender, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client: client,
		logger: logger,
		clock:  time.Now,
	}
}

// HandleAlert requests recommendations for the alert and returns a
// display-ready result. A recommendation-service failure is returned as an
// error; the caller decides how to surface it.
func (h *Handler) HandleAlert(ctx context.Context, a Alert) (*Result, error) {
	h.logger.Info("processing alert", "alert_id", a.AlertID, "alert_type", a.AlertType)

	failureType := a.AlertType
	switch failureType {
	case actions.FailureTypeSecurityAlert, actions.FailureTypeCIFailure, actions.FailureTypeSpamIncident:
	default:
		failureType = actions.FailureTypeSecurityAlert
	}

	resp, err := h.client.Recommend(ctx, actions.ActionRequest{
		FailureDescription: a.Description,
		FailureType:        failureType,
		Context:            a.Context,
		Severity:           a.Severity,
		UserID:             a.UserID,
		SessionID:          a.SessionID,
	})
	if err != nil {
		h.logger.Error("recommendation request failed", "alert_id", a.AlertID, "error", err)
		return nil, fmt.Errorf("alert %s: get recommendations: %w", a.AlertID, err)
	}

	result := &Result{
		AlertID:      a.AlertID,
		AlertType:    a.AlertType,
		Timestamp:    h.clock().UTC().Format(time.RFC3339),
		RequestID:    resp.RequestID,
		Actions:      formatActions(resp.Actions, resp.RecommendedActionID),
		Notification: buildNotification(a, resp),
		Status:       "ready_for_action",
	}
	h.logger.Info("alert processed", "alert_id", a.AlertID, "action_count", len(result.Actions))
	return result, nil
}

// LogUserAction reports the operator's selection for ML training. Failures
// are logged and swallowed; selection logging never blocks remediation.
func (h *Handler) LogUserAction(ctx context.Context, requestID, actionID, outcome, feedback string) {
	confirmation, err := h.client.LogSelection(ctx, actions.SelectionLog{
		RequestID:  requestID,
		ActionID:   actionID,
		SelectedAt: h.clock().UTC().Format(time.RFC3339),
		Outcome:    outcome,
		Feedback:   feedback,
	})
	if err != nil {
		h.logger.Error("action selection logging failed",
			"request_id", requestID, "action_id", actionID, "error", err)
		return
	}

	h.mu.Lock()
	h.logs = append(h.logs, confirmation)
	h.mu.Unlock()
	h.logger.Info("action selection logged", "request_id", requestID, "action_id", actionID)
}

// Logs returns the confirmations accumulated by LogUserAction.
func (h *Handler) Logs() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]map[string]any, len(h.logs))
	copy(out, h.logs)
	return out
}

func formatActions(ranked []actions.RecommendedAction, recommendedID string) []UIAction {
	out := make([]UIAction, 0, len(ranked))
	for _, action := range ranked {
		estimated := action.EstimatedTime
		if estimated == "" {
			estimated = "Unknown"
		}
		var confidence int
		if action.SuccessRate != nil {
			confidence = int(*action.SuccessRate*100 + 0.5)
		}
		out = append(out, UIAction{
			ID:            action.ActionID,
			Title:         action.Title,
			Description:   action.Description,
			Type:          action.ActionType,
			Priority:      action.Priority,
			EstimatedTime: estimated,
			Confidence:    confidence,
			IsRecommended: action.ActionID == recommendedID,
			ButtonLabel:   buttonLabel(action.ActionType),
		})
	}
	return out
}

func buttonLabel(actionType string) string {
	switch actionType {
	case "auto_fix":
		return "Execute Fix"
	case "manual_review":
		return "Review Details"
	case "escalate":
		return "Escalate"
	case "ignore":
		return "Dismiss"
	default:
		return "Action"
	}
}

func buildNotification(a Alert, resp *actions.ActionResponse) Notification {
	color := "#cccccc"
	switch a.Severity {
	case "critical":
		color = "#ff0000"
	case "high":
		color = "#ff6600"
	case "medium":
		color = "#ffaa00"
	case "low":
		color = "#00aa00"
	}
	return Notification{
		Title:             a.Title,
		Message:           a.Description,
		Severity:          a.Severity,
		Color:             color,
		ActionCount:       len(resp.Actions),
		RecommendedAction: resp.RecommendedActionID,
	}
}
