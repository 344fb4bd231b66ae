package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basket/caseflow/internal/queue"
)

// CasePayload is the payload shape carried by the built-in case task kinds.
type CasePayload struct {
	CaseID     string `json:"case_id"`
	CaseType   string `json:"case_type,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

func decodeCasePayload(task queue.Task) (CasePayload, error) {
	var payload CasePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return CasePayload{}, fmt.Errorf("dispatch: decode case payload for %s: %w", task.TaskID, err)
	}
	if payload.CaseID == "" {
		return CasePayload{}, fmt.Errorf("dispatch: task %s payload missing case_id", task.TaskID)
	}
	return payload, nil
}

// RegisterBuiltins binds the three case task kinds to their handlers.
func RegisterBuiltins(r *Registry) {
	r.Register(TaskCaseIntake, handleCaseIntake)
	r.Register(TaskAnalysis, handleAnalysis)
	r.Register(TaskRemediation, handleRemediation)
}

func handleCaseIntake(_ context.Context, task queue.Task) (json.RawMessage, error) {
	payload, err := decodeCasePayload(task)
	if err != nil {
		return nil, err
	}
	return caseResult("intake_completed", payload.CaseID)
}

func handleAnalysis(_ context.Context, task queue.Task) (json.RawMessage, error) {
	payload, err := decodeCasePayload(task)
	if err != nil {
		return nil, err
	}
	return caseResult("analysis_completed", payload.CaseID)
}

func handleRemediation(_ context.Context, task queue.Task) (json.RawMessage, error) {
	payload, err := decodeCasePayload(task)
	if err != nil {
		return nil, err
	}
	return caseResult("remediation_completed", payload.CaseID)
}

func caseResult(status, caseID string) (json.RawMessage, error) {
	raw, err := json.Marshal(map[string]string{
		"status":  status,
		"case_id": caseID,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal case result: %w", err)
	}
	return raw, nil
}
