// Package casestate is the thin contract to the external per-case state
// machine. The core only invokes Transition with well-defined state tokens
// after each task class completes; transition failures never affect task
// status.
package casestate

import "context"

// State tokens accepted by the external state machine.
const (
	TokenNew                   = "NEW"
	TokenIntakeValidation      = "INTAKE_VALIDATION"
	TokenAnalyzing             = "ANALYZING"
	TokenRemediationInProgress = "REMEDIATION_IN_PROGRESS"
	TokenRemediationCompleted  = "REMEDIATION_COMPLETED"
	TokenClosed                = "CLOSED"
)

// Transitioner is the external state-machine contract.
type Transitioner interface {
	Transition(ctx context.Context, caseID, token string) error
}

// TransitionerFunc adapts a function to the Transitioner interface.
type TransitionerFunc func(ctx context.Context, caseID, token string) error

func (f TransitionerFunc) Transition(ctx context.Context, caseID, token string) error {
	return f(ctx, caseID, token)
}
