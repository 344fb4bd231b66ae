package casestate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CaseStatus is a point-in-time view of one case's state machine.
type CaseStatus struct {
	CaseID    string        `json:"case_id"`
	State     string        `json:"state"`
	Duration  time.Duration `json:"duration"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type machine struct {
	state     string
	openedAt  time.Time
	updatedAt time.Time
}

// Machines is an in-process Transitioner: one state machine per case,
// created on first use by the orchestrator. Deployments that run the state
// machine as a separate service swap in their own Transitioner.
type Machines struct {
	mu    sync.RWMutex
	cases map[string]*machine
	clock func() time.Time
}

// NewMachines creates an empty Machines registry.
func NewMachines() *Machines {
	return &Machines{
		cases: make(map[string]*machine),
		clock: time.Now,
	}
}

// Create registers a new case in the NEW state. Creating an existing case is
// not an error; the case keeps its current state.
func (m *Machines) Create(caseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[caseID]; ok {
		return
	}
	now := m.clock()
	m.cases[caseID] = &machine{state: TokenNew, openedAt: now, updatedAt: now}
}

// Transition moves the case to the given state token.
func (m *Machines) Transition(_ context.Context, caseID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return fmt.Errorf("casestate: unknown case %q", caseID)
	}
	c.state = token
	c.updatedAt = m.clock()
	return nil
}

// Status returns the current state of the case.
func (m *Machines) Status(caseID string) (CaseStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[caseID]
	if !ok {
		return CaseStatus{}, false
	}
	return CaseStatus{
		CaseID:    caseID,
		State:     c.state,
		Duration:  m.clock().Sub(c.openedAt),
		UpdatedAt: c.updatedAt,
	}, true
}

// Count returns the number of active cases.
func (m *Machines) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cases)
}
