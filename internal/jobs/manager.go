package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"batch-transcriber/internal/domain"
)

// ErrRunAlreadyActive is returned when starting a second active run.
var ErrRunAlreadyActive = errors.New("run already active")

// ErrNoActiveRun is returned when finishing a run that never started.
var ErrNoActiveRun = errors.New("no active run")

// Manager tracks the single allowed active run and its stage transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Run
	now     func() time.Time
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Run{Status: domain.RunStatusIdle},
		now:     time.Now,
	}
}

// Start creates a new run and moves it to the resuming stage.
func (m *Manager) Start(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isActive(m.current.Status) {
		return ErrRunAlreadyActive
	}

	m.current = domain.Run{
		ID:        runID,
		Status:    domain.RunStatusResuming,
		StartedAt: m.now(),
	}
	return nil
}

// Transition validates and applies a stage change of the current run.
func (m *Manager) Transition(status domain.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" {
		return ErrNoActiveRun
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// Fail moves an active run to failed and records cause.
func (m *Manager) Fail(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isActive(m.current.Status) {
		return ErrNoActiveRun
	}
	m.current.Status = domain.RunStatusFailed
	if cause != nil {
		m.current.Error = cause.Error()
	}
	return nil
}

// Current returns a snapshot of the current run.
func (m *Manager) Current() domain.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset clears run metadata and returns manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Run{Status: domain.RunStatusIdle}
}

// IsActive reports whether a run is in progress.
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isActive(m.current.Status)
}

// isActive checks if a status represents an in-progress run.
func isActive(status domain.RunStatus) bool {
	switch status {
	case domain.RunStatusResuming, domain.RunStatusDiscovering, domain.RunStatusSplitting, domain.RunStatusTranscribing:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed run state machine edges. Recovery
// may produce and transcribe before discovery; files then alternate between
// splitting and transcribing.
func isValidTransition(from, to domain.RunStatus) bool {
	if isActive(from) && to == domain.RunStatusFailed {
		return true
	}

	switch from {
	case domain.RunStatusIdle:
		return to == domain.RunStatusResuming
	case domain.RunStatusResuming:
		return to == domain.RunStatusSplitting || to == domain.RunStatusTranscribing || to == domain.RunStatusDiscovering
	case domain.RunStatusSplitting:
		return to == domain.RunStatusTranscribing
	case domain.RunStatusTranscribing:
		return to == domain.RunStatusSplitting || to == domain.RunStatusDiscovering || to == domain.RunStatusDone
	case domain.RunStatusDiscovering:
		return to == domain.RunStatusSplitting || to == domain.RunStatusDone
	case domain.RunStatusDone, domain.RunStatusFailed:
		return to == domain.RunStatusResuming || to == domain.RunStatusIdle
	default:
		return false
	}
}
