// Package domain defines the pairing session model shared across the service.
package domain

import (
	"context"
	"io"
	"sync"
	"time"
)

// Phase is the lifecycle phase of a pairing session.
type Phase int

const (
	PhaseInitiating Phase = iota
	PhaseAwaitingCredential
	PhaseCredentialIssued
	PhaseConnecting
	PhaseConnected
	PhaseClosedRetry
	PhaseClosedTerminal
	PhaseTimedOut
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseInitiating:
		return "initiating"
	case PhaseAwaitingCredential:
		return "awaiting_credential"
	case PhaseCredentialIssued:
		return "credential_issued"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseClosedRetry:
		return "closed_retry"
	case PhaseClosedTerminal:
		return "closed_terminal"
	case PhaseTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Terminal reports whether the phase ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseClosedTerminal || p == PhaseTimedOut
}

// Session is one bounded attempt to link a device against the gateway.
// Phase, attempt count, the one-shot responded gate and the connection
// handle are guarded by the session mutex; the workflow goroutine is the
// only writer for phase transitions.
type Session struct {
	ID                 string
	RegistrationTarget string // digits only; empty for the QR flow
	Deadline           time.Time
	CreatedAt          time.Time

	mu             sync.Mutex
	flow           Flow
	phase          Phase
	attemptCount   int
	responded      bool
	workingStorage string
	conn           io.Closer
	cancel         context.CancelCauseFunc
	outcome        chan Outcome
}

// NewSession creates a session in the Initiating phase.
func NewSession(id, target string, flow Flow) *Session {
	return &Session{
		ID:                 id,
		RegistrationTarget: target,
		CreatedAt:          time.Now(),
		flow:               flow,
		phase:              PhaseInitiating,
		outcome:            make(chan Outcome, 1),
	}
}

// Flow returns the flow configuration currently driving the session.
func (s *Session) Flow() Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow
}

// SwitchFlow replaces the flow configuration and resets the attempt budget.
// Used by the QR fallback exhaust policy.
func (s *Session) SwitchFlow(flow Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow = flow
	s.attemptCount = 0
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPhase advances the lifecycle phase.
func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// AttemptCount returns the number of reconnection attempts so far.
func (s *Session) AttemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptCount
}

// IncrementAttempt bumps the reconnection counter and returns the new value.
func (s *Session) IncrementAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptCount++
	return s.attemptCount
}

// Respond delivers the one-shot outcome to the caller. It returns false if
// an outcome was already delivered; the responded gate never resets, so a
// late timeout or retry-exhaustion event arriving after the credential was
// handed out is silently absorbed.
func (s *Session) Respond(out Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responded {
		return false
	}
	s.responded = true
	s.outcome <- out
	return true
}

// Responded reports whether the one-shot outcome has been delivered.
func (s *Session) Responded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responded
}

// Outcome returns the channel the one-shot outcome is delivered on.
// The channel is buffered so delivery never blocks on an absent caller.
func (s *Session) Outcome() <-chan Outcome {
	return s.outcome
}

// WorkingStorage returns the ephemeral storage path, or "" before allocation.
func (s *Session) WorkingStorage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingStorage
}

// SetWorkingStorage records the ephemeral storage path owned by the session.
func (s *Session) SetWorkingStorage(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workingStorage = dir
}

// ReplaceConn installs a new connection handle, closing any previous one.
// Each reconnection attempt replaces the handle; handles are never shared.
func (s *Session) ReplaceConn(conn io.Closer) {
	s.mu.Lock()
	prev := s.conn
	s.conn = conn
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

// TakeConn relinquishes ownership of the connection handle, if any.
func (s *Session) TakeConn() io.Closer {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	return conn
}

// SetCancel records the cancel function for the session workflow context.
func (s *Session) SetCancel(cancel context.CancelCauseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// CancelWith aborts the session workflow, including any in-flight retry
// backoff, recording cause as the cancellation reason.
func (s *Session) CancelWith(cause error) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}
