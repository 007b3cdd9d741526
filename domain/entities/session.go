package entities

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState represents the state of a token stream session
type SessionState string

const (
	SessionStateActive    SessionState = "active"
	SessionStateCompleted SessionState = "completed"
	SessionStateCancelled SessionState = "cancelled"
	SessionStateErrored   SessionState = "errored"
)

// StreamSession represents one in-flight token stream. Its RequestID is what
// late callbacks are checked against once the session has been superseded.
type StreamSession struct {
	RequestID string
	StartedAt time.Time

	mu     sync.Mutex
	state  SessionState
	text   strings.Builder
	cancel context.CancelFunc
}

// NewStreamSession creates an active session. cancel aborts the underlying
// stream read and may be nil.
func NewStreamSession(cancel context.CancelFunc) *StreamSession {
	return &StreamSession{
		RequestID: uuid.NewString(),
		StartedAt: time.Now(),
		state:     SessionStateActive,
		cancel:    cancel,
	}
}

// State returns the current session state
func (s *StreamSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the session still accepts tokens
func (s *StreamSession) IsActive() bool {
	return s.State() == SessionStateActive
}

// Append adds a token to the accumulated text and returns the new total.
// Tokens arriving after the session left the active state are ignored.
func (s *StreamSession) Append(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionStateActive {
		return s.text.String(), false
	}
	s.text.WriteString(token)
	return s.text.String(), true
}

// Text returns the accumulated text
func (s *StreamSession) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Complete marks the stream as finished
func (s *StreamSession) Complete() bool {
	return s.transition(SessionStateCompleted)
}

// Fail marks the stream as errored
func (s *StreamSession) Fail() bool {
	return s.transition(SessionStateErrored)
}

// Cancel marks the session cancelled and aborts its stream
func (s *StreamSession) Cancel() bool {
	return s.transition(SessionStateCancelled)
}

// transition moves an active session into a terminal state. Terminal states are final.
func (s *StreamSession) transition(to SessionState) bool {
	s.mu.Lock()
	if s.state != SessionStateActive {
		s.mu.Unlock()
		return false
	}
	s.state = to
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}
