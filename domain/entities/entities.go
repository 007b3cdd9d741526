package entities

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TurnRole identifies who produced a turn
type TurnRole string

const (
	TurnRoleAssistant TurnRole = "assistant"
	TurnRoleUser      TurnRole = "user"
)

// ChatTurn is one message in the concierge conversation
type ChatTurn struct {
	ID        string    `json:"id"`
	Role      TurnRole  `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	HasAudio  bool      `json:"has_audio"`
	completed bool
}

// NewUserTurn creates a complete turn for text entered by the guest
func NewUserTurn(text string) *ChatTurn {
	return &ChatTurn{
		ID:        uuid.NewString(),
		Role:      TurnRoleUser,
		Text:      text,
		CreatedAt: time.Now(),
		completed: true,
	}
}

// NewAssistantTurn creates an empty assistant turn that is filled while streaming
func NewAssistantTurn() *ChatTurn {
	return &ChatTurn{
		ID:        uuid.NewString(),
		Role:      TurnRoleAssistant,
		CreatedAt: time.Now(),
		HasAudio:  true,
	}
}

// SetText replaces the live text of a turn that is still streaming.
// It is a no-op once the turn is complete.
func (t *ChatTurn) SetText(text string) {
	if t.completed {
		return
	}
	t.Text = text
}

// Complete freezes the turn with its final text
func (t *ChatTurn) Complete(text string) {
	if t.completed {
		return
	}
	t.Text = text
	t.completed = true
}

// Completed reports whether the turn text is frozen
func (t *ChatTurn) Completed() bool {
	return t.completed
}

// Validate validates the turn data
func (t *ChatTurn) Validate() error {
	if t.ID == "" {
		return errors.New("id is required")
	}
	if t.Role != TurnRoleAssistant && t.Role != TurnRoleUser {
		return errors.New("invalid turn role")
	}
	if t.HasAudio && t.Role != TurnRoleAssistant {
		return errors.New("only assistant turns carry audio")
	}
	if t.completed && strings.TrimSpace(t.Text) == "" {
		return errors.New("completed turn text is required")
	}
	return nil
}

// ProfileSnapshot is the read-only guest context fetched once per connection
type ProfileSnapshot struct {
	GuestID               string `json:"guest_id"`
	FullName              string `json:"full_name"`
	MembershipType        string `json:"membership_type"`
	Airline               string `json:"airline,omitempty"`
	FlightNumber          string `json:"flight_number,omitempty"`
	DepartureTime         string `json:"departure_time,omitempty"`
	Gate                  string `json:"gate,omitempty"`
	DiningTokensRemaining int    `json:"dining_tokens_remaining"`
}

// DisplayName returns the name used when addressing the guest
func (p *ProfileSnapshot) DisplayName() string {
	if p == nil || strings.TrimSpace(p.FullName) == "" {
		return "Guest"
	}
	return p.FullName
}
