package usecase

import (
	"sync"

	"github.com/imperialaccess/concierge/domain/entities"
)

// TurnHistory is the in-memory, connection scoped list of completed turns
type TurnHistory struct {
	mu    sync.RWMutex
	turns []entities.ChatTurn
	limit int
}

// NewTurnHistory creates a history keeping at most limit turns. A non-positive
// limit keeps everything.
func NewTurnHistory(limit int) *TurnHistory {
	return &TurnHistory{limit: limit}
}

// Append stores a copy of a completed turn
func (h *TurnHistory) Append(turn *entities.ChatTurn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, *turn)
	if h.limit > 0 && len(h.turns) > h.limit {
		h.turns = append([]entities.ChatTurn(nil), h.turns[len(h.turns)-h.limit:]...)
	}
}

// Find returns the turn with id
func (h *TurnHistory) Find(id string) (entities.ChatTurn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].ID == id {
			return h.turns[i], true
		}
	}
	return entities.ChatTurn{}, false
}

// Turns returns a snapshot of the history in order
func (h *TurnHistory) Turns() []entities.ChatTurn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]entities.ChatTurn(nil), h.turns...)
}

// Len returns the number of stored turns
func (h *TurnHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}
