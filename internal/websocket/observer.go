package websocket

import (
	"sync"

	"github.com/imperialaccess/concierge/domain/entities"
	"github.com/imperialaccess/concierge/usecase"
)

// Ensure socketObserver implements the TurnObserver interface
var _ usecase.TurnObserver = (*socketObserver)(nil)

// socketObserver renders conversation progress as frames to the guest client
type socketObserver struct {
	client *Client

	mu       sync.Mutex
	speaking bool
}

func (o *socketObserver) UserTurnAdded(turn entities.ChatTurn) {
	o.client.sendJSON(CreateTurnMessage(MessageTypeUserTurn, turn, false))
}

func (o *socketObserver) TurnStarted(turn entities.ChatTurn) {
	o.client.sendJSON(CreateTurnMessage(MessageTypeTurnStarted, turn, false))
}

func (o *socketObserver) TokenReceived(turnID, token, _ string) {
	o.client.sendJSON(CreateTokenMessage(turnID, token))
}

func (o *socketObserver) TurnCompleted(turn entities.ChatTurn, cause error) {
	o.client.sendJSON(CreateTurnMessage(MessageTypeTurnCompleted, turn, cause != nil))
}

func (o *socketObserver) TurnCancelled(turnID string) {
	o.client.sendJSON(&TurnCancelledMessage{
		BaseMessage: newBase(MessageTypeTurnCancelled),
		TurnID:      turnID,
	})
}

// SpeakingChanged only forwards changes of the indicator
func (o *socketObserver) SpeakingChanged(speaking bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.speaking == speaking {
		return
	}
	o.speaking = speaking
	o.client.sendJSON(&SpeakingMessage{
		BaseMessage: newBase(MessageTypeSpeaking),
		Speaking:    speaking,
	})
}
