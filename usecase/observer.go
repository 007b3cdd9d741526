package usecase

import "github.com/imperialaccess/concierge/domain/entities"

// TurnObserver receives the live progress of a conversation. Methods are
// called synchronously from the controller and the speech queue, so they must
// not block and must not call back into the ConversationService.
type TurnObserver interface {
	// UserTurnAdded is called when a guest message (typed or transcribed) is recorded
	UserTurnAdded(turn entities.ChatTurn)
	// TurnStarted is called when an assistant turn starts streaming
	TurnStarted(turn entities.ChatTurn)
	// TokenReceived is called for every token of the current turn with its live text
	TokenReceived(turnID, token, text string)
	// TurnCompleted is called once the turn text is frozen. cause is the
	// transport error replaced by a fallback message, if any.
	TurnCompleted(turn entities.ChatTurn, cause error)
	// TurnCancelled is called when a streaming turn is superseded or cancelled
	TurnCancelled(turnID string)
	// SpeakingChanged is called whenever audio starts or stops
	SpeakingChanged(speaking bool)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) UserTurnAdded(entities.ChatTurn)        {}
func (NopObserver) TurnStarted(entities.ChatTurn)          {}
func (NopObserver) TokenReceived(string, string, string)   {}
func (NopObserver) TurnCompleted(entities.ChatTurn, error) {}
func (NopObserver) TurnCancelled(string)                   {}
func (NopObserver) SpeakingChanged(bool)                   {}
