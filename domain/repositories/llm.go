package repositories

import "context"

// TokenStreamer abstracts the streaming concierge backend (or a model called directly)
type TokenStreamer interface {
	// StreamTurn opens a token stream for one conversational turn. onToken is
	// called once per token, in arrival order, with the text accumulated so far.
	// It returns the full accumulated text once the stream ends.
	StreamTurn(ctx context.Context, payload TurnPayload, onToken TokenHandler) (string, error)
}

// TokenHandler receives one streamed token and the text accumulated so far
type TokenHandler func(token, accumulated string)

// TurnPayload is the request body of one conversational turn
type TurnPayload struct {
	Message    string `json:"message,omitempty"`
	GuestID    string `json:"guest_id,omitempty"`
	GuestName  string `json:"guest_name,omitempty"`
	IsGreeting bool   `json:"is_greeting"`
}

// GreetingPayload builds the payload requesting a personalized greeting
func GreetingPayload(guestID, guestName string) TurnPayload {
	return TurnPayload{GuestID: guestID, GuestName: guestName, IsGreeting: true}
}

// MessagePayload builds the payload carrying a guest message
func MessagePayload(guestID, guestName, message string) TurnPayload {
	return TurnPayload{Message: message, GuestID: guestID, GuestName: guestName}
}
