package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imperialaccess/concierge/domain/repositories"
)

// Ensure MockStreamer implements the TokenStreamer interface
var _ repositories.TokenStreamer = (*MockStreamer)(nil)

// MockStreamer replies with canned concierge text, one word per token
type MockStreamer struct {
	// TokenDelay is slept between tokens to imitate a live stream
	TokenDelay time.Duration
	// Reply overrides the canned replies when set
	Reply func(payload repositories.TurnPayload) string
}

// NewMockStreamer creates a mock streamer emitting tokens every delay
func NewMockStreamer(delay time.Duration) *MockStreamer {
	return &MockStreamer{TokenDelay: delay}
}

// StreamTurn implements repositories.TokenStreamer
func (m *MockStreamer) StreamTurn(ctx context.Context, payload repositories.TurnPayload, onToken repositories.TokenHandler) (string, error) {
	reply := m.reply(payload)

	var accumulated strings.Builder
	for _, token := range Tokenize(reply) {
		if m.TokenDelay > 0 {
			select {
			case <-time.After(m.TokenDelay):
			case <-ctx.Done():
				return accumulated.String(), ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return accumulated.String(), err
		}
		accumulated.WriteString(token)
		onToken(token, accumulated.String())
	}
	return accumulated.String(), nil
}

func (m *MockStreamer) reply(payload repositories.TurnPayload) string {
	if m.Reply != nil {
		return m.Reply(payload)
	}

	name := payload.GuestName
	if name == "" {
		name = "Guest"
	}
	if payload.IsGreeting {
		return fmt.Sprintf("Good evening, %s. Welcome to Imperial Access Lounge. How may I assist you today?", name)
	}
	return fmt.Sprintf("Certainly, %s. I have noted your request: %q. Is there anything else I can arrange for you?", name, payload.Message)
}

// Tokenize splits text into word tokens that keep their leading whitespace,
// so concatenating the tokens gives back the original text.
func Tokenize(text string) []string {
	var tokens []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' && text[i-1] != ' ' {
			tokens = append(tokens, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		tokens = append(tokens, text[start:])
	}
	return tokens
}
