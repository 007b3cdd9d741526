package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/imperialaccess/concierge/domain/repositories"
)

func TestTokenize(t *testing.T) {
	tests := []string{
		"Hello there. How are you?",
		"One",
		"",
		"  leading and  double spaces",
	}

	for _, text := range tests {
		tokens := Tokenize(text)
		if strings.Join(tokens, "") != text {
			t.Errorf("Tokenize(%q) does not round-trip: %q", text, tokens)
		}
	}

	if got := Tokenize("Hello there."); len(got) != 2 || got[1] != " there." {
		t.Errorf("Expected [Hello, ' there.'], got %q", got)
	}
}

func TestMockStreamer_Greeting(t *testing.T) {
	streamer := NewMockStreamer(0)

	var last string
	count := 0
	full, err := streamer.StreamTurn(context.Background(), repositories.GreetingPayload("G1", "Ada"), func(token, accumulated string) {
		count++
		last = accumulated
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !strings.Contains(full, "Ada") {
		t.Errorf("Expected greeting to address the guest, got %q", full)
	}
	if last != full {
		t.Errorf("Expected final accumulated text to equal the result")
	}
	if count < 2 {
		t.Errorf("Expected several tokens, got %d", count)
	}
}

func TestMockStreamer_CustomReply(t *testing.T) {
	streamer := &MockStreamer{Reply: func(repositories.TurnPayload) string { return "Right away." }}

	full, err := streamer.StreamTurn(context.Background(), repositories.MessagePayload("G1", "Ada", "Tea please"), func(string, string) {})
	if err != nil || full != "Right away." {
		t.Errorf("Expected 'Right away.', got %q, %v", full, err)
	}
}

func TestMockStreamer_Cancellation(t *testing.T) {
	streamer := NewMockStreamer(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	_, err := streamer.StreamTurn(ctx, repositories.GreetingPayload("G1", "Ada"), func(string, string) {
		count++
		if count == 2 {
			cancel()
		}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if count != 2 {
		t.Errorf("Expected streaming to stop after cancel, got %d tokens", count)
	}
}
