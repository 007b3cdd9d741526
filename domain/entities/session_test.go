package entities

import (
	"context"
	"testing"
)

func TestStreamSessionCreation(t *testing.T) {
	session := NewStreamSession(nil)

	if session.RequestID == "" {
		t.Error("Expected request ID to be set")
	}

	if session.State() != SessionStateActive {
		t.Errorf("Expected state %s, got %s", SessionStateActive, session.State())
	}

	if session.Text() != "" {
		t.Errorf("Expected empty text, got %q", session.Text())
	}

	other := NewStreamSession(nil)
	if other.RequestID == session.RequestID {
		t.Error("Expected distinct request IDs")
	}
}

func TestStreamSessionAppend(t *testing.T) {
	session := NewStreamSession(nil)

	for _, token := range []string{"Welcome", " to", " the", " lounge", "."} {
		if _, ok := session.Append(token); !ok {
			t.Fatalf("Expected token %q to be accepted", token)
		}
	}

	if session.Text() != "Welcome to the lounge." {
		t.Errorf("Expected accumulated text, got %q", session.Text())
	}
}

func TestStreamSessionCancelStopsAppend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := NewStreamSession(cancel)
	session.Append("Hello")

	if !session.Cancel() {
		t.Fatal("Expected cancel of active session to succeed")
	}

	if ctx.Err() == nil {
		t.Error("Expected stream context to be cancelled")
	}

	text, ok := session.Append(" late")
	if ok {
		t.Error("Expected token after cancel to be rejected")
	}

	if text != "Hello" {
		t.Errorf("Expected text to stay %q, got %q", "Hello", text)
	}

	if session.State() != SessionStateCancelled {
		t.Errorf("Expected state %s, got %s", SessionStateCancelled, session.State())
	}
}

func TestStreamSessionTerminalStatesAreFinal(t *testing.T) {
	session := NewStreamSession(nil)

	if !session.Complete() {
		t.Fatal("Expected complete to succeed")
	}

	if session.Cancel() {
		t.Error("Expected cancel after completion to fail")
	}

	if session.Fail() {
		t.Error("Expected fail after completion to fail")
	}

	if session.State() != SessionStateCompleted {
		t.Errorf("Expected state %s, got %s", SessionStateCompleted, session.State())
	}

	errored := NewStreamSession(nil)
	errored.Fail()
	if errored.IsActive() {
		t.Error("Errored session should not be active")
	}
}
