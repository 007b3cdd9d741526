package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewTransportErrorTruncatesBody(t *testing.T) {
	body := []byte(strings.Repeat("x", 2000))
	err := NewTransportError(502, body, nil)

	if len(err.Body) != maxErrorBodyLen {
		t.Errorf("Expected body length %d, got %d", maxErrorBodyLen, len(err.Body))
	}

	if err.Status != 502 {
		t.Errorf("Expected status 502, got %d", err.Status)
	}

	if !strings.Contains(err.Error(), "status=502") {
		t.Errorf("Expected status in error message, got %s", err.Error())
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	err := error(NewTransportError(0, nil, ErrStreamIdle))

	if !errors.Is(err, ErrStreamIdle) {
		t.Error("Expected TransportError to unwrap to ErrStreamIdle")
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatal("Expected errors.As to find TransportError")
	}

	if transportErr.Status != 0 {
		t.Errorf("Expected status 0, got %d", transportErr.Status)
	}
}

func TestSpeechError(t *testing.T) {
	cause := errors.New("boom")
	err := &SpeechError{Stage: SpeechStageSynthesis, Sentence: "Hello.", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("Expected SpeechError to unwrap to its cause")
	}

	if !strings.HasPrefix(err.Error(), "synthesis failed") {
		t.Errorf("Unexpected error message: %s", err.Error())
	}
}
