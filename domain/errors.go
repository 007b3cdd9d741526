package domain

import (
	"errors"
	"fmt"
)

// maxErrorBodyLen bounds the response body kept on a TransportError
const maxErrorBodyLen = 512

var (
	// ErrStreamIdle is wrapped by a TransportError when no frame arrived within the idle timeout
	ErrStreamIdle = errors.New("token stream idle timeout")
	// ErrCredentialsExpired is returned before any request when the bearer token has expired
	ErrCredentialsExpired = errors.New("credentials expired")
	// ErrSpeechBusy is returned by a manual replay while audio is already playing
	ErrSpeechBusy = errors.New("speech already in progress")
	// ErrEmptyMessage is returned when the guest submits blank text
	ErrEmptyMessage = errors.New("message is empty")
	// ErrTurnCancelled is returned for a turn that was superseded or cancelled while streaming
	ErrTurnCancelled = errors.New("turn cancelled")
	// ErrTurnNotFound is returned by replay for an unknown turn id
	ErrTurnNotFound = errors.New("turn not found")
)

// TransportError reports a token stream that could not be opened, ended with a
// non-success status, or broke while being read.
type TransportError struct {
	Status int    // HTTP status, 0 when no response was received
	Body   string // truncated response body
	Err    error
}

// NewTransportError builds a TransportError, truncating body for diagnostics
func NewTransportError(status int, body []byte, err error) *TransportError {
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen]
	}
	return &TransportError{Status: status, Body: string(body), Err: err}
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("transport error: status=%d body=%q: %v", e.Status, e.Body, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("transport error: status=%d body=%q", e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("transport error: %v", e.Err)
	default:
		return "transport error"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SpeechStage names the step of the speech pipeline that failed
type SpeechStage string

const (
	SpeechStageSynthesis SpeechStage = "synthesis"
	SpeechStagePlayback  SpeechStage = "playback"
)

// SpeechError reports a failure to voice one sentence. It is never fatal to a turn.
type SpeechError struct {
	Stage    SpeechStage
	Sentence string
	Err      error
}

func (e *SpeechError) Error() string {
	return fmt.Sprintf("%s failed for %q: %v", e.Stage, e.Sentence, e.Err)
}

func (e *SpeechError) Unwrap() error {
	return e.Err
}
