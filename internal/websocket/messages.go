package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/imperialaccess/concierge/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Messages sent by the guest client
const (
	MessageTypeGreeting      MessageType = "greeting"
	MessageTypeMessage       MessageType = "message"
	MessageTypeVoiceMessage  MessageType = "voice_message"
	MessageTypeCancel        MessageType = "cancel"
	MessageTypeSetAutoPlay   MessageType = "set_auto_play"
	MessageTypeReplay        MessageType = "replay"
	MessageTypePlaybackEnded MessageType = "playback_ended"
	MessageTypePing          MessageType = "ping"
)

// Messages sent by the gateway
const (
	MessageTypeProfile       MessageType = "profile"
	MessageTypeUserTurn      MessageType = "user_turn"
	MessageTypeTurnStarted   MessageType = "turn_started"
	MessageTypeToken         MessageType = "token"
	MessageTypeTurnCompleted MessageType = "turn_completed"
	MessageTypeTurnCancelled MessageType = "turn_cancelled"
	MessageTypeSpeaking      MessageType = "speaking"
	MessageTypeAudioStart    MessageType = "audio_start"
	MessageTypeAudioStop     MessageType = "audio_stop"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
)

// Error codes carried by error frames
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeEmptyMessage   = "empty_message"
	ErrorCodeSpeechBusy     = "speech_busy"
	ErrorCodeTurnNotFound   = "turn_not_found"
	ErrorCodeTurnFailed     = "turn_failed"
	ErrorCodeReplayFailed   = "replay_failed"
	ErrorCodeUnavailable    = "unavailable"
)

const maxMessageLength = 4000

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// GreetingMessage asks for the personalized greeting turn
type GreetingMessage struct {
	BaseMessage
}

// ChatMessage carries a typed guest message
type ChatMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// VoiceMessage carries one recorded clip of the guest
type VoiceMessage struct {
	BaseMessage
	AudioData  string `json:"audio_data"` // base64 encoded
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Language   string `json:"language,omitempty"`

	audio []byte
}

// Audio returns the decoded clip
func (m *VoiceMessage) Audio() []byte {
	return m.audio
}

// CancelMessage stops the streaming turn and all audio
type CancelMessage struct {
	BaseMessage
}

// SetAutoPlayMessage toggles speaking replies while they stream
type SetAutoPlayMessage struct {
	BaseMessage
	Enabled bool `json:"enabled"`
}

// ReplayMessage asks to speak a stored assistant turn again
type ReplayMessage struct {
	BaseMessage
	TurnID string `json:"turn_id"`
}

// PlaybackEndedMessage acknowledges that an audio clip finished playing
type PlaybackEndedMessage struct {
	BaseMessage
	Seq uint64 `json:"seq"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ProfileMessage carries the guest context loaded for the connection
type ProfileMessage struct {
	BaseMessage
	Profile *entities.ProfileSnapshot `json:"profile"`
}

// TurnMessage carries a whole turn (user_turn, turn_started, turn_completed)
type TurnMessage struct {
	BaseMessage
	Turn     entities.ChatTurn `json:"turn"`
	Fallback bool              `json:"fallback,omitempty"`
}

// TokenMessage carries one streamed token. The full text arrives with turn_completed.
type TokenMessage struct {
	BaseMessage
	TurnID string `json:"turn_id"`
	Token  string `json:"token"`
}

// TurnCancelledMessage reports a turn abandoned before completion
type TurnCancelledMessage struct {
	BaseMessage
	TurnID string `json:"turn_id"`
}

// SpeakingMessage reports the speaking indicator
type SpeakingMessage struct {
	BaseMessage
	Speaking bool `json:"speaking"`
}

// AudioMessage announces (audio_start) or aborts (audio_stop) one clip. An
// audio_start frame is followed by exactly one binary frame.
type AudioMessage struct {
	BaseMessage
	Seq  uint64 `json:"seq"`
	Size int    `json:"size,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeGreeting:
		return &GreetingMessage{BaseMessage: base}, nil

	case MessageTypeMessage:
		var msg ChatMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}
		if err := v.validateChat(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeVoiceMessage:
		var msg VoiceMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid voice message: %w", err)
		}
		if err := v.validateVoice(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeCancel:
		return &CancelMessage{BaseMessage: base}, nil

	case MessageTypeSetAutoPlay:
		var msg SetAutoPlayMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid set_auto_play message: %w", err)
		}
		return &msg, nil

	case MessageTypeReplay:
		var msg ReplayMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid replay message: %w", err)
		}
		if msg.TurnID == "" {
			return nil, fmt.Errorf("turn_id is required")
		}
		return &msg, nil

	case MessageTypePlaybackEnded:
		var msg PlaybackEndedMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid playback_ended message: %w", err)
		}
		if msg.Seq == 0 {
			return nil, fmt.Errorf("seq is required")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validateChat validates chat message fields
func (v *MessageValidator) validateChat(msg *ChatMessage) error {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return fmt.Errorf("text is required")
	}
	if len(msg.Text) > maxMessageLength {
		return fmt.Errorf("text must be at most %d bytes", maxMessageLength)
	}
	return nil
}

// validateVoice validates and decodes a voice message
func (v *MessageValidator) validateVoice(msg *VoiceMessage) error {
	if msg.AudioData == "" {
		return fmt.Errorf("audio_data is required")
	}
	if msg.SampleRate != 0 && (msg.SampleRate < 8000 || msg.SampleRate > 48000) {
		return fmt.Errorf("sample_rate must be between 8000 and 48000")
	}

	audio, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil {
		return fmt.Errorf("audio_data must be base64: %w", err)
	}
	if len(audio) == 0 {
		return fmt.Errorf("audio_data is empty")
	}
	msg.audio = audio
	return nil
}

func newBase(messageType MessageType) BaseMessage {
	return BaseMessage{
		Type:      messageType,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}

// CreateTurnMessage creates a user_turn, turn_started or turn_completed message
func CreateTurnMessage(messageType MessageType, turn entities.ChatTurn, fallback bool) *TurnMessage {
	return &TurnMessage{
		BaseMessage: newBase(messageType),
		Turn:        turn,
		Fallback:    fallback,
	}
}

// CreateTokenMessage creates a token message
func CreateTokenMessage(turnID, token string) *TokenMessage {
	return &TokenMessage{
		BaseMessage: newBase(MessageTypeToken),
		TurnID:      turnID,
		Token:       token,
	}
}

// CreateAudioMessage creates an audio_start or audio_stop message
func CreateAudioMessage(messageType MessageType, seq uint64, size int) *AudioMessage {
	return &AudioMessage{
		BaseMessage: newBase(messageType),
		Seq:         seq,
		Size:        size,
	}
}
