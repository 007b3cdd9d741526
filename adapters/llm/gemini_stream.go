package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/imperialaccess/concierge/domain"
	"github.com/imperialaccess/concierge/domain/repositories"
)

// Ensure GeminiStreamer implements the TokenStreamer interface
var _ repositories.TokenStreamer = (*GeminiStreamer)(nil)

const maxStreamAttempts = 3

// GeminiStreamer streams concierge replies straight from Gemini. One streamer
// belongs to one guest connection and keeps that guest's history.
type GeminiStreamer struct {
	client          *genai.Client
	logger          *zap.Logger
	model           string
	temperature     float32
	topP            float32
	topK            float32
	maxOutputTokens int
	timeoutSeconds  int
	maxHistory      int
	safetySettings  []*genai.SafetySetting
	systemPrompt    string

	mu      sync.Mutex
	history []*genai.Content
}

// NewGeminiStreamer creates a streamer for one guest on top of a shared client
func NewGeminiStreamer(client *genai.Client, config GeminiConfig, logger *zap.Logger) (*GeminiStreamer, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = float32(defaultTemperature)
		logger.Debug("Using default temperature", zap.Float32("temperature", temperature))
	}

	topP := config.TopP
	if topP == 0 {
		topP = float32(defaultTopP)
		logger.Debug("Using default topP", zap.Float32("topP", topP))
	}

	topK := config.TopK
	if topK == 0 {
		topK = float32(defaultTopK)
		logger.Debug("Using default topK", zap.Float32("topK", topK))
	}

	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxTokens
		logger.Debug("Using default maxOutputTokens", zap.Int("maxOutputTokens", maxOutputTokens))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
		logger.Debug("Using default timeoutSeconds", zap.Int("timeoutSeconds", timeoutSeconds))
	}

	maxHistory := config.MaxHistory
	if maxHistory == 0 {
		maxHistory = defaultMaxHistory
	}

	return &GeminiStreamer{
		client:          client,
		logger:          logger,
		model:           model,
		temperature:     temperature,
		topP:            topP,
		topK:            topK,
		maxOutputTokens: maxOutputTokens,
		timeoutSeconds:  timeoutSeconds,
		maxHistory:      maxHistory,
		safetySettings:  geminiHardcodedConfig.SafetySettings,
		systemPrompt:    geminiHardcodedConfig.SystemPrompt,
	}, nil
}

// StreamTurn generates the reply for one turn and forwards each streamed chunk
// as a token. A failed attempt is retried only while nothing was emitted yet.
func (s *GeminiStreamer) StreamTurn(ctx context.Context, payload repositories.TurnPayload, onToken repositories.TokenHandler) (string, error) {
	userContent := genai.NewContentFromText(turnPrompt(payload), genai.RoleUser)

	s.mu.Lock()
	contents := append(append([]*genai.Content(nil), s.history...), userContent)
	s.mu.Unlock()

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(s.systemPrompt, genai.RoleUser),
		SafetySettings:    s.safetySettings,
		Temperature:       genai.Ptr(s.temperature),
		TopP:              genai.Ptr(s.topP),
		TopK:              genai.Ptr(s.topK),
		MaxOutputTokens:   int32(s.maxOutputTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSeconds)*time.Second)
	defer cancel()

	var accumulated strings.Builder
	var err error
	for attempt := 0; attempt < maxStreamAttempts; attempt++ {
		err = s.stream(ctx, contents, config, &accumulated, onToken)
		if err == nil || accumulated.Len() > 0 || ctx.Err() != nil {
			break
		}

		s.logger.Warn("Failed to open Gemini stream, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxStreamAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
			}
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return accumulated.String(), err
		}
		s.logger.Error("Gemini stream failed", zap.Error(err))
		return accumulated.String(), domain.NewTransportError(apiErrorStatus(err), nil, err)
	}

	reply := accumulated.String()
	if strings.TrimSpace(reply) != "" {
		s.remember(userContent, genai.NewContentFromText(reply, genai.RoleModel))
	}

	s.logger.Info("Gemini turn streamed",
		zap.String("guestID", payload.GuestID),
		zap.Bool("isGreeting", payload.IsGreeting),
		zap.String("response_preview", reply[:min(50, len(reply))]))

	return reply, nil
}

func (s *GeminiStreamer) stream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, accumulated *strings.Builder, onToken repositories.TokenHandler) error {
	for response, err := range s.client.Models.GenerateContentStream(ctx, s.model, contents, config) {
		if err != nil {
			return err
		}

		token := responseText(response)
		if token == "" {
			continue
		}
		accumulated.WriteString(token)
		onToken(token, accumulated.String())
	}
	return ctx.Err()
}

// History returns a copy of the conversation kept for the next turn
func (s *GeminiStreamer) History() []*genai.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*genai.Content(nil), s.history...)
}

func (s *GeminiStreamer) remember(user, model *genai.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, user, model)
	if excess := len(s.history) - s.maxHistory; excess > 0 {
		// drop whole user/model pairs so the history always starts with a user turn
		if excess%2 == 1 {
			excess++
		}
		s.history = append([]*genai.Content(nil), s.history[excess:]...)
	}
}

// turnPrompt renders the user content sent for one turn
func turnPrompt(payload repositories.TurnPayload) string {
	name := strings.TrimSpace(payload.GuestName)
	if payload.IsGreeting {
		if name == "" {
			return "A guest has just arrived in the lounge. Greet them warmly and offer your assistance."
		}
		return fmt.Sprintf("The guest %s has just arrived in the lounge. Greet them by name and offer your assistance.", name)
	}
	if name == "" {
		return payload.Message
	}
	return fmt.Sprintf("%s says: %s", name, payload.Message)
}

// responseText extracts the text parts of one streamed chunk
func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	return text.String()
}

// apiErrorStatus returns the HTTP status carried by a Gemini API error, if any
func apiErrorStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
