package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain/repositories"
)

// Ensure MockTextToSpeech implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// MockTextToSpeech is a placeholder implementation for text-to-speech
type MockTextToSpeech struct {
	logger  *zap.Logger
	latency time.Duration
}

// NewMockTextToSpeech creates a new mock text-to-speech service that takes
// latency to answer each sentence
func NewMockTextToSpeech(latency time.Duration, logger *zap.Logger) *MockTextToSpeech {
	return &MockTextToSpeech{
		logger:  logger,
		latency: latency,
	}
}

// Synthesize implements repositories.TextToSpeech
func (t *MockTextToSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	t.logger.Debug("Processing text-to-speech", zap.Int("textLength", len(text)))

	if t.latency > 0 {
		select {
		case <-time.After(t.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Mock audio data - generate based on text length
	mockAudio := make([]byte, len(text)*100)
	for i := range mockAudio {
		mockAudio[i] = byte(i % 256)
	}

	return mockAudio, nil
}
