package concierge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain/repositories"
)

// Ensure Client implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*Client)(nil)

type ttsRequest struct {
	Text string `json:"text"`
}

// Synthesize asks the backend speech endpoint for the audio of text
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	if err := c.credentials.validate(); err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(ttsRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+ttsPath, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.credentials.apply(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if !isHTTPSuccess(resp.StatusCode) {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errStatus("speech synthesis", resp.StatusCode, errorBody)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("speech synthesis returned no audio")
	}

	c.logger.Debug("Synthesized speech",
		zap.Int("textLength", len(text)),
		zap.Int("audioBytes", len(audio)),
		zap.String("contentType", resp.Header.Get("Content-Type")))

	return audio, nil
}
