package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/genai"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultTopK           = 40
	defaultMaxTokens      = 512
	defaultTimeoutSeconds = 30
	defaultMaxHistory     = 20
)

// GeminiConfig holds configuration for the Gemini token streamer
// Required fields:
// - APIKey: Google AI API key
// Optional fields with defaults:
// - Model: model name (default: "gemini-2.0-flash")
// - Temperature: sampling temperature 0..1 (default: 0.7)
// - TopP: nucleus sampling 0..1 (default: 0.95)
// - TopK: top-k sampling (default: 40)
// - MaxOutputTokens: reply length limit (default: 512)
// - TimeoutSeconds: deadline for one streamed turn (default: 30)
// - MaxHistory: number of history contents kept per guest (default: 20)
// - BaseURL: override of the API endpoint, used by tests
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
	MaxHistory      int
	BaseURL         string
}

// geminiHardcodedConfig holds settings that are not exposed as configuration
var geminiHardcodedConfig = struct {
	SafetySettings []*genai.SafetySetting
	SystemPrompt   string
}{
	SafetySettings: []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockLowAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	},
	SystemPrompt: `You are the digital concierge of the Imperial Access Lounge.
Speak with warm, discreet, five-star hospitality. Replies are read aloud, so
answer in two to four short complete sentences without lists, markdown or emoji.
Address the guest by name when it is known. Help with flights, gates, dining,
showers, quiet rooms and lounge amenities. If you do not know something, offer
to have a lounge attendant assist.`,
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}

	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}

	if config.TopP != 0 && (config.TopP < 0 || config.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	if config.MaxHistory < 0 {
		return fmt.Errorf("max history must be positive, got %d", config.MaxHistory)
	}

	return nil
}

// NewGeminiConfigFromEnv creates a new GeminiConfig from environment variables
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	}

	if v := os.Getenv("GEMINI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			config.Temperature = float32(f)
		}
	}

	if v := os.Getenv("GEMINI_MAX_OUTPUT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxOutputTokens = n
		}
	}

	return config
}

// NewGeminiClient creates the shared genai client used by every guest's streamer
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*genai.Client, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}
