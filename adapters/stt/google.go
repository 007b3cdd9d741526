package stt

import (
	"context"
	"fmt"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain/repositories"
)

const (
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000
	defaultEncoding   = "LINEAR16"
)

// Ensure GoogleSpeechToText implements the SpeechToText interface
var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// recognizer is the part of the Cloud Speech client used for one-shot recognition
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
}

// GoogleConfig holds configuration for Google Cloud Speech-to-Text
// Optional fields with defaults:
// - Language: BCP-47 language used when a clip carries none (default: "en-US")
// - Model: recognition model, empty for the API default
type GoogleConfig struct {
	Language string
	Model    string
}

// NewGoogleConfigFromEnv creates a new GoogleConfig from environment variables
func NewGoogleConfigFromEnv() GoogleConfig {
	return GoogleConfig{
		Language: os.Getenv("STT_LANGUAGE"),
		Model:    os.Getenv("STT_MODEL"),
	}
}

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	client   recognizer
	closer   func() error
	language string
	model    string
	logger   *zap.Logger
}

// NewGoogleSpeechToText creates a Cloud Speech client using application default credentials
func NewGoogleSpeechToText(ctx context.Context, config GoogleConfig, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return newGoogleSpeechToText(client, client.Close, config, logger), nil
}

func newGoogleSpeechToText(client recognizer, closer func() error, config GoogleConfig, logger *zap.Logger) *GoogleSpeechToText {
	language := config.Language
	if language == "" {
		language = defaultLanguage
		logger.Info("Using default recognition language", zap.String("language", language))
	}

	return &GoogleSpeechToText{
		client:   client,
		closer:   closer,
		language: language,
		model:    config.Model,
		logger:   logger,
	}
}

// TranscribeAudio converts one recorded clip to text
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	encodingName := config.Encoding
	if encodingName == "" {
		encodingName = defaultEncoding
	}
	encoding, err := getAudioEncoding(encodingName)
	if err != nil {
		return "", err
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	language := config.Language
	if language == "" {
		language = g.language
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            int32(sampleRate),
			LanguageCode:               language,
			Model:                      g.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to recognize speech: %w", err)
	}

	var transcript []string
	for _, result := range resp.GetResults() {
		if alternatives := result.GetAlternatives(); len(alternatives) > 0 {
			// Take the best alternative
			transcript = append(transcript, strings.TrimSpace(alternatives[0].GetTranscript()))
		}
	}

	text := strings.TrimSpace(strings.Join(transcript, " "))
	if text == "" {
		return "", fmt.Errorf("no speech detected in audio")
	}

	g.logger.Info("Transcribed guest audio",
		zap.Int("audioSize", len(audioData)),
		zap.String("language", language),
		zap.Int("textLength", len(text)))

	return text, nil
}

// Close releases the underlying client
func (g *GoogleSpeechToText) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
