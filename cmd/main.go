package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/adapters/cache"
	"github.com/imperialaccess/concierge/adapters/concierge"
	"github.com/imperialaccess/concierge/adapters/llm"
	"github.com/imperialaccess/concierge/adapters/stt"
	"github.com/imperialaccess/concierge/adapters/tts"
	"github.com/imperialaccess/concierge/domain/repositories"
	"github.com/imperialaccess/concierge/internal/api"
	"github.com/imperialaccess/concierge/internal/auth"
	"github.com/imperialaccess/concierge/internal/config"
	"github.com/imperialaccess/concierge/internal/websocket"
	"github.com/imperialaccess/concierge/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	// Concierge backend: token stream, speech synthesis and guest profiles
	backend, err := concierge.NewClient(concierge.NewConfigFromEnv(), concierge.Credentials{Token: cfg.ConciergeToken}, logger)
	if err != nil {
		logger.Fatal("Failed to create concierge client", zap.Error(err))
	}

	var profiles repositories.ProfileRepository = backend
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		profiles = cache.NewProfileCache(backend, rdb, cfg.ProfileCacheTTL, logger)
		logger.Info("Profile cache enabled", zap.Duration("ttl", cfg.ProfileCacheTTL))
	}

	newStreamer := streamerFactory(ctx, cfg, backend, logger)
	textToSpeech := newTextToSpeech(cfg, backend, logger)
	speechToText, closeSTT := newSpeechToText(ctx, cfg, logger)
	defer closeSTT()

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("Failed to create token manager", zap.Error(err))
	}

	factory := func(guest websocket.Guest, player repositories.AudioPlayer, observer usecase.TurnObserver) (*usecase.ConversationService, error) {
		streamer, err := newStreamer()
		if err != nil {
			return nil, err
		}
		return usecase.NewConversationService(usecase.ConversationConfig{
			GuestID:       guest.ID,
			GuestName:     guest.Name,
			AutoPlay:      cfg.AutoPlay,
			GuardInterval: cfg.GuardInterval,
		}, usecase.ConversationDeps{
			Streamer: streamer,
			TTS:      textToSpeech,
			Player:   player,
			STT:      speechToText,
			Profiles: profiles,
			Observer: observer,
		}, logger)
	}

	// Initialize WebSocket hub with one conversation per connection
	hub := websocket.NewHub(factory, websocket.HubConfig{PlaybackTimeout: cfg.PlaybackTimeout}, logger)
	hubCtx, stopHub := context.WithCancel(ctx)
	go hub.Run(hubCtx)

	reaper := websocket.NewIdleReaper(hub, cfg.ClientIdleTimeout, logger)
	reaper.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Hub:             hub,
		Tokens:          tokens,
		Profiles:        profiles,
		AllowGuestLogin: !cfg.IsProduction(),
	}, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Concierge gateway started",
		zap.String("port", cfg.Port),
		zap.String("streamer", cfg.Streamer),
		zap.String("tts", cfg.TTSProvider),
		zap.String("stt", cfg.STTProvider))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	reaper.Stop()
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// streamerFactory returns a constructor of per-conversation token streamers.
// Gemini streamers keep their own history, so every conversation gets one.
func streamerFactory(ctx context.Context, cfg *config.Config, backend *concierge.Client, logger *zap.Logger) func() (repositories.TokenStreamer, error) {
	switch cfg.Streamer {
	case config.ProviderGemini:
		geminiConfig := llm.NewGeminiConfigFromEnv()
		client, err := llm.NewGeminiClient(ctx, geminiConfig)
		if err != nil {
			logger.Fatal("Failed to create Gemini client", zap.Error(err))
		}
		return func() (repositories.TokenStreamer, error) {
			return llm.NewGeminiStreamer(client, geminiConfig, logger)
		}

	case config.ProviderMock:
		return func() (repositories.TokenStreamer, error) {
			return llm.NewMockStreamer(40 * time.Millisecond), nil
		}

	default:
		return func() (repositories.TokenStreamer, error) {
			return backend, nil
		}
	}
}

func newTextToSpeech(cfg *config.Config, backend *concierge.Client, logger *zap.Logger) repositories.TextToSpeech {
	switch cfg.TTSProvider {
	case config.ProviderElevenLabs:
		elevenLabs, err := tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), logger)
		if err != nil {
			logger.Fatal("Failed to create ElevenLabs TTS", zap.Error(err))
		}
		return elevenLabs

	case config.ProviderMock:
		return tts.NewMockTextToSpeech(200*time.Millisecond, logger)

	default:
		return backend
	}
}

func newSpeechToText(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.SpeechToText, func()) {
	switch cfg.STTProvider {
	case config.ProviderGoogle:
		google, err := stt.NewGoogleSpeechToText(ctx, stt.NewGoogleConfigFromEnv(), logger)
		if err != nil {
			logger.Fatal("Failed to create Google speech client", zap.Error(err))
		}
		return google, func() { google.Close() }

	case config.ProviderMock:
		return stt.NewMockSpeechToText(logger), func() {}

	default:
		return nil, func() {}
	}
}
