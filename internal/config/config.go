package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider names accepted by STREAMER, TTS_PROVIDER and STT_PROVIDER
const (
	ProviderBackend    = "backend"
	ProviderGemini     = "gemini"
	ProviderElevenLabs = "elevenlabs"
	ProviderGoogle     = "google"
	ProviderMock       = "mock"
	ProviderNone       = "none"
)

// Config holds the gateway settings
type Config struct {
	// Server
	Port string
	Env  string

	// JWT
	JWTSecret string
	TokenTTL  time.Duration

	// Bearer token presented to the concierge backend
	ConciergeToken string

	// Providers
	Streamer    string
	TTSProvider string
	STTProvider string

	// Redis profile cache, disabled when empty
	RedisURL        string
	ProfileCacheTTL time.Duration

	// Speech pipeline
	AutoPlay        bool
	GuardInterval   time.Duration
	PlaybackTimeout time.Duration

	// Websocket clients idle longer than this are disconnected
	ClientIdleTimeout time.Duration
}

// Load reads .env (when present) and the process environment
func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:              getEnvOrDefault("PORT", "8080"),
		Env:               getEnvOrDefault("ENV", "development"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TokenTTL:          getEnvAsDurationOrDefault("JWT_TTL", 12*time.Hour),
		ConciergeToken:    os.Getenv("CONCIERGE_TOKEN"),
		Streamer:          strings.ToLower(getEnvOrDefault("STREAMER", ProviderBackend)),
		TTSProvider:       strings.ToLower(getEnvOrDefault("TTS_PROVIDER", ProviderBackend)),
		STTProvider:       strings.ToLower(getEnvOrDefault("STT_PROVIDER", ProviderMock)),
		RedisURL:          os.Getenv("REDIS_URL"),
		ProfileCacheTTL:   getEnvAsDurationOrDefault("PROFILE_CACHE_TTL", 5*time.Minute),
		AutoPlay:          getEnvAsBoolOrDefault("AUTO_PLAY", true),
		GuardInterval:     getEnvAsDurationOrDefault("SPEECH_GUARD_INTERVAL", 50*time.Millisecond),
		PlaybackTimeout:   getEnvAsDurationOrDefault("PLAYBACK_TIMEOUT", time.Minute),
		ClientIdleTimeout: getEnvAsDurationOrDefault("CLIENT_IDLE_TIMEOUT", 30*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and provider names
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("required environment variable JWT_SECRET is not set")
	}
	if err := oneOf("STREAMER", c.Streamer, ProviderBackend, ProviderGemini, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("TTS_PROVIDER", c.TTSProvider, ProviderBackend, ProviderElevenLabs, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("STT_PROVIDER", c.STTProvider, ProviderGoogle, ProviderMock, ProviderNone); err != nil {
		return err
	}
	if c.GuardInterval < 0 {
		return fmt.Errorf("SPEECH_GUARD_INTERVAL must be positive, got %s", c.GuardInterval)
	}
	if c.PlaybackTimeout <= 0 {
		return fmt.Errorf("PLAYBACK_TIMEOUT must be positive, got %s", c.PlaybackTimeout)
	}
	return nil
}

// IsProduction reports whether the gateway runs with ENV=production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func oneOf(key, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
