package concierge

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain"
)

const (
	defaultAPIBaseURL     = "http://localhost:5000"
	defaultIdleTimeout    = 30 * time.Second
	defaultRequestTimeout = 30 * time.Second

	streamPath  = "/api/concierge/stream"
	ttsPath     = "/api/concierge/tts"
	profilePath = "/api/concierge/profile/"
)

// Config holds configuration for the concierge backend client
// Required fields:
// - none; an empty config talks to a local backend
// Optional fields with defaults:
// - APIBaseURL: backend base URL (default: "http://localhost:5000")
// - IdleTimeout: longest gap allowed between stream frames (default: 30s)
// - RequestTimeout: timeout for non-streaming requests (default: 30s)
type Config struct {
	APIBaseURL     string
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// Credentials carries the guest's bearer token. It is passed explicitly to
// every client instead of being read from shared state.
type Credentials struct {
	Token string
}

// validate rejects a JWT whose expiry has passed. Opaque tokens are sent as-is.
func (c Credentials) validate() error {
	if c.Token == "" {
		return nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return domain.ErrCredentialsExpired
	}
	return nil
}

func (c Credentials) apply(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// Client talks to the concierge endpoints of the lounge backend
type Client struct {
	apiBaseURL   string
	idleTimeout  time.Duration
	credentials  Credentials
	httpClient   *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.APIBaseURL != "" && !strings.HasPrefix(config.APIBaseURL, "http://") && !strings.HasPrefix(config.APIBaseURL, "https://") {
		return fmt.Errorf("api base URL must be http or https, got %q", config.APIBaseURL)
	}
	if config.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must be positive, got %s", config.IdleTimeout)
	}
	if config.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be positive, got %s", config.RequestTimeout)
	}
	return nil
}

// NewClient creates a backend client acting on behalf of one guest
func NewClient(config Config, credentials Credentials, logger *zap.Logger) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := strings.TrimRight(config.APIBaseURL, "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	idleTimeout := config.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = defaultIdleTimeout
		logger.Debug("Using default stream idle timeout", zap.Duration("idleTimeout", idleTimeout))
	}

	requestTimeout := config.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
		logger.Debug("Using default request timeout", zap.Duration("requestTimeout", requestTimeout))
	}

	return &Client{
		apiBaseURL:  apiBaseURL,
		idleTimeout: idleTimeout,
		credentials: credentials,
		httpClient:  &http.Client{Timeout: requestTimeout},
		// Streams are bounded by the idle watchdog instead of a total timeout
		streamClient: &http.Client{},
		logger:       logger,
	}, nil
}

// WithCredentials returns a copy of the client acting for another guest
func (c *Client) WithCredentials(credentials Credentials) *Client {
	clone := *c
	clone.credentials = credentials
	return &clone
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() Config {
	config := Config{
		APIBaseURL: os.Getenv("CONCIERGE_API_URL"),
	}

	if v := os.Getenv("STREAM_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.IdleTimeout = d
		}
	}

	if v := os.Getenv("CONCIERGE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.RequestTimeout = d
		}
	}

	return config
}

// isHTTPSuccess reports a 2xx status
func isHTTPSuccess(status int) bool {
	return status >= 200 && status < 300
}

// errStatus formats a non-success response of a non-streaming endpoint
func errStatus(endpoint string, status int, body []byte) error {
	return fmt.Errorf("%s: %w", endpoint, domain.NewTransportError(status, body, errors.New(http.StatusText(status))))
}
