package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/imperialaccess/concierge/adapters/llm"
	"github.com/imperialaccess/concierge/adapters/tts"
	"github.com/imperialaccess/concierge/domain/entities"
	"github.com/imperialaccess/concierge/domain/repositories"
	"github.com/imperialaccess/concierge/internal/auth"
	"github.com/imperialaccess/concierge/internal/websocket"
	"github.com/imperialaccess/concierge/usecase"
)

type stubProfiles struct{}

func (stubProfiles) GetProfile(ctx context.Context, guestID string) (*entities.ProfileSnapshot, error) {
	if guestID == "unknown" {
		return nil, errors.New("guest not found")
	}
	return &entities.ProfileSnapshot{GuestID: guestID, FullName: "Ada Lovelace", Gate: "B12"}, nil
}

func setupRoutes(t *testing.T) (*echo.Echo, *auth.TokenManager) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	tokens, err := auth.NewTokenManager("secret", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token manager: %v", err)
	}

	factory := func(guest websocket.Guest, player repositories.AudioPlayer, observer usecase.TurnObserver) (*usecase.ConversationService, error) {
		return usecase.NewConversationService(usecase.ConversationConfig{GuestID: guest.ID, GuestName: guest.Name},
			usecase.ConversationDeps{
				Streamer: llm.NewMockStreamer(0),
				TTS:      tts.NewMockTextToSpeech(0, zap.NewNop()),
				Player:   player,
				Profiles: stubProfiles{},
				Observer: observer,
			}, zap.NewNop())
	}
	hub := websocket.NewHub(factory, websocket.HubConfig{}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	e := echo.New()
	InitRoutes(e, Dependencies{
		Hub:             hub,
		Tokens:          tokens,
		Profiles:        stubProfiles{},
		AllowGuestLogin: true,
	}, logger)
	return e, tokens
}

func TestHealth(t *testing.T) {
	e, _ := setupRoutes(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("Unexpected body %s", rec.Body.String())
	}
}

func TestGuestAuthAndProfile(t *testing.T) {
	e, _ := setupRoutes(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/guest", strings.NewReader(`{"guest_id":"G1","full_name":"Ada Lovelace"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var login GuestAuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if login.Token == "" || login.GuestID != "G1" {
		t.Errorf("Unexpected login response %+v", login)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var profile ProfileResponse
	json.Unmarshal(rec.Body.Bytes(), &profile)
	if !profile.Success || profile.Profile.Gate != "B12" {
		t.Errorf("Unexpected profile response %s", rec.Body.String())
	}
}

func TestGuestAuth_MissingGuest(t *testing.T) {
	e, _ := setupRoutes(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/guest", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestRequireGuest(t *testing.T) {
	e, tokens := setupRoutes(t)

	staff, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.GuestClaims{
		GuestID: "S1",
		Role:    "staff",
	}).SignedString([]byte("secret"))
	unknown, _, _ := tokens.GenerateGuestToken("unknown", "")

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + staff, http.StatusForbidden},
		{"profile unavailable", "Bearer " + unknown, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestWebSocketUpgrade_WithAuth(t *testing.T) {
	e, tokens := setupRoutes(t)
	server := httptest.NewServer(e)
	defer server.Close()

	token, _, err := tokens.GenerateGuestToken("G1", "Ada Lovelace")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	// Convert HTTP URL to WebSocket URL
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	ws, _, err := gorilla.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]interface{}
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read profile frame: %v", err)
	}
	if frame["type"] != "profile" {
		t.Errorf("Expected profile frame, got %v", frame["type"])
	}

	// Test without token (should fail)
	if _, _, err := gorilla.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Error("WebSocket connection should fail without token")
	}
}
