package concierge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/imperialaccess/concierge/domain"
)

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(Config{}, Credentials{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if client.apiBaseURL != defaultAPIBaseURL {
		t.Errorf("Expected default base URL %s, got %s", defaultAPIBaseURL, client.apiBaseURL)
	}

	if client.idleTimeout != defaultIdleTimeout {
		t.Errorf("Expected default idle timeout %s, got %s", defaultIdleTimeout, client.idleTimeout)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"https", Config{APIBaseURL: "https://lounge.example.com"}, false},
		{"bad scheme", Config{APIBaseURL: "ftp://lounge"}, true},
		{"negative idle", Config{IdleTimeout: -time.Second}, true},
		{"negative request", Config{RequestTimeout: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	os.Setenv("CONCIERGE_API_URL", "http://backend:5000")
	os.Setenv("STREAM_IDLE_TIMEOUT", "45s")
	defer os.Unsetenv("CONCIERGE_API_URL")
	defer os.Unsetenv("STREAM_IDLE_TIMEOUT")

	config := NewConfigFromEnv()

	if config.APIBaseURL != "http://backend:5000" {
		t.Errorf("Expected base URL from env, got %s", config.APIBaseURL)
	}

	if config.IdleTimeout != 45*time.Second {
		t.Errorf("Expected idle timeout 45s, got %s", config.IdleTimeout)
	}
}

func TestWithCredentials(t *testing.T) {
	client := newTestClient(t, "http://localhost:5000", time.Second, Credentials{Token: "a"})
	other := client.WithCredentials(Credentials{Token: "b"})

	if client.credentials.Token != "a" || other.credentials.Token != "b" {
		t.Error("WithCredentials must not mutate the original client")
	}
}

func TestSynthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsPath {
			t.Errorf("Expected path %s, got %s", ttsPath, r.URL.Path)
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Text == "fail" {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":"tts offline"}`)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3:" + req.Text))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second, Credentials{})

	audio, err := client.Synthesize(context.Background(), "Welcome.")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(audio) != "mp3:Welcome." {
		t.Errorf("Expected audio 'mp3:Welcome.', got %q", audio)
	}

	_, err = client.Synthesize(context.Background(), "fail")
	var transportErr *domain.TransportError
	if !errors.As(err, &transportErr) || transportErr.Status != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 TransportError, got %v", err)
	}

	if _, err := client.Synthesize(context.Background(), "  "); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestGetProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case profilePath + "G1":
			fmt.Fprint(w, `{"success": true, "profile": {"full_name": "Ada Lovelace", "membership_type": "Platinum", "gate": "B12", "dining_tokens_remaining": 2}}`)
		case profilePath + "G2":
			fmt.Fprint(w, `{"success": false, "message": "guest not checked in"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second, Credentials{})

	profile, err := client.GetProfile(context.Background(), "G1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if profile.GuestID != "G1" {
		t.Errorf("Expected guest id G1, got %s", profile.GuestID)
	}
	if profile.DisplayName() != "Ada Lovelace" {
		t.Errorf("Expected name 'Ada Lovelace', got %s", profile.DisplayName())
	}
	if profile.DiningTokensRemaining != 2 {
		t.Errorf("Expected 2 dining tokens, got %d", profile.DiningTokensRemaining)
	}

	if _, err := client.GetProfile(context.Background(), "G2"); err == nil {
		t.Error("Expected error for unsuccessful profile response")
	}

	if _, err := client.GetProfile(context.Background(), "G3"); err == nil {
		t.Error("Expected error for missing profile")
	}

	if _, err := client.GetProfile(context.Background(), ""); err == nil {
		t.Error("Expected error for empty guest id")
	}
}
