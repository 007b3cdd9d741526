package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewTokenManager(t *testing.T) {
	if _, err := NewTokenManager("", time.Hour); err == nil {
		t.Error("Expected error for empty secret")
	}

	manager, err := NewTokenManager("secret", 0)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if manager.ttl != defaultTokenTTL {
		t.Errorf("Expected default ttl %s, got %s", defaultTokenTTL, manager.ttl)
	}
}

func TestTokenManager_RoundTrip(t *testing.T) {
	manager, _ := NewTokenManager("secret", time.Hour)

	token, expiresAt, err := manager.GenerateGuestToken("G42", "Ada Lovelace")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("Expected expiry in the future")
	}

	claims, err := manager.ValidateGuestToken(token)
	if err != nil {
		t.Fatalf("Expected valid token, got %v", err)
	}
	if claims.GuestID != "G42" || claims.FullName != "Ada Lovelace" || claims.Role != RoleGuest {
		t.Errorf("Unexpected claims %+v", claims)
	}

	if _, _, err := manager.GenerateGuestToken("", ""); err == nil {
		t.Error("Expected error for empty guest id")
	}
}

func TestTokenManager_Rejects(t *testing.T) {
	manager, _ := NewTokenManager("secret", time.Hour)
	other, _ := NewTokenManager("other-secret", time.Hour)

	foreign, _, _ := other.GenerateGuestToken("G42", "")
	if _, err := manager.ValidateGuestToken(foreign); err == nil {
		t.Error("Expected error for token signed with another secret")
	}

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &GuestClaims{
		GuestID: "G42",
		Role:    RoleGuest,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("secret"))
	if _, err := manager.ValidateGuestToken(expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}

	staff, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &GuestClaims{
		GuestID: "S1",
		Role:    "staff",
	}).SignedString([]byte("secret"))
	if _, err := manager.ValidateGuestToken(staff); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}

	if _, err := manager.ValidateGuestToken("not-a-token"); err == nil {
		t.Error("Expected error for malformed token")
	}
}
