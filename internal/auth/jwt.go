package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleGuest is the only role allowed to open a conversation
	RoleGuest = "guest"

	defaultTokenTTL = 12 * time.Hour
)

// ErrInvalidRole is returned for a valid token carrying the wrong role
var ErrInvalidRole = errors.New("token role is not allowed")

// GuestClaims represents the claims of a lounge guest token
type GuestClaims struct {
	GuestID  string `json:"guest_id"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 guest tokens
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a token manager. A zero ttl means 12 hours.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}, nil
}

// GenerateGuestToken generates a token for an authenticated guest
func (m *TokenManager) GenerateGuestToken(guestID, fullName string) (string, time.Time, error) {
	if guestID == "" {
		return "", time.Time{}, fmt.Errorf("guest id is required")
	}

	now := time.Now()
	expiresAt := now.Add(m.ttl)
	claims := &GuestClaims{
		GuestID:  guestID,
		FullName: fullName,
		Role:     RoleGuest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   guestID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateGuestToken validates a token and returns its guest claims
func (m *TokenManager) ValidateGuestToken(tokenString string) (*GuestClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &GuestClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*GuestClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Role != RoleGuest {
		return nil, ErrInvalidRole
	}
	if claims.GuestID == "" {
		return nil, fmt.Errorf("guest id missing from token: %w", jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}
