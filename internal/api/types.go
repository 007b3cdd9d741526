package api

import (
	"time"

	"github.com/imperialaccess/concierge/domain/entities"
)

// GuestAuthRequest represents the request payload for a development guest login
type GuestAuthRequest struct {
	GuestID  string `json:"guest_id" validate:"required"`
	FullName string `json:"full_name"`
}

// GuestAuthResponse represents the response payload for a guest login
type GuestAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	GuestID   string    `json:"guest_id"`
}

// ProfileResponse wraps the guest profile
type ProfileResponse struct {
	Success bool                      `json:"success"`
	Profile *entities.ProfileSnapshot `json:"profile"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
