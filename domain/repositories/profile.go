package repositories

import (
	"context"

	"github.com/imperialaccess/concierge/domain/entities"
)

// ProfileRepository fetches read-only guest context
type ProfileRepository interface {
	GetProfile(ctx context.Context, guestID string) (*entities.ProfileSnapshot, error)
}
