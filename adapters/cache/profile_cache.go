package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain/entities"
	"github.com/imperialaccess/concierge/domain/repositories"
)

const (
	defaultProfileTTL = 5 * time.Minute
	profileKeyPrefix  = "concierge:profile:"
)

// Ensure ProfileCache implements the ProfileRepository interface
var _ repositories.ProfileRepository = (*ProfileCache)(nil)

// ProfileCache keeps guest profiles in Redis in front of another repository.
// Redis failures are logged and fall through to the wrapped repository.
type ProfileCache struct {
	next   repositories.ProfileRepository
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewProfileCache wraps next with a Redis cache. A non-positive ttl uses five minutes.
func NewProfileCache(next repositories.ProfileRepository, client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = defaultProfileTTL
		logger.Info("Using default profile cache TTL", zap.Duration("ttl", ttl))
	}
	return &ProfileCache{next: next, client: client, ttl: ttl, logger: logger}
}

// GetProfile returns the cached profile or loads and caches it
func (c *ProfileCache) GetProfile(ctx context.Context, guestID string) (*entities.ProfileSnapshot, error) {
	key := profileKey(guestID)

	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var profile entities.ProfileSnapshot
		if jsonErr := json.Unmarshal(cached, &profile); jsonErr == nil {
			c.logger.Debug("Profile cache hit", zap.String("guestID", guestID))
			return &profile, nil
		}
		c.logger.Warn("Discarding unreadable cached profile", zap.String("guestID", guestID))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("Profile cache unavailable", zap.String("guestID", guestID), zap.Error(err))
	}

	profile, err := c.next.GetProfile(ctx, guestID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(profile); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("Failed to cache profile", zap.String("guestID", guestID), zap.Error(err))
		}
	}
	return profile, nil
}

// Invalidate drops the cached profile of a guest
func (c *ProfileCache) Invalidate(ctx context.Context, guestID string) error {
	return c.client.Del(ctx, profileKey(guestID)).Err()
}

func profileKey(guestID string) string {
	return profileKeyPrefix + guestID
}
