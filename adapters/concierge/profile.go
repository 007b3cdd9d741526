package concierge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain/entities"
	"github.com/imperialaccess/concierge/domain/repositories"
)

// Ensure Client implements the ProfileRepository interface
var _ repositories.ProfileRepository = (*Client)(nil)

type profileResponse struct {
	Success bool                      `json:"success"`
	Message string                    `json:"message,omitempty"`
	Profile *entities.ProfileSnapshot `json:"profile"`
}

// GetProfile fetches the concierge profile of a guest
func (c *Client) GetProfile(ctx context.Context, guestID string) (*entities.ProfileSnapshot, error) {
	if guestID == "" {
		return nil, fmt.Errorf("guest id is required")
	}
	if err := c.credentials.validate(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+profilePath+url.PathEscape(guestID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	c.credentials.apply(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if !isHTTPSuccess(resp.StatusCode) {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errStatus("profile", resp.StatusCode, errorBody)
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !profile.Success || profile.Profile == nil {
		return nil, fmt.Errorf("profile unavailable: %s", profile.Message)
	}

	if profile.Profile.GuestID == "" {
		profile.Profile.GuestID = guestID
	}

	c.logger.Info("Retrieved guest profile",
		zap.String("guestID", guestID),
		zap.String("membership", profile.Profile.MembershipType))

	return profile.Profile, nil
}
