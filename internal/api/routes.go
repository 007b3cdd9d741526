package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain/repositories"
	"github.com/imperialaccess/concierge/internal/auth"
	"github.com/imperialaccess/concierge/internal/websocket"
)

const guestContextKey = "guest"

// Dependencies are the collaborators of the gateway routes
type Dependencies struct {
	Hub      *websocket.Hub
	Tokens   *auth.TokenManager
	Profiles repositories.ProfileRepository

	// AllowGuestLogin enables POST /api/v1/auth/guest for local development
	AllowGuestLogin bool
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "concierge-gateway",
			"clients": deps.Hub.ClientCount(),
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	if deps.AllowGuestLogin {
		v1.POST("/auth/guest", func(c echo.Context) error {
			return guestAuth(c, deps.Tokens, logger)
		})
	}

	guest := v1.Group("", requireGuest(deps.Tokens, logger))
	guest.GET("/profile", func(c echo.Context) error {
		return getProfile(c, deps.Profiles, logger)
	})

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(deps.Hub, c, logger)
	}, requireGuest(deps.Tokens, logger))
}

// guestAuth issues a guest token without checking any credential
func guestAuth(c echo.Context, tokens *auth.TokenManager, logger *zap.Logger) error {
	var req GuestAuthRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind guest auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if strings.TrimSpace(req.GuestID) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Guest id is required",
		})
	}

	token, expiresAt, err := tokens.GenerateGuestToken(req.GuestID, req.FullName)
	if err != nil {
		logger.Error("Failed to generate guest token",
			zap.String("guest_id", req.GuestID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Guest authenticated", zap.String("guest_id", req.GuestID))

	return c.JSON(http.StatusOK, GuestAuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		GuestID:   req.GuestID,
	})
}

func getProfile(c echo.Context, profiles repositories.ProfileRepository, logger *zap.Logger) error {
	claims := c.Get(guestContextKey).(*auth.GuestClaims)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	profile, err := profiles.GetProfile(ctx, claims.GuestID)
	if err != nil {
		logger.Warn("Failed to load profile",
			zap.String("guest_id", claims.GuestID),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "profile_unavailable",
			Message: "Guest profile could not be loaded",
		})
	}

	return c.JSON(http.StatusOK, ProfileResponse{Success: true, Profile: profile})
}

// requireGuest validates the guest JWT from the Authorization header or, for
// browsers opening a websocket, the token query parameter
func requireGuest(tokens *auth.TokenManager, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get("Authorization"))
			if token == "" {
				token = c.QueryParam("token")
			}

			if token == "" {
				logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required",
				})
			}

			claims, err := tokens.ValidateGuestToken(token)
			if errors.Is(err, auth.ErrInvalidRole) {
				logger.Warn("Request rejected: invalid role", zap.String("path", c.Path()))
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "invalid_role",
					Message: "Only guest tokens are allowed",
				})
			}
			if err != nil {
				logger.Warn("Request rejected: invalid token",
					zap.Bool("expired", errors.Is(err, jwt.ErrTokenExpired)),
					zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set(guestContextKey, claims)
			return next(c)
		}
	}
}

func bearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// websocketWithAuth upgrades the authenticated guest connection
func websocketWithAuth(hub *websocket.Hub, c echo.Context, logger *zap.Logger) error {
	claims := c.Get(guestContextKey).(*auth.GuestClaims)

	logger.Info("WebSocket connection authenticated",
		zap.String("guest_id", claims.GuestID),
		zap.String("role", claims.Role))

	return websocket.HandleWebSocketWithAuth(hub, c, websocket.Guest{
		ID:   claims.GuestID,
		Name: claims.FullName,
	}, logger)
}
