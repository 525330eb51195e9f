package handler

import (
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/auth"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/logger"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Session end reasons
const (
	SessionEndSignOut = "sign_out"
)

// CurrentUserResponse is the caller as seen by this service
type CurrentUserResponse struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"is_admin"`
}

// LogoutResponse confirms a sign-out
type LogoutResponse struct {
	Message string `json:"message"`
}

// AuthHandler handles session endpoints. Sign-in belongs to the identity
// provider; this service only observes and ends sessions.
type AuthHandler struct {
	BaseHandler
	revocations auth.RevocationList
	events      shared.EventPublisher
	now         func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(revocations auth.RevocationList, events shared.EventPublisher) *AuthHandler {
	return &AuthHandler{
		revocations: revocations,
		events:      events,
		now:         time.Now,
	}
}

// Me godoc
// @Summary      Get current user
// @Tags         auth
// @Produce      json
// @Success      200 {object} dto.Response{data=CurrentUserResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := h.currentIdentity(c)
	if !ok {
		return
	}

	h.Success(c, CurrentUserResponse{
		UserID:  identity.UserID.String(),
		Email:   identity.Email,
		Role:    string(identity.Role),
		IsAdmin: identity.IsAdmin(),
	})
}

// Logout godoc
// @Summary      End the current session
// @Description  Revokes the access token and evicts the caller's cached entitlement
// @Tags         auth
// @Produce      json
// @Success      200 {object} dto.Response{data=LogoutResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetJWTClaims(c)
	if claims == nil {
		h.Unauthorized(c, "Authentication required")
		return
	}
	identity, err := claims.Identity()
	if err != nil {
		h.Unauthorized(c, "Invalid token claims")
		return
	}
	ctx := c.Request.Context()

	if err := h.events.Publish(ctx, entitlement.NewSessionEndedEvent(identity.UserID, SessionEndSignOut)); err != nil {
		logger.L(ctx).Warn("Failed to publish session end", zap.Error(err))
	}

	if ttl := claims.RemainingTTL(h.now()); claims.ID != "" && ttl > 0 {
		if err := h.revocations.Revoke(ctx, claims.ID, ttl); err != nil {
			h.HandleError(c, err)
			return
		}
	}

	h.Success(c, LogoutResponse{Message: "Logged out successfully"})
}
