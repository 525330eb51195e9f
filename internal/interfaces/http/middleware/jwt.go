package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/auth"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/logger"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	JWTUserIDKey  = "jwt_user_id"
	IdentityKey   = "identity"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenValidator validates identity provider access tokens
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

// JWTMiddlewareConfig holds configuration for the identity middleware
type JWTMiddlewareConfig struct {
	// Tokens is required for token validation
	Tokens TokenValidator
	// Revocations is optional; logged-out token ids are rejected
	Revocations auth.RevocationList
	// LandingPath is returned as the redirect hint on 401
	LandingPath string
	Logger      *zap.Logger
}

// JWTAuthMiddleware attaches the caller identity from a Bearer token.
//
// A request without an Authorization header passes through anonymous and
// the access guard decides what it may reach. A header that is present but
// malformed, invalid, expired or revoked is rejected with 401.
func JWTAuthMiddleware(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			c.Next()
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			handleAuthError(c, cfg, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		if tokenString == "" {
			handleAuthError(c, cfg, auth.ErrInvalidToken, "Missing token")
			return
		}

		claims, err := cfg.Tokens.ValidateAccessToken(tokenString)
		if err != nil {
			handleAuthError(c, cfg, err, "Token validation failed")
			return
		}

		ctx := c.Request.Context()
		if cfg.Revocations != nil && claims.ID != "" {
			revoked, err := cfg.Revocations.IsRevoked(ctx, claims.ID)
			if err != nil {
				// Fail open
				cfg.Logger.Error("Failed to check token revocation",
					zap.String("jti", claims.ID),
					zap.Error(err))
			} else if revoked {
				handleAuthError(c, cfg, auth.ErrTokenRevoked, "Token has been revoked")
				return
			}
		}

		identity, err := claims.Identity()
		if err != nil {
			handleAuthError(c, cfg, err, "Token claims are not usable")
			return
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(JWTUserIDKey, claims.UserID)
		c.Set(IdentityKey, identity)
		c.Request = c.Request.WithContext(logger.WithUserID(ctx, claims.UserID))

		cfg.Logger.Debug("JWT authentication successful",
			zap.String("user_id", claims.UserID),
			zap.String("role", string(identity.Role)))

		c.Next()
	}
}

// handleAuthError rejects the request with 401 and the landing redirect
func handleAuthError(c *gin.Context, cfg JWTMiddlewareConfig, err error, message string) {
	cfg.Logger.Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("message", message),
		zap.String("path", c.Request.URL.Path))

	code, text := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, text = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		code, text = dto.ErrCodeNotYetValid, "Token is not yet valid"
	case errors.Is(err, auth.ErrTokenRevoked):
		code, text = dto.ErrCodeTokenRevoked, "Token has been revoked"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims), errors.Is(err, auth.ErrMissingUserID):
		code, text = dto.ErrCodeTokenInvalid, "Invalid token"
	}

	resp := dto.NewErrorResponseWithRequestID(code, text, GetRequestID(c))
	resp.Error.Redirect = cfg.LandingPath
	c.AbortWithStatusJSON(http.StatusUnauthorized, resp)
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if jwtClaims, ok := claims.(*auth.Claims); ok {
			return jwtClaims
		}
	}
	return nil
}

// GetJWTUserID retrieves the raw user id claim
func GetJWTUserID(c *gin.Context) string {
	return c.GetString(JWTUserIDKey)
}

// GetIdentity returns the authenticated caller, if any
func GetIdentity(c *gin.Context) (entitlement.Identity, bool) {
	if v, exists := c.Get(IdentityKey); exists {
		if id, ok := v.(entitlement.Identity); ok && !id.IsZero() {
			return id, true
		}
	}
	return entitlement.Identity{}, false
}
