package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"peercord/internal/core/domain"
	"peercord/internal/core/services"
	apperrors "peercord/pkg/errors"
)

// PeerIDKey is the gin context key holding the authenticated identity.
const PeerIDKey = "peer_id"

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware requires a valid identity token and stores its peer id.
func AuthMiddleware(identity services.IdentityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}
		token, ok := bearerToken(c)
		if !ok {
			abortWithError(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := identity.ValidateToken(token)
		if err != nil {
			abortWithError(c, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, err.Error(), http.StatusUnauthorized))
			return
		}

		c.Set(PeerIDKey, claims.PeerID)
		c.Next()
	}
}

// OptionalAuthMiddleware stores the peer id when a valid token is present
// and lets anonymous requests through.
func OptionalAuthMiddleware(identity services.IdentityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := identity.ValidateToken(token); err == nil {
				c.Set(PeerIDKey, claims.PeerID)
			}
		}
		c.Next()
	}
}

// AuthenticatedPeer returns the identity set by the auth middleware.
func AuthenticatedPeer(c *gin.Context) (domain.PeerID, bool) {
	v, ok := c.Get(PeerIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(domain.PeerID)
	return id, ok
}

func abortWithError(c *gin.Context, appErr *apperrors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}
