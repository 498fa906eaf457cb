package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"peercord/internal/core/domain"
	"peercord/internal/core/services"
	"peercord/pkg/errors"
	"peercord/pkg/validation"
)

// TokenMetrics counts issued identity tokens.
type TokenMetrics interface {
	TokenIssued()
}

type IdentityHandler struct {
	identity services.IdentityService
	metrics  TokenMetrics
}

func NewIdentityHandler(identity services.IdentityService, metrics TokenMetrics) *IdentityHandler {
	return &IdentityHandler{
		identity: identity,
		metrics:  metrics,
	}
}

func (h *IdentityHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/identities")
	{
		api.POST("", h.Issue)
		api.POST("/verify", h.Verify)
	}
}

type IssueRequest struct {
	PeerID string `json:"peer_id" binding:"required,max=64"`
}

type VerifyRequest struct {
	PeerID string `json:"peer_id" binding:"required,max=64"`
	Token  string `json:"token" binding:"required,max=2048"`
}

// Issue hands out a token binding the caller to the requested identity. The
// identity is only claimed once the broker accepts the websocket session.
func (h *IdentityHandler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	id := strings.TrimSpace(req.PeerID)
	if err := validation.ValidatePeerID(id); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()).WithContext("peer_id", id))
		return
	}

	token, expiresAt, err := h.identity.IssueToken(domain.PeerID(id))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if h.metrics != nil {
		h.metrics.TokenIssued()
	}

	c.JSON(http.StatusCreated, gin.H{
		"peer_id":    id,
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"expires_in": int(time.Until(expiresAt) / time.Second),
	})
}

func (h *IdentityHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := h.identity.VerifyIdentity(req.Token, domain.PeerID(req.PeerID)); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer_id": req.PeerID, "valid": true})
}
