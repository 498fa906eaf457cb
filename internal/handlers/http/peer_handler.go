package http

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/internal/infrastructure/middleware"
)

// PeerHandler exposes the broker's directory to authenticated peers.
type PeerHandler struct {
	directory ports.PeerDirectory
}

func NewPeerHandler(directory ports.PeerDirectory) *PeerHandler {
	return &PeerHandler{directory: directory}
}

func (h *PeerHandler) SetupRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	api := router.Group("/api/v1/peers", auth)
	{
		api.GET("", h.ListPeers)
		api.GET("/me", h.GetSelf)
		api.GET("/:id", h.GetPeer)
	}
}

type peerView struct {
	ID          domain.PeerID `json:"id"`
	ConnectedAt string        `json:"connected_at"`
	LastSeen    string        `json:"last_seen"`
}

func newPeerView(p ports.PeerPresence) peerView {
	return peerView{
		ID:          p.ID,
		ConnectedAt: p.ConnectedAt.UTC().Format(time.RFC3339),
		LastSeen:    p.LastSeen.UTC().Format(time.RFC3339),
	}
}

func (h *PeerHandler) ListPeers(c *gin.Context) {
	peers, err := h.directory.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	views := make([]peerView, 0, len(peers))
	for _, p := range peers {
		views = append(views, newPeerView(p))
	}
	c.JSON(http.StatusOK, gin.H{
		"peers": views,
		"count": len(views),
	})
}

func (h *PeerHandler) GetPeer(c *gin.Context) {
	h.respondWithPeer(c, domain.PeerID(c.Param("id")))
}

// GetSelf reports whether the caller's own identity is currently registered.
func (h *PeerHandler) GetSelf(c *gin.Context) {
	id, ok := middleware.AuthenticatedPeer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	h.respondWithPeer(c, id)
}

func (h *PeerHandler) respondWithPeer(c *gin.Context, id domain.PeerID) {
	presence, err := h.directory.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": newPeerView(*presence)})
}
