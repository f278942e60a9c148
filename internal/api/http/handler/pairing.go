package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/silo-relay/internal/api/http/dto"
	"github.com/EternisAI/silo-relay/internal/api/http/middleware"
	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/gin-gonic/gin"
)

type PairingHandler struct {
	directory *pairing.Directory
	registry  *registry.Registry
}

func NewPairingHandler(dir *pairing.Directory, reg *registry.Registry) *PairingHandler {
	return &PairingHandler{directory: dir, registry: reg}
}

// Pair binds the authenticated viewer to the agent owning the code.
// POST /api/pair
func (h *PairingHandler) Pair(c *gin.Context) {
	email := c.GetString(middleware.EmailKey)
	if email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "email not found in context"})
		return
	}

	var req dto.PairRequest
	if err := c.ShouldBindJSON(&req); err != nil || !pairing.ValidCode(req.PairingCode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pairing code format. Must be 6 digits."})
		return
	}

	agentID, err := h.directory.Pair(email, req.PairingCode)
	switch {
	case errors.Is(err, protocol.ErrInvalidPairingCode):
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid pairing code. Make sure the device is online and the code is correct."})
		return
	case errors.Is(err, protocol.ErrAgentOffline):
		c.JSON(http.StatusNotFound, gin.H{"error": "Device is offline. Make sure the agent is running and connected."})
		return
	case err != nil:
		slog.Error("Failed to pair", "error", err, "viewer", email)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// a viewer already connected learns about its device right away
	if conn, ok := h.registry.ViewerConn(email); ok {
		if err := conn.Send(&protocol.DeviceStatus{DeviceID: agentID, Online: true}); err != nil {
			slog.Debug("Failed to push device status", "viewer", email, "error", err)
		}
	}

	c.JSON(http.StatusOK, dto.PairResponse{Message: "Device paired successfully", DeviceID: agentID})
}
