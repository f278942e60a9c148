package handler

import (
	"net/http"

	"github.com/EternisAI/silo-relay/internal/api/http/dto"
	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/gin-gonic/gin"
)

// ConnectionCounter reports the number of open WebSocket connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

type HealthHandler struct {
	version     string
	registry    *registry.Registry
	directory   *pairing.Directory
	connections ConnectionCounter
}

func NewHealthHandler(version string, reg *registry.Registry, dir *pairing.Directory, connections ConnectionCounter) *HealthHandler {
	return &HealthHandler{
		version:     version,
		registry:    reg,
		directory:   dir,
		connections: connections,
	}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// Status reports the relay's directory sizes.
// GET /api/status
func (h *HealthHandler) Status(ctx *gin.Context) {
	resp := dto.StatusResponse{
		Message: "Silo Relay API",
		Status:  "running",
		Version: h.version,
	}
	if h.registry != nil {
		resp.Devices, resp.Online, resp.Viewers = h.registry.Counts()
	}
	if h.directory != nil {
		resp.Pairings = h.directory.Count()
	}
	if h.connections != nil {
		resp.Connections = h.connections.ConnectionCount()
	}
	ctx.JSON(http.StatusOK, resp)
}
