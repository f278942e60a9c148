package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/EternisAI/silo-relay/internal/api/http/dto"
	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/gin-gonic/gin"
)

// Flusher persists pending directory changes.
type Flusher interface {
	MarkDirty()
	Flush(ctx context.Context)
}

type AdminHandler struct {
	registry  *registry.Registry
	directory *pairing.Directory
	flusher   Flusher
}

func NewAdminHandler(reg *registry.Registry, dir *pairing.Directory, flusher Flusher) *AdminHandler {
	return &AdminHandler{
		registry:  reg,
		directory: dir,
		flusher:   flusher,
	}
}

// ListAgents returns every known agent with the viewers paired to it.
// GET /api/admin/agents
func (h *AdminHandler) ListAgents(ctx *gin.Context) {
	agents := h.registry.Agents()

	resp := dto.AdminAgentsResponse{
		Agents: make([]dto.AdminAgentInfo, 0, len(agents)),
		Count:  len(agents),
	}
	for _, a := range agents {
		viewers := h.directory.ViewersFor(a.ID)
		if viewers == nil {
			viewers = []string{}
		}
		resp.Agents = append(resp.Agents, dto.AdminAgentInfo{
			DeviceInfo:  toDeviceInfo(a),
			PairingCode: a.PairingCode,
			Viewers:     viewers,
		})
	}

	ctx.JSON(http.StatusOK, resp)
}

// Flush writes the directory snapshot immediately.
// POST /api/admin/snapshot
func (h *AdminHandler) Flush(ctx *gin.Context) {
	if h.flusher == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot persistence is not configured"})
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	h.flusher.MarkDirty()
	h.flusher.Flush(flushCtx)
	ctx.JSON(http.StatusAccepted, gin.H{"status": "flushed"})
}
