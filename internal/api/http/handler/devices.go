package handler

import (
	"net/http"

	"github.com/EternisAI/silo-relay/internal/api/http/dto"
	"github.com/EternisAI/silo-relay/internal/api/http/middleware"
	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/gin-gonic/gin"
)

type DevicesHandler struct {
	directory *pairing.Directory
	registry  *registry.Registry
}

func NewDevicesHandler(dir *pairing.Directory, reg *registry.Registry) *DevicesHandler {
	return &DevicesHandler{directory: dir, registry: reg}
}

// ListDevices returns the device paired to the authenticated viewer, if any.
// GET /api/devices
func (h *DevicesHandler) ListDevices(c *gin.Context) {
	email := c.GetString(middleware.EmailKey)

	devices := []dto.DeviceInfo{}
	if agentID, ok := h.directory.ResolveAgentFor(email); ok {
		if agent, ok := h.registry.LookupAgent(agentID); ok {
			devices = append(devices, toDeviceInfo(agent))
		}
	}

	c.JSON(http.StatusOK, dto.DevicesResponse{Devices: devices})
}

func toDeviceInfo(agent registry.Agent) dto.DeviceInfo {
	return dto.DeviceInfo{
		ID:       agent.ID,
		Name:     agent.DisplayName,
		Online:   agent.Online,
		LastSeen: agent.LastSeenAt,
	}
}
