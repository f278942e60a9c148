package dto

import "time"

type DeviceInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

type DevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

type AdminAgentInfo struct {
	DeviceInfo
	PairingCode string   `json:"pairingCode,omitempty"`
	Viewers     []string `json:"viewers"`
}

type AdminAgentsResponse struct {
	Agents []AdminAgentInfo `json:"agents"`
	Count  int              `json:"count"`
}
