package dto

type PairRequest struct {
	PairingCode string `json:"pairingCode" binding:"required"`
}

type PairResponse struct {
	Message  string `json:"message"`
	DeviceID string `json:"deviceId"`
}
