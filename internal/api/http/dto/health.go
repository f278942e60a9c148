package dto

type HealthResponse struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	Message     string `json:"message"`
	Status      string `json:"status"`
	Version     string `json:"version"`
	Devices     int    `json:"devices"`
	Online      int    `json:"online"`
	Viewers     int    `json:"viewers"`
	Pairings    int    `json:"pairings"`
	Connections int    `json:"connections"`
}
