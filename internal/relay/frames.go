package relay

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/EternisAI/silo-relay/internal/metrics"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/google/uuid"
)

// RequestStream tells the agent paired to the viewer that viewing started and
// that capture should begin. The viewer's connection becomes the fast path
// for the agent's frames.
func (s *Service) RequestStream(token string, viewerConn registry.Conn) (string, error) {
	viewer, agentID, agentConn, err := s.pairedAgentConn(token)
	if err != nil {
		return "", fmt.Errorf("request stream: %w", err)
	}

	requestID := "req-" + uuid.New().String()

	if !send(agentConn, &protocol.ParentViewing{ParentEmail: viewer}) {
		return "", fmt.Errorf("request stream to %s: %w", agentID, protocol.ErrAgentOffline)
	}
	if !send(agentConn, &protocol.StartCapture{RequestID: requestID}) {
		return "", fmt.Errorf("request stream to %s: %w", agentID, protocol.ErrAgentOffline)
	}

	if viewerConn != nil {
		s.registry.SetFastPath(agentID, viewerConn)
		send(viewerConn, &protocol.StreamRequested{RequestID: requestID})
	}

	metrics.StreamsRequested.Inc()
	slog.Info("Stream requested",
		"viewer", viewer,
		"agent_id", agentID,
		"request_id", requestID)
	return requestID, nil
}

// UpdateSettings forwards capture settings to the paired agent. Unpaired
// viewers and offline agents are ignored.
func (s *Service) UpdateSettings(token string, width, height, fps int) error {
	viewer, agentID, conn, err := s.pairedAgentConn(token)
	if err != nil {
		return ignoreUnreachable("stream settings", err)
	}

	send(conn, &protocol.CaptureSettings{Width: width, Height: height, FPS: fps})
	slog.Debug("Stream settings forwarded",
		"viewer", viewer,
		"agent_id", agentID,
		"width", width,
		"height", height,
		"fps", fps)
	return nil
}

// StopStream asks the paired agent to stop capturing. The fast path is left
// in place so a later request-stream resumes on the same route.
func (s *Service) StopStream(token string) error {
	viewer, agentID, conn, err := s.pairedAgentConn(token)
	if err != nil {
		return ignoreUnreachable("stop stream", err)
	}

	send(conn, &protocol.StopCapture{})
	slog.Info("Stream stopped", "viewer", viewer, "agent_id", agentID)
	return nil
}

// SubmitFrame relays one encoded frame from an agent to its viewer. Frames are
// delivered at most once; every failure drops the frame and is logged once
// per reason.
func (s *Service) SubmitFrame(agentID, dataURL string) {
	if agentID == "" || dataURL == "" {
		s.drop("invalid-payload", metrics.DropInvalidPayload,
			"Dropping frame with missing device id or payload",
			"has_device_id", agentID != "",
			"has_payload", dataURL != "")
		return
	}
	if len(dataURL) > s.maxFrameBytes {
		s.drop("oversized-payload", metrics.DropOversized,
			"Dropping oversized frame",
			"agent_id", agentID,
			"size", len(dataURL),
			"max", s.maxFrameBytes)
		return
	}

	msg := &protocol.FrameToViewer{DeviceID: agentID, DataURL: dataURL}

	if conn, ok := s.registry.FastPath(agentID); ok {
		s.deliverFrame(agentID, conn, msg)
		return
	}

	_, conn, err := s.pairedViewerConn(agentID)
	switch {
	case errors.Is(err, protocol.ErrNoPairedViewer):
		s.drop(agentID+":noparent", metrics.DropNoViewer,
			"Dropping frame, no paired viewer", "agent_id", agentID)
		return
	case errors.Is(err, protocol.ErrViewerOffline):
		s.drop(agentID+":parentoffline", metrics.DropViewerOffline,
			"Dropping frame, viewer offline", "agent_id", agentID)
		return
	case err != nil:
		slog.Warn("Dropping frame", "agent_id", agentID, "error", err)
		return
	}
	s.deliverFrame(agentID, conn, msg)
}

func (s *Service) deliverFrame(agentID string, conn registry.Conn, msg *protocol.FrameToViewer) {
	if err := conn.Send(msg); err != nil {
		metrics.FramesDropped.WithLabelValues(metrics.DropViewerSendError).Inc()
		slog.Debug("Frame not delivered", "agent_id", agentID, "conn_id", conn.ID(), "error", err)
		return
	}
	metrics.FramesRelayed.Inc()
	if s.accepted.First(agentID) {
		slog.Info("First frame relayed", "agent_id", agentID, "size", len(msg.DataURL))
	}
}

// FramePing records an agent's capture heartbeat.
func (s *Service) FramePing(agentID, status string) {
	if s.diag.First("ping:" + agentID) {
		slog.Info("Frame ping received", "agent_id", agentID, "status", status)
	}
}

// FrameTest records an agent's test frame.
func (s *Service) FrameTest(agentID string, size int) {
	if s.diag.First("test:" + agentID) {
		slog.Info("Frame test received", "agent_id", agentID, "size", size)
	}
}

func (s *Service) drop(key, reason, msg string, args ...any) {
	metrics.FramesDropped.WithLabelValues(reason).Inc()
	if s.dropped.First(key) {
		slog.Warn(msg, args...)
	}
}

// ignoreUnreachable swallows pairing and liveness failures for best-effort
// control messages. Credential failures are still reported.
func ignoreUnreachable(op string, err error) error {
	if errors.Is(err, protocol.ErrNoPairedAgent) || errors.Is(err, protocol.ErrAgentOffline) {
		slog.Debug("Control message ignored", "op", op, "reason", err)
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
