package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/EternisAI/silo-relay/internal/metrics"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/registry"
)

// Offer forwards a viewer's session offer to its paired agent.
func (s *Service) Offer(token string, offer json.RawMessage) error {
	viewer, agentID, conn, err := s.pairedAgentConn(token)
	if err != nil {
		return fmt.Errorf("offer: %w", err)
	}

	if err := forward(conn, &protocol.OfferToAgent{Offer: offer, ParentEmail: viewer}); err != nil {
		return fmt.Errorf("offer to %s: %w", agentID, protocol.ErrAgentOffline)
	}
	slog.Info("Offer forwarded", "viewer", viewer, "agent_id", agentID)
	return nil
}

// Answer forwards an agent's answer to the viewer paired with it.
func (s *Service) Answer(agentID string, answer json.RawMessage) error {
	viewer, conn, err := s.pairedViewerConn(agentID)
	if err != nil {
		return fmt.Errorf("answer from %s: %w", agentID, err)
	}

	if err := forward(conn, &protocol.AnswerToViewer{Answer: answer, DeviceID: agentID}); err != nil {
		return fmt.Errorf("answer to %s: %w", viewer, protocol.ErrViewerOffline)
	}
	slog.Info("Answer forwarded", "agent_id", agentID, "viewer", viewer)
	return nil
}

// ViewerCandidate forwards an ICE candidate from a viewer to its agent.
func (s *Service) ViewerCandidate(token string, candidate json.RawMessage) error {
	viewer, agentID, conn, err := s.pairedAgentConn(token)
	if err != nil {
		return fmt.Errorf("candidate: %w", err)
	}

	if err := forward(conn, &protocol.CandidateToAgent{Candidate: candidate, ParentEmail: viewer}); err != nil {
		return fmt.Errorf("candidate to %s: %w", agentID, protocol.ErrAgentOffline)
	}
	slog.Debug("Candidate forwarded to agent", "viewer", viewer, "agent_id", agentID)
	return nil
}

// AgentCandidate forwards an ICE candidate from an agent to its viewer.
func (s *Service) AgentCandidate(agentID string, candidate json.RawMessage) error {
	viewer, conn, err := s.pairedViewerConn(agentID)
	if err != nil {
		return fmt.Errorf("candidate from %s: %w", agentID, err)
	}

	if err := forward(conn, &protocol.CandidateToViewer{Candidate: candidate, DeviceID: agentID}); err != nil {
		return fmt.Errorf("candidate to %s: %w", viewer, protocol.ErrViewerOffline)
	}
	slog.Debug("Candidate forwarded to viewer", "agent_id", agentID, "viewer", viewer)
	return nil
}

func forward(conn registry.Conn, msg protocol.Message) error {
	if err := conn.Send(msg); err != nil {
		slog.Warn("Failed to forward signaling message",
			"event", msg.EventName(),
			"conn_id", conn.ID(),
			"error", err)
		return err
	}
	metrics.SignalingForwarded.WithLabelValues(msg.EventName()).Inc()
	return nil
}
