package relay

import (
	"log/slog"

	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/registry"
)

// HandleDisconnect tears down everything addressed through conn. Each viewer
// that was live on it causes one stop-stream to its paired agent, provided
// that agent is still online. Failures are logged and never returned.
func (s *Service) HandleDisconnect(conn registry.Conn) registry.ClosedResult {
	result := s.registry.MarkHandleClosed(conn)

	for _, agentID := range result.Agents {
		slog.Info("Agent disconnected", "agent_id", agentID, "conn_id", conn.ID())
	}

	for _, viewer := range result.Viewers {
		slog.Info("Viewer disconnected", "viewer", viewer, "conn_id", conn.ID())

		agentID, ok := s.directory.ResolveAgentFor(viewer)
		if !ok {
			continue
		}
		agentConn, ok := s.registry.AgentConn(agentID)
		if !ok {
			continue
		}
		if send(agentConn, &protocol.StopCapture{}) {
			slog.Info("Stop sent after viewer disconnect", "viewer", viewer, "agent_id", agentID)
		}
	}

	return result
}
