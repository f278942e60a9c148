package relay

import (
	"log/slog"

	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/registry"
)

// DefaultMaxFrameBytes bounds a single relayed frame payload.
const DefaultMaxFrameBytes = 10 << 20

type Config struct {
	MaxFrameBytes int `mapstructure:"max_frame_bytes"`
}

// Service brokers signaling and relays frames between paired viewers and
// agents. It reads and writes state only through the registry and the
// pairing directory.
type Service struct {
	registry      *registry.Registry
	directory     *pairing.Directory
	maxFrameBytes int

	dropped  *onceSet
	accepted *onceSet
	diag     *onceSet
}

func NewService(reg *registry.Registry, dir *pairing.Directory, config Config) *Service {
	maxFrame := config.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Service{
		registry:      reg,
		directory:     dir,
		maxFrameBytes: maxFrame,
		dropped:       newOnceSet(),
		accepted:      newOnceSet(),
		diag:          newOnceSet(),
	}
}

// pairedAgentConn resolves the live connection of the agent paired to the
// viewer holding token.
func (s *Service) pairedAgentConn(token string) (viewer, agentID string, conn registry.Conn, err error) {
	viewer, err = s.registry.Verify(token)
	if err != nil {
		return "", "", nil, err
	}
	agentID, ok := s.directory.ResolveAgentFor(viewer)
	if !ok {
		return viewer, "", nil, protocol.ErrNoPairedAgent
	}
	conn, ok = s.registry.AgentConn(agentID)
	if !ok {
		return viewer, agentID, nil, protocol.ErrAgentOffline
	}
	return viewer, agentID, conn, nil
}

// pairedViewerConn resolves the live connection of the viewer paired to
// agentID.
func (s *Service) pairedViewerConn(agentID string) (string, registry.Conn, error) {
	if agentID == "" {
		return "", nil, protocol.ErrMissingAgentID
	}
	viewer, ok := s.directory.ResolveViewerFor(agentID)
	if !ok {
		return "", nil, protocol.ErrNoPairedViewer
	}
	conn, ok := s.registry.ViewerConn(viewer)
	if !ok {
		return viewer, nil, protocol.ErrViewerOffline
	}
	return viewer, conn, nil
}

// send delivers msg and logs, but does not return, transport failures.
func send(conn registry.Conn, msg protocol.Message) bool {
	if err := conn.Send(msg); err != nil {
		slog.Warn("Failed to send message",
			"event", msg.EventName(),
			"conn_id", conn.ID(),
			"error", err)
		return false
	}
	return true
}
