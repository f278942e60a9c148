package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/EternisAI/silo-relay/internal/auth"
	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/snapshot"
)

// Conn is one live bidirectional event channel. IDs are never reused.
type Conn interface {
	ID() string
	Send(msg protocol.Message) error
}

// Notifier is told about every mutation that changes persisted state.
type Notifier interface {
	MarkDirty()
}

type Agent struct {
	ID          string
	DisplayName string
	Online      bool
	LastSeenAt  time.Time
	PairingCode string
	conn        Conn
}

// Conn returns the live connection of an online agent, or nil.
func (a Agent) Conn() Conn {
	return a.conn
}

// ClosedResult reports what a closed connection was registered as.
type ClosedResult struct {
	Agents  []string
	Viewers []string
}

type Registry struct {
	verifier auth.Verifier
	notifier Notifier
	now      func() time.Time

	mu       sync.RWMutex
	agents   map[string]*Agent
	viewers  map[string]Conn
	fastPath map[string]Conn // agent id -> viewer conn
}

// NewRegistry creates an empty Registry. The notifier is optional (can be nil).
func NewRegistry(verifier auth.Verifier, notifier Notifier) *Registry {
	return &Registry{
		verifier: verifier,
		notifier: notifier,
		now:      time.Now,
		agents:   make(map[string]*Agent),
		viewers:  make(map[string]Conn),
		fastPath: make(map[string]Conn),
	}
}

// RegisterAgent creates the agent record or updates it in place. A stored
// pairing code always wins over the one reported by the agent. Any previous
// connection for the id stops being addressed but is not closed.
func (r *Registry) RegisterAgent(agentID string, conn Conn, reportedCode string) (Agent, error) {
	if agentID == "" {
		return Agent{}, protocol.ErrMissingAgentID
	}
	if conn == nil {
		return Agent{}, fmt.Errorf("register agent %s: nil connection", agentID)
	}

	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		agent = &Agent{
			ID:          agentID,
			DisplayName: defaultDisplayName(agentID),
		}
		r.agents[agentID] = agent
	} else if agent.conn != nil && agent.conn.ID() != conn.ID() {
		slog.Warn("Agent already connected, replacing connection",
			"agent_id", agentID,
			"old_conn_id", agent.conn.ID(),
			"conn_id", conn.ID())
	}

	if agent.PairingCode == "" && reportedCode != "" {
		if protocol.ValidPairingCode(reportedCode) {
			agent.PairingCode = reportedCode
		} else {
			slog.Warn("Ignoring malformed reported pairing code", "agent_id", agentID, "conn_id", conn.ID())
		}
	}
	agent.conn = conn
	agent.Online = true
	agent.LastSeenAt = r.now()
	result := *agent
	total := len(r.agents)
	r.mu.Unlock()

	slog.Info("Agent registered",
		"agent_id", agentID,
		"conn_id", conn.ID(),
		"has_pairing_code", result.PairingCode != "",
		"total_agents", total)

	r.markDirty()
	return result, nil
}

// RegisterViewer verifies the bearer token and makes conn the live handle for
// the identity it carries.
func (r *Registry) RegisterViewer(token string, conn Conn) (string, error) {
	identity, err := r.Verify(token)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.viewers[identity] = conn
	total := len(r.viewers)
	r.mu.Unlock()

	slog.Info("Viewer registered", "viewer", identity, "conn_id", conn.ID(), "total_viewers", total)
	return identity, nil
}

// Verify resolves a bearer token to a viewer identity.
func (r *Registry) Verify(token string) (string, error) {
	if r.verifier == nil {
		return "", protocol.ErrInvalidCredential
	}
	identity, err := r.verifier.Verify(token)
	if err != nil || identity == "" {
		slog.Debug("Token verification failed", "error", err)
		return "", protocol.ErrInvalidCredential
	}
	return identity, nil
}

func (r *Registry) LookupAgent(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return *agent, true
}

// AgentConn returns the live connection for an online agent.
func (r *Registry) AgentConn(agentID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok || !agent.Online || agent.conn == nil {
		return nil, false
	}
	return agent.conn, true
}

func (r *Registry) ViewerConn(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.viewers[identity]
	return conn, ok
}

// FindAgentByCode returns the agent whose stored code equals code. Codes are
// not unique across agents; on collision the lowest agent id wins.
func (r *Registry) FindAgentByCode(code string) (Agent, bool) {
	if code == "" {
		return Agent{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Agent
	for _, agent := range r.agents {
		if agent.PairingCode != code {
			continue
		}
		if found == nil || agent.ID < found.ID {
			found = agent
		}
	}
	if found == nil {
		return Agent{}, false
	}
	return *found, true
}

// AssignPairingCode stores a code drawn from generate unless the agent already
// has one. It reports whether a new code was generated.
func (r *Registry) AssignPairingCode(agentID string, generate func() (string, error)) (string, bool, error) {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return "", false, protocol.ErrAgentNotFound
	}
	if agent.PairingCode != "" {
		code := agent.PairingCode
		r.mu.Unlock()
		return code, false, nil
	}

	code, err := generate()
	if err != nil {
		r.mu.Unlock()
		return "", false, fmt.Errorf("generate pairing code: %w", err)
	}
	agent.PairingCode = code
	r.mu.Unlock()

	r.markDirty()
	return code, true, nil
}

func (r *Registry) SetFastPath(agentID string, viewer Conn) {
	r.mu.Lock()
	r.fastPath[agentID] = viewer
	r.mu.Unlock()
}

func (r *Registry) FastPath(agentID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.fastPath[agentID]
	return conn, ok
}

func (r *Registry) ClearFastPathForAgent(agentID string) {
	r.mu.Lock()
	delete(r.fastPath, agentID)
	r.mu.Unlock()
}

// ClearFastPathTo removes the agent's fast-path entry only while it still
// points at viewer. It reports whether an entry was removed.
func (r *Registry) ClearFastPathTo(agentID string, viewer Conn) bool {
	if viewer == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.fastPath[agentID]
	if !ok || conn.ID() != viewer.ID() {
		return false
	}
	delete(r.fastPath, agentID)
	return true
}

// MarkHandleClosed drops every reference to conn. Agents addressed through it
// go offline and lose their fast-path entries; viewers addressed through it
// are removed together with any fast-path entry pointing at it. Both scans
// always run since a connection may have held both roles over its life.
func (r *Registry) MarkHandleClosed(conn Conn) ClosedResult {
	var result ClosedResult
	if conn == nil {
		return result
	}
	id := conn.ID()

	r.mu.Lock()
	for agentID, agent := range r.agents {
		if agent.conn == nil || agent.conn.ID() != id {
			continue
		}
		agent.Online = false
		agent.conn = nil
		delete(r.fastPath, agentID)
		result.Agents = append(result.Agents, agentID)
	}

	for identity, viewer := range r.viewers {
		if viewer.ID() != id {
			continue
		}
		delete(r.viewers, identity)
		result.Viewers = append(result.Viewers, identity)
	}

	for agentID, viewer := range r.fastPath {
		if viewer.ID() == id {
			delete(r.fastPath, agentID)
		}
	}
	r.mu.Unlock()

	sort.Strings(result.Agents)
	sort.Strings(result.Viewers)

	if len(result.Agents) > 0 {
		r.markDirty()
	}
	return result
}

// Agents returns a copy of every agent record sorted by id.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, *agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

func (r *Registry) Counts() (agents, online, viewers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, agent := range r.agents {
		if agent.Online {
			online++
		}
	}
	return len(r.agents), online, len(r.viewers)
}

// Snapshot returns the durable agent records.
func (r *Registry) Snapshot() []snapshot.AgentRecord {
	agents := r.Agents()
	records := make([]snapshot.AgentRecord, len(agents))
	for i, a := range agents {
		records[i] = snapshot.AgentRecord{
			ID:          a.ID,
			Name:        a.DisplayName,
			LastSeen:    a.LastSeenAt,
			PairingCode: a.PairingCode,
		}
	}
	return records
}

// Restore loads persisted agents as offline records. Agents that registered
// before the restore keep their live state.
func (r *Registry) Restore(records []snapshot.AgentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if _, live := r.agents[rec.ID]; live {
			continue
		}
		name := rec.Name
		if name == "" {
			name = defaultDisplayName(rec.ID)
		}
		r.agents[rec.ID] = &Agent{
			ID:          rec.ID,
			DisplayName: name,
			LastSeenAt:  rec.LastSeen,
			PairingCode: rec.PairingCode,
		}
	}
}

func (r *Registry) markDirty() {
	if r.notifier != nil {
		r.notifier.MarkDirty()
	}
}

func defaultDisplayName(agentID string) string {
	short := agentID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Device " + short
}
