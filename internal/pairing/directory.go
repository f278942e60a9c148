package pairing

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/EternisAI/silo-relay/internal/protocol"
	"github.com/EternisAI/silo-relay/internal/registry"
)

const (
	CodeLength = protocol.PairingCodeLength
	minCode    = 100000
	maxCode    = 999999
)

// Directory binds viewer identities to agents. A viewer points at no more than
// one agent; several viewers may point at the same agent.
type Directory struct {
	registry *registry.Registry
	notifier registry.Notifier
	generate func() (string, error)

	mu       sync.RWMutex
	pairings map[string]string // viewer identity -> agent id
}

func NewDirectory(reg *registry.Registry, notifier registry.Notifier) *Directory {
	return &Directory{
		registry: reg,
		notifier: notifier,
		generate: RandomCode,
		pairings: make(map[string]string),
	}
}

// RandomCode draws a code uniformly from 100000-999999.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return "", fmt.Errorf("failed to read random: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+minCode), nil
}

// ValidCode reports whether code is exactly six ASCII digits.
func ValidCode(code string) bool {
	return protocol.ValidPairingCode(code)
}

// GenerateCode returns the agent's pairing code, creating one if it has none.
// Codes are never checked for uniqueness across agents.
func (d *Directory) GenerateCode(agentID string) (string, error) {
	if agentID == "" {
		return "", protocol.ErrMissingAgentID
	}

	code, generated, err := d.registry.AssignPairingCode(agentID, d.generate)
	if err != nil {
		return "", err
	}
	if generated {
		slog.Info("Pairing code generated", "agent_id", agentID)
	}
	return code, nil
}

// Pair binds viewer to the agent owning code, replacing any earlier binding.
func (d *Directory) Pair(viewer, code string) (string, error) {
	if !ValidCode(code) {
		return "", protocol.ErrInvalidPairingCode
	}

	agent, ok := d.registry.FindAgentByCode(code)
	if !ok {
		slog.Info("Pairing rejected, unknown code", "viewer", viewer)
		return "", protocol.ErrInvalidPairingCode
	}
	if !agent.Online {
		slog.Info("Pairing rejected, agent offline", "viewer", viewer, "agent_id", agent.ID)
		return "", protocol.ErrAgentOffline
	}

	d.mu.Lock()
	previous := d.pairings[viewer]
	d.pairings[viewer] = agent.ID
	d.mu.Unlock()

	if previous != "" && previous != agent.ID {
		// frames from the old agent must stop reaching this viewer
		if conn, ok := d.registry.ViewerConn(viewer); ok {
			d.registry.ClearFastPathTo(previous, conn)
		}
		slog.Info("Viewer re-paired", "viewer", viewer, "agent_id", agent.ID, "previous_agent_id", previous)
	} else {
		slog.Info("Viewer paired", "viewer", viewer, "agent_id", agent.ID)
	}

	d.markDirty()
	return agent.ID, nil
}

func (d *Directory) ResolveAgentFor(viewer string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	agentID, ok := d.pairings[viewer]
	return agentID, ok
}

// ResolveViewerFor finds a viewer paired to agentID by linear scan. When
// several viewers share the agent, the lowest identity is returned.
func (d *Directory) ResolveViewerFor(agentID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	found := ""
	for viewer, paired := range d.pairings {
		if paired != agentID {
			continue
		}
		if found == "" || viewer < found {
			found = viewer
		}
	}
	return found, found != ""
}

// ViewersFor returns every viewer paired to agentID, sorted.
func (d *Directory) ViewersFor(agentID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var viewers []string
	for viewer, paired := range d.pairings {
		if paired == agentID {
			viewers = append(viewers, viewer)
		}
	}
	sort.Strings(viewers)
	return viewers
}

// Pairings returns a copy of the viewer -> agent table.
func (d *Directory) Pairings() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]string, len(d.pairings))
	for viewer, agentID := range d.pairings {
		out[viewer] = agentID
	}
	return out
}

// Restore loads persisted pairings. Bindings made since startup win.
func (d *Directory) Restore(pairings map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for viewer, agentID := range pairings {
		if viewer == "" || agentID == "" {
			continue
		}
		if _, exists := d.pairings[viewer]; exists {
			continue
		}
		d.pairings[viewer] = agentID
	}
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pairings)
}

func (d *Directory) markDirty() {
	if d.notifier != nil {
		d.notifier.MarkDirty()
	}
}
