package snapshot

import (
	"context"
	"errors"
	"time"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot")

// AgentRecord is the durable part of an agent. Liveness is never persisted:
// restored agents always start offline.
type AgentRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	LastSeen    time.Time `json:"lastSeen"`
	PairingCode string    `json:"pairingCode,omitempty"`
}

// State is the full directory: agents plus viewer -> agent pairings.
type State struct {
	Agents   []AgentRecord     `json:"agents"`
	Pairings map[string]string `json:"pairings"`
}

type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
	Close() error
}

// NopStore discards every snapshot.
type NopStore struct{}

func (NopStore) Load(context.Context) (State, error) { return State{}, ErrNoSnapshot }
func (NopStore) Save(context.Context, State) error    { return nil }
func (NopStore) Close() error                         { return nil }
