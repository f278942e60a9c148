package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// fileSnapshot is the on-disk layout. devices and pairings are arrays of
// [key, value] pairs; the older object form keyed by id is still read.
type fileSnapshot struct {
	Devices  json.RawMessage `json:"devices"`
	Pairings json.RawMessage `json:"pairings"`
}

type fileDevice struct {
	Name        string    `json:"name"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"lastSeen"`
	PairingCode *string   `json:"pairingCode"`
	SocketID    *string   `json:"socketId"`
}

// decodeEntries reads either [[key, value], ...] or {key: value, ...}.
func decodeEntries[V any](raw json.RawMessage) (map[string]V, error) {
	out := make(map[string]V)
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, nil
	}
	if trimmed[0] != '[' {
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(trimmed, &pairs); err != nil {
		return nil, err
	}
	for i, pair := range pairs {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return nil, fmt.Errorf("entry %d key: %w", i, err)
		}
		var value V
		if err := json.Unmarshal(pair[1], &value); err != nil {
			return nil, fmt.Errorf("entry %d value: %w", i, err)
		}
		out[key] = value
	}
	return out, nil
}

func encodeEntries[V any](m map[string]V) [][2]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]any{k, m[k]})
	}
	return out
}

// FileStore keeps the snapshot in a single JSON file. Writes go to a
// temporary file that is renamed over the target.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (State, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, ErrNoSnapshot
	}
	if err != nil {
		return State{}, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	var raw fileSnapshot
	if err := json.Unmarshal(b, &raw); err != nil {
		return State{}, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	devices, err := decodeEntries[fileDevice](raw.Devices)
	if err != nil {
		return State{}, fmt.Errorf("decode snapshot %s devices: %w", s.path, err)
	}
	pairings, err := decodeEntries[string](raw.Pairings)
	if err != nil {
		return State{}, fmt.Errorf("decode snapshot %s pairings: %w", s.path, err)
	}

	state := State{
		Agents:   make([]AgentRecord, 0, len(devices)),
		Pairings: pairings,
	}
	for id, d := range devices {
		rec := AgentRecord{ID: id, Name: d.Name, LastSeen: d.LastSeen}
		if d.PairingCode != nil {
			rec.PairingCode = *d.PairingCode
		}
		state.Agents = append(state.Agents, rec)
	}
	sort.Slice(state.Agents, func(i, j int) bool { return state.Agents[i].ID < state.Agents[j].ID })
	return state, nil
}

func (s *FileStore) Save(_ context.Context, state State) error {
	devices := make(map[string]fileDevice, len(state.Agents))
	for _, a := range state.Agents {
		d := fileDevice{Name: a.Name, LastSeen: a.LastSeen}
		if a.PairingCode != "" {
			code := a.PairingCode
			d.PairingCode = &code
		}
		devices[a.ID] = d
	}
	pairings := state.Pairings
	if pairings == nil {
		pairings = map[string]string{}
	}

	raw := struct {
		Devices  [][2]any `json:"devices"`
		Pairings [][2]any `json:"pairings"`
	}{
		Devices:  encodeEntries(devices),
		Pairings: encodeEntries(pairings),
	}

	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
