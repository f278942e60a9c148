package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EternisAI/silo-relay/internal/metrics"
)

const DefaultFlushInterval = 2 * time.Second

type Config struct {
	Backend       string        `mapstructure:"backend"` // "file", "postgres" or "none"
	Path          string        `mapstructure:"path"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Flusher writes the directory to a Store after it has been marked dirty,
// at most once per interval and once more on Close. Callers never wait on
// the store.
type Flusher struct {
	store    Store
	interval time.Duration

	dirty  atomic.Bool
	saveMu sync.Mutex
	source func() State

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

func NewFlusher(store Store, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Flusher{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// MarkDirty schedules a write on the next tick.
func (f *Flusher) MarkDirty() {
	f.dirty.Store(true)
}

func (f *Flusher) Dirty() bool {
	return f.dirty.Load()
}

// Load reads the last snapshot. A missing or unreadable snapshot yields an
// empty state so startup is never blocked.
func (f *Flusher) Load(ctx context.Context) State {
	state, err := f.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		slog.Info("No snapshot found, starting empty")
	case err != nil:
		slog.Warn("Failed to load snapshot, starting empty", "error", err)
	default:
		slog.Info("Snapshot loaded", "agents", len(state.Agents), "pairings", len(state.Pairings))
		return state
	}
	return State{Pairings: make(map[string]string)}
}

// Start begins periodic flushing of the state returned by source.
func (f *Flusher) Start(source func() State) {
	f.saveMu.Lock()
	f.source = source
	f.saveMu.Unlock()

	go f.run()
	slog.Info("Snapshot flusher started", "interval", f.interval)
}

func (f *Flusher) run() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), f.interval*2)
			f.Flush(ctx)
			cancel()
		case <-f.stopCh:
			return
		}
	}
}

// Flush writes the current state if it is dirty. A failed write leaves the
// state dirty so the next tick retries.
func (f *Flusher) Flush(ctx context.Context) {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	if f.source == nil || !f.dirty.Swap(false) {
		return
	}

	state := f.source()
	if err := f.store.Save(ctx, state); err != nil {
		f.dirty.Store(true)
		metrics.SnapshotFlushes.WithLabelValues("error").Inc()
		slog.Error("Failed to save snapshot", "error", err)
		return
	}
	metrics.SnapshotFlushes.WithLabelValues("ok").Inc()
	slog.Debug("Snapshot saved", "agents", len(state.Agents), "pairings", len(state.Pairings))
}

// Close stops the flush loop, writes any pending changes and closes the store.
func (f *Flusher) Close(ctx context.Context) error {
	var err error
	f.once.Do(func() {
		f.saveMu.Lock()
		started := f.source != nil
		f.saveMu.Unlock()

		if started {
			close(f.stopCh)
			<-f.doneCh
			f.Flush(ctx)
		}
		err = f.store.Close()
	})
	return err
}
