package tests

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EternisAI/silo-relay/internal/db"
	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/EternisAI/silo-relay/internal/snapshot"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doAdmin(router *gin.Engine, method, path, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-API-Key", apiKey)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// TestPostgresSnapshot exercises the store directly in its own schema.
func TestPostgresSnapshot(t *testing.T, base db.Config) {
	ctx := context.Background()
	config := base
	config.Schema = "relay_store_test"

	require.NoError(t, db.RunMigrations(ctx, config))
	// migrations are idempotent
	require.NoError(t, db.RunMigrations(ctx, config))

	pool, err := db.InitDB(ctx, config)
	require.NoError(t, err)
	store := snapshot.NewPostgresStore(pool)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)

	seen := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	state := snapshot.State{
		Agents: []snapshot.AgentRecord{
			{ID: "a-1", Name: "Device a-1", LastSeen: seen, PairingCode: "111111"},
			{ID: "a-2", Name: "Kitchen", LastSeen: seen},
		},
		Pairings: map[string]string{"alice@x": "a-1", "bob@x": "a-1"},
	}
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Agents, 2)
	assert.Equal(t, "a-1", loaded.Agents[0].ID)
	assert.Equal(t, "111111", loaded.Agents[0].PairingCode)
	assert.Equal(t, "", loaded.Agents[1].PairingCode)
	assert.Equal(t, "Kitchen", loaded.Agents[1].Name)
	assert.WithinDuration(t, seen, loaded.Agents[0].LastSeen, time.Millisecond)
	assert.Equal(t, state.Pairings, loaded.Pairings)

	// a save replaces the previous snapshot
	require.NoError(t, store.Save(ctx, snapshot.State{
		Agents:   []snapshot.AgentRecord{{ID: "a-2", Name: "Kitchen", LastSeen: seen}},
		Pairings: map[string]string{},
	}))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Agents, 1)
	assert.Equal(t, "a-2", loaded.Agents[0].ID)
	assert.Empty(t, loaded.Pairings)
}

// TestSnapshotRestore flushes the live relay's directory and restores it into
// a fresh registry, as a restart would.
func TestSnapshotRestore(t *testing.T, env *Env, flusher *snapshot.Flusher, store snapshot.Store) {
	ctx := context.Background()

	flusher.MarkDirty()
	flusher.Flush(ctx)

	state, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, agentID, state.Pairings["alice@example.com"])

	live, ok := env.Registry.LookupAgent(agentID)
	require.True(t, ok)

	reg := registry.NewRegistry(nil, nil)
	dir := pairing.NewDirectory(reg, nil)
	reg.Restore(state.Agents)
	dir.Restore(state.Pairings)

	restored, ok := reg.LookupAgent(agentID)
	require.True(t, ok)
	assert.False(t, restored.Online)
	assert.Equal(t, live.PairingCode, restored.PairingCode)
	assert.Equal(t, live.DisplayName, restored.DisplayName)

	byCode, ok := reg.FindAgentByCode(live.PairingCode)
	require.True(t, ok)
	assert.Equal(t, agentID, byCode.ID)

	resolved, ok := dir.ResolveAgentFor("alice@example.com")
	require.True(t, ok)
	assert.Equal(t, agentID, resolved)
}
