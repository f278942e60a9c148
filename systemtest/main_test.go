package systemtest

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	internalhttp "github.com/EternisAI/silo-relay/internal/api/http"
	"github.com/EternisAI/silo-relay/internal/auth"
	"github.com/EternisAI/silo-relay/internal/db"
	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/EternisAI/silo-relay/internal/relay"
	"github.com/EternisAI/silo-relay/internal/snapshot"
	"github.com/EternisAI/silo-relay/internal/users"
	wsserver "github.com/EternisAI/silo-relay/internal/ws/server"
	"github.com/EternisAI/silo-relay/systemtest/postgres"
	"github.com/EternisAI/silo-relay/systemtest/tests"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret   = "systemtest-secret"
	adminAPIKey = "systemtest-admin"
	accounts    = "# systemtest viewers\nalice@example.com:password123\nbob:hunter2\n"
)

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("system test needs docker")
	}
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	container, err := postgres.StartPostgres(ctx, "relay", "relay", "relay")
	require.NoError(t, err)
	t.Cleanup(func() { _ = postgres.TerminatePostgres(context.Background(), container) })

	url, err := postgres.ConnectionURL(ctx, container)
	require.NoError(t, err)
	dbConfig := db.Config{Url: url, Schema: "relay"}

	store, err := snapshot.Open(ctx, snapshot.Config{Backend: "postgres"}, dbConfig)
	require.NoError(t, err)
	flusher := snapshot.NewFlusher(store, 50*time.Millisecond)
	t.Cleanup(func() { _ = flusher.Close(context.Background()) })

	env := startRelay(t, flusher)

	t.Run("HealthCheck", func(t *testing.T) { tests.TestHealthCheck(t, env.Router) })
	t.Run("Login", func(t *testing.T) { tests.TestLogin(t, env.Router, jwtSecret) })
	t.Run("PairingFlow", func(t *testing.T) { tests.TestPairingFlow(t, env) })
	t.Run("Admin", func(t *testing.T) { tests.TestAdmin(t, env.Router, adminAPIKey) })
	t.Run("SnapshotStore", func(t *testing.T) { tests.TestPostgresSnapshot(t, dbConfig) })
	t.Run("SnapshotRestore", func(t *testing.T) { tests.TestSnapshotRestore(t, env, flusher, store) })
}

func startRelay(t *testing.T, flusher *snapshot.Flusher) *tests.Env {
	t.Helper()

	accountService := users.NewService()
	require.NoError(t, accountService.Load(strings.NewReader(accounts)))
	authService := auth.NewService(accountService, auth.Config{Secret: jwtSecret})
	verifier := authService.Verifier()

	reg := registry.NewRegistry(verifier, flusher)
	dir := pairing.NewDirectory(reg, flusher)
	flusher.Start(func() snapshot.State {
		return snapshot.State{Agents: reg.Snapshot(), Pairings: dir.Pairings()}
	})

	svc := relay.NewService(reg, dir, relay.Config{})
	disp := wsserver.NewDispatcher(reg, dir, svc, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)

	wsSrv := wsserver.NewServer(wsserver.Config{}, disp)

	httpConfig := internalhttp.Config{AdminAPIKey: adminAPIKey}
	engine := internalhttp.NewEngine(httpConfig)
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Version:     "systemtest",
		Config:      httpConfig,
		AuthService: authService,
		Verifier:    verifier,
		Registry:    reg,
		Directory:   dir,
		WebSocket:   wsSrv,
		Flusher:     flusher,
	})

	ts := httptest.NewServer(engine)
	t.Cleanup(func() {
		wsSrv.Close()
		ts.Close()
		cancel()
	})

	return &tests.Env{
		Router:    engine,
		Registry:  reg,
		Directory: dir,
		BaseURL:   ts.URL,
		WSURL:     "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}
