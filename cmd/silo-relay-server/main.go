package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	internalhttp "github.com/EternisAI/silo-relay/internal/api/http"
	"github.com/EternisAI/silo-relay/internal/auth"
	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/EternisAI/silo-relay/internal/relay"
	"github.com/EternisAI/silo-relay/internal/snapshot"
	"github.com/EternisAI/silo-relay/internal/users"
	wsserver "github.com/EternisAI/silo-relay/internal/ws/server"
	"github.com/gin-gonic/gin"
)

var AppVersion string

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := runHashPassword(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "hash-password:", err)
			os.Exit(1)
		}
		return
	}

	InitConfig()

	slog.Info("Silo Relay Server", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accounts := users.NewService()
	if err := accounts.LoadFile(config.Accounts.Path); err != nil {
		slog.Error("Failed to load accounts", "error", err)
		os.Exit(1)
	}
	authService := auth.NewService(accounts, config.Auth)
	verifier := authService.Verifier()

	store, err := snapshot.Open(ctx, config.Snapshot, config.Db)
	if err != nil {
		slog.Error("Failed to open snapshot store", "error", err)
		os.Exit(1)
	}
	flusher := snapshot.NewFlusher(store, config.Snapshot.FlushInterval)

	reg := registry.NewRegistry(verifier, flusher)
	dir := pairing.NewDirectory(reg, flusher)

	state := flusher.Load(ctx)
	reg.Restore(state.Agents)
	dir.Restore(state.Pairings)

	flusher.Start(func() snapshot.State {
		return snapshot.State{
			Agents:   reg.Snapshot(),
			Pairings: dir.Pairings(),
		}
	})

	relayService := relay.NewService(reg, dir, config.Relay)
	dispatcher := wsserver.NewDispatcher(reg, dir, relayService, config.Ws.QueueSize)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx)
	}()

	wsSrv := wsserver.NewServer(config.Ws, dispatcher)

	services := &internalhttp.Services{
		Version:     AppVersion,
		Config:      config.Http,
		AuthService: authService,
		Verifier:    verifier,
		Registry:    reg,
		Directory:   dir,
		WebSocket:   wsSrv,
		Flusher:     flusher,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := internalhttp.NewEngine(config.Http)
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		wsSrv.Close()
	}()

	wg.Wait()

	cancel()
	<-dispatcherDone

	flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer flushCancel()
	if err := flusher.Close(flushCtx); err != nil {
		slog.Error("Snapshot store close error", "error", err)
	}

	slog.Info("Shutdown complete")
}
