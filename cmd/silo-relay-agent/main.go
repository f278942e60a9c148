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

	"github.com/EternisAI/silo-relay/internal/capture"
	"github.com/EternisAI/silo-relay/internal/ws/client"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

var AppVersion string

func main() {
	if len(os.Args) > 1 && os.Args[1] == "pair" {
		if err := runPair(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "pair:", err)
			os.Exit(1)
		}
		return
	}

	InitConfig()

	slog.Info("Silo Relay Agent", "version", AppVersion)

	streamer := capture.NewStreamer(capture.FileSource{Path: config.Capture.ImagePath}, nil)
	relayClient := client.NewClient(config.Relay, viper.ConfigFileUsed(), streamer)
	streamer.SetSink(relayClient)

	if err := relayClient.Start(); err != nil {
		slog.Error("Failed to start relay client", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/status", func(c *gin.Context) {
		stats := streamer.Stats()
		c.JSON(http.StatusOK, gin.H{
			"agentId":     relayClient.AgentID(),
			"pairingCode": relayClient.PairingCode(),
			"streaming":   stats.Streaming,
			"requestId":   stats.RequestID,
			"frames":      stats.Frames,
			"errors":      stats.Errors,
			"fps":         stats.FPS,
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	sig := <-quit
	slog.Info("Received shutdown signal", "signal", sig)

	slog.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamer.Stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := relayClient.Stop(); err != nil {
			slog.Error("Relay client stop error", "error", err)
		}
	}()

	wg.Wait()
	slog.Info("Shutdown complete")
}
