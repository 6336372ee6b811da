package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"sendit/internal/core"
	"sendit/internal/server/api"
	"sendit/internal/server/config"
	"sendit/internal/server/service"
	"sendit/internal/server/signaling"
	"sendit/internal/server/storage"
)

func main() {
	// Load config first so the log level can come from it
	cfg := config.Load()

	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"host", cfg.Host,
		"port", cfg.Port,
		"upload_dir", cfg.UploadDir,
		"max_rooms", cfg.MaxRooms,
		"max_peers_per_room", cfg.MaxPeersPerRoom,
		"room_ttl", cfg.RoomTTL,
		"max_file_size", cfg.MaxFileSize,
		"relay_file_ttl", cfg.RelayFileTTL,
	)

	clk := clock.New()
	buffers := core.NewBufferPool(cfg.ChunkSize)

	// Initialize blob storage
	store := storage.NewFileSystemStore(cfg.UploadDir, buffers)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "path", cfg.UploadDir)

	// Room registry with admission control
	admission := signaling.NewAdmission(cfg.MaxConnsPerIP)
	registry := signaling.NewRegistry(signaling.RegistryOptions{
		MaxRooms:             cfg.MaxRooms,
		MaxPeersPerRoom:      cfg.MaxPeersPerRoom,
		RoomCodeLength:       cfg.RoomCodeLength,
		RoomTTL:              cfg.RoomTTL,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	}, admission, clk)

	// File relay service
	relay := service.NewRelayService(store, cfg, clk)

	// Background reapers
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	roomReaper := signaling.NewReaper(registry, cfg.RoomSweepInterval, clk)
	roomReaper.Start(reaperCtx)
	fileCleanup := service.NewCleanupService(relay, cfg.FileSweepInterval, clk)
	fileCleanup.Start(reaperCtx)

	// Setup HTTP router
	handler := api.NewHandler(registry, relay, buffers, cfg)
	e := api.SetupRouter(handler, cfg)

	// Streaming transfers can legitimately run for a long time, so there is
	// no global read/write timeout; uploads carry their own stall guard.
	e.Server.ReadHeaderTimeout = 10 * time.Second

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
		slog.Info("starting server", "addr", addr,
			"signaling", fmt.Sprintf("ws://%s/ws/{room_code}", addr),
			"relay", fmt.Sprintf("http://%s/api/relay", addr),
		)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop reapers
	reaperCancel()
	roomReaper.Wait()
	fileCleanup.Wait()

	slog.Info("server exited cleanly")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
