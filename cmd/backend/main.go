// Package main is guardcar's backend process: it hosts the embedded NATS
// broker, persists events to SQLite, and serves the REST/SSE/video API
// consumed by the operator dashboard.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/tomeravgil/guardcar/internal/backend"
	"github.com/tomeravgil/guardcar/internal/core"
	"github.com/tomeravgil/guardcar/internal/database"
	"github.com/tomeravgil/guardcar/internal/eventfabric"
	"github.com/tomeravgil/guardcar/internal/logging"
	"github.com/tomeravgil/guardcar/internal/telemetry"
)

const (
	defaultAddress   = "0.0.0.0"
	defaultDataDir   = "/data"
	defaultConfigDir = "/data/config"
)

func main() {
	logger := telemetry.Setup("backend", os.Stdout)
	logBuffer := logging.GetLogBuffer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataDir := envOr("GUARDCAR_DATA_DIR", defaultDataDir)
	configDir := envOr("GUARDCAR_CONFIG_DIR", defaultConfigDir)

	db, err := database.Open(database.DefaultConfig(dataDir))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.NewMigrator(db).Run(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	store := database.NewEventStore(db)

	ports := core.GetPortManager()
	apiPort, err := ports.ReserveOrFind(core.DefaultBackendAPIPort, "backend-api")
	if err != nil {
		logger.Error("failed to reserve API port", "error", err)
		os.Exit(1)
	}
	natsPort, err := ports.ReserveOrFind(core.DefaultNATSPort, "nats")
	if err != nil {
		logger.Error("failed to reserve NATS port", "error", err)
		os.Exit(1)
	}

	connMgr, err := eventfabric.Host(eventfabric.HostConfig{
		Host:     "127.0.0.1",
		Port:     natsPort,
		StoreDir: filepath.Join(configDir, "jetstream"),
	}, logger)
	if err != nil {
		logger.Error("failed to host event fabric", "error", err)
		os.Exit(1)
	}
	defer connMgr.Close()

	sseHub := backend.NewSSEHub(logger)
	go sseHub.Run()
	videoHub := backend.NewVideoHub(logger)

	if err := connMgr.SetupBackend(ctx, eventfabric.BackendHandlers{
		OnSuspicionFrame: func(msg eventfabric.SuspicionFrameMessage) {
			sseHub.Publish(backend.EventSuspicion, msg)
			if err := store.RecordSuspicion(ctx, msg.CameraID, msg.SuspicionScore); err != nil {
				logger.Error("failed to record suspicion event", "error", err)
			}
		},
		OnRecordingStatus: func(msg eventfabric.RecordingStatusMessage) {
			sseHub.Publish(backend.EventRecording, msg)
			if err := store.RecordRecordingStatus(ctx, msg.CameraID, msg.Recording); err != nil {
				logger.Error("failed to record recording status event", "error", err)
			}
		},
		OnResponse: func(msg eventfabric.ResponseMessage) {
			kind := backend.EventSuccess
			if !msg.Success {
				kind = backend.EventFailure
			}
			sseHub.Publish(kind, msg)
		},
		OnFrameMirror: func(jpeg []byte) {
			videoHub.Broadcast(jpeg)
		},
	}); err != nil {
		logger.Error("failed to set up backend dispatcher", "error", err)
		os.Exit(1)
	}

	handlers := backend.NewHandlers(connMgr, logger)
	logsHandler := backend.NewLogsHandler(logBuffer)
	router := backend.NewRouter(handlers, sseHub, videoHub, logsHandler)

	addr := envOr("GUARDCAR_BACKEND_ADDR", defaultAddress) + ":" + strconv.Itoa(apiPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("backend server starting", "address", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("shutting down backend")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("backend stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
