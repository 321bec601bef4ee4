// Package main is guardcar's edge process: it runs on-site, pulls frames
// from each configured camera, routes them through the local or an
// operator-registered remote detector, tracks and scores suspicion, and
// drives recording start/stop, publishing everything onto the event
// fabric for the backend to persist and serve.
package main

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/tomeravgil/guardcar/internal/config"
	"github.com/tomeravgil/guardcar/internal/detector"
	"github.com/tomeravgil/guardcar/internal/eventfabric"
	"github.com/tomeravgil/guardcar/internal/framepump"
	"github.com/tomeravgil/guardcar/internal/recording"
	"github.com/tomeravgil/guardcar/internal/router"
	"github.com/tomeravgil/guardcar/internal/telemetry"
	"github.com/tomeravgil/guardcar/internal/tracker"
)

const (
	defaultHardwareConfigPath = "/data/config/hardware.yaml"
	defaultBrokerURL          = "nats://127.0.0.1:4222"
)

func main() {
	logger := telemetry.Setup("edge", os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hwPath := envOr("GUARDCAR_HARDWARE_CONFIG", defaultHardwareConfigPath)
	hwCfg, err := config.LoadHardwareConfig(hwPath)
	if err != nil {
		logger.Error("failed to load hardware config", "error", err)
		os.Exit(1)
	}
	if err := hwCfg.Watch(logger); err != nil {
		logger.Warn("hardware config hot-reload disabled", "error", err)
	}

	runtimePath := filepath.Join(hwCfg.Storage.ConfigDir, "runtime.json")
	if p := os.Getenv("GUARDCAR_RUNTIME_CONFIG"); p != "" {
		runtimePath = p
	}
	rtCfg, err := config.LoadRuntimeConfig(runtimePath, config.EncryptionKeyFromEnv())
	if err != nil {
		logger.Error("failed to load runtime config", "error", err)
		os.Exit(1)
	}

	brokerURL := envOr("GUARDCAR_BROKER_URL", defaultBrokerURL)
	connMgr, err := eventfabric.Dial(brokerURL, logger)
	if err != nil {
		logger.Error("failed to dial event fabric", "error", err)
		os.Exit(1)
	}
	defer connMgr.Close()

	trk := tracker.New(logger)
	threshold, weights := rtCfg.Snapshot()
	if len(weights) > 0 {
		byID, err := classWeightsByID(weights)
		if err != nil {
			logger.Error("failed to coerce persisted class weight keys to ids", "error", err)
		} else {
			trk.SetWeights(byID)
		}
	}

	runner := detector.NewStubRunner(nil)
	local, err := detector.NewLocal(runner, logger)
	if err != nil {
		logger.Error("failed to start local detector", "error", err)
		os.Exit(1)
	}

	rt := router.New(local, trk, logger)
	recCtl := recording.New(connMgr, logger)

	for i := range hwCfg.Cameras {
		cam := hwCfg.Cameras[i]
		if !cam.Enabled {
			continue
		}
		camThreshold := cam.Threshold
		if threshold > 0 {
			camThreshold = float64(threshold)
		}
		recCtl.Register(cam.ID, cam.ControlURL, camThreshold, cam.StopThreshold)
	}

	// Re-dial any providers that were already registered before this
	// process started (persisted runtime config survives restarts).
	for _, p := range rtCfg.Providers {
		certDER, ok := rtCfg.ProviderCertDER(p.Name)
		if !ok {
			logger.Warn("skipping provider with unreadable certificate", "provider", p.Name)
			continue
		}
		registerRemoteProvider(ctx, rt, p.Name, p.ConnectionIP, certDER, logger)
	}

	if err := connMgr.SetupEdge(ctx, eventfabric.EdgeHandlers{
		OnCloudProviderConfig: func(msg eventfabric.CloudProviderConfigMessage) {
			handleCloudProviderConfig(ctx, rt, rtCfg, connMgr, msg, logger)
		},
		OnSuspicionConfig: func(msg eventfabric.SuspicionConfigMessage) {
			handleSuspicionConfig(trk, recCtl, rtCfg, hwCfg, msg, logger)
		},
	}); err != nil {
		logger.Error("failed to set up edge dispatcher", "error", err)
		os.Exit(1)
	}

	for i := range hwCfg.Cameras {
		cam := hwCfg.Cameras[i]
		if !cam.Enabled {
			continue
		}
		pump := framepump.New(framepump.Config{
			CameraID:  cam.ID,
			Addr:      cam.VideoAddr,
			TLSConfig: &tls.Config{InsecureSkipVerify: true},
			Router:    rt,
			Sink:      connMgr,
			Recording: recCtl,
			Logger:    logger,
		})
		go supervisePump(ctx, cam.ID, pump, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down edge")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

// supervisePump restarts a camera's frame pump with a backoff after any
// error, per spec.md §4.4/§7's "reconnect, never give up" requirement.
func supervisePump(ctx context.Context, cameraID string, pump *framepump.Pump, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := pump.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("camera pump ended, restarting", "camera", cameraID, "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// handleCloudProviderConfig implements spec.md §4.6's provider
// registration/deregistration control message: dial or remove a remote
// detector, persist the registration, select it on success, and ack.
func handleCloudProviderConfig(ctx context.Context, rt *router.Router, rtCfg *config.RuntimeConfig, connMgr *eventfabric.ConnectionManager, msg eventfabric.CloudProviderConfigMessage, logger *slog.Logger) {
	if msg.Delete {
		rt.Remove(msg.ProviderName)
		if err := rtCfg.RemoveProvider(msg.ProviderName); err != nil {
			logger.Error("failed to persist provider removal", "provider", msg.ProviderName, "error", err)
		}
		connMgr.PublishResponse(true, fmt.Sprintf("provider %s removed", msg.ProviderName), eventfabric.RelatedCloud)
		return
	}

	certDER, err := base64.StdEncoding.DecodeString(msg.ServerCertification)
	if err != nil {
		connMgr.PublishResponse(false, fmt.Sprintf("invalid certificate for %s: %v", msg.ProviderName, err), eventfabric.RelatedCloud)
		return
	}

	ready := registerRemoteProvider(ctx, rt, msg.ProviderName, msg.ConnectionIP, certDER, logger)
	if !ready {
		connMgr.PublishResponse(false, fmt.Sprintf("provider %s did not become ready in time", msg.ProviderName), eventfabric.RelatedCloud)
		return
	}

	if err := rt.Select(msg.ProviderName); err != nil {
		connMgr.PublishResponse(false, err.Error(), eventfabric.RelatedCloud)
		return
	}
	if err := rtCfg.AddProvider(msg.ProviderName, msg.ConnectionIP, certDER); err != nil {
		logger.Error("failed to persist provider registration", "provider", msg.ProviderName, "error", err)
	}
	connMgr.PublishResponse(true, fmt.Sprintf("provider %s registered and selected", msg.ProviderName), eventfabric.RelatedCloud)
}

// registerRemoteProvider dials a remote detector, registers it with the
// router, and waits up to 5s for it to become ready per spec.md §4.6.
func registerRemoteProvider(ctx context.Context, rt *router.Router, name, connectionIP string, certDER []byte, logger *slog.Logger) bool {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	remote, err := detector.NewRemote(name, connectionIP, certPEM, logger)
	if err != nil {
		logger.Error("failed to dial remote provider", "provider", name, "error", err)
		return false
	}
	rt.Register(name, remote)
	return remote.WaitReady(ctx)
}

// handleSuspicionConfig implements spec.md §4.6's threshold/weights update
// control message, hot-reloading the tracker's weights and every camera's
// recording threshold.
func handleSuspicionConfig(trk *tracker.Tracker, recCtl *recording.Controller, rtCfg *config.RuntimeConfig, hwCfg *config.HardwareConfig, msg eventfabric.SuspicionConfigMessage, logger *slog.Logger) {
	if len(msg.ClassWeights) > 0 {
		weights, err := classWeightsByID(msg.ClassWeights)
		if err != nil {
			logger.Error("failed to coerce class weight keys to ids", "error", err)
		} else {
			trk.SetWeights(weights)
			if err := rtCfg.SetClassWeights(msg.ClassWeights); err != nil {
				logger.Error("failed to persist class weights", "error", err)
			}
		}
	}
	// msg.Threshold is a pointer: a present "threshold":0 (always-on
	// recording) must still apply, unlike a wholly-absent field.
	if msg.Threshold != nil {
		clamped, err := rtCfg.SetThreshold(*msg.Threshold)
		if err != nil {
			logger.Error("failed to persist threshold", "error", err)
		} else {
			for i := range hwCfg.Cameras {
				recCtl.SetThreshold(hwCfg.Cameras[i].ID, float64(clamped))
			}
		}
	}
}

// classWeightsByID coerces a SuspicionConfig's string-keyed class_weights
// (wire format, spec.md §4.6: "coerce keys to ints") into the class-id keys
// the tracker scores by.
func classWeightsByID(weights map[string]float64) (map[int]float64, error) {
	byID := make(map[int]float64, len(weights))
	for k, v := range weights {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("class_weights key %q is not a class id: %w", k, err)
		}
		byID[id] = v
	}
	return byID, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
