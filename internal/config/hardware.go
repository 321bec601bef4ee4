// Package config holds guardcar's two configuration layers: the
// operator-edited YAML hardware config (camera addresses, storage paths),
// loaded once at boot with fsnotify hot-reload, and the runtime JSON
// control-plane config (providers, suspicion threshold) mutated by remote
// commands and persisted atomically. See runtime.go for the latter.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// HardwareConfig describes the cameras and local system wiring. It is
// operator-edited, not programmatically mutated, so it is loaded once at
// boot (hot-reloaded on file change, but never written back by guardcar
// itself).
type HardwareConfig struct {
	System  SystemConfig   `yaml:"system"`
	Cameras []CameraConfig `yaml:"cameras"`
	Storage StorageConfig  `yaml:"storage"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*HardwareConfig) `yaml:"-"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Name     string        `yaml:"name"`
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures log/slog's level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// CameraConfig wires one camera's video-ingest address, control API, and
// detection parameters.
type CameraConfig struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Enabled       bool    `yaml:"enabled"`
	VideoAddr     string  `yaml:"video_addr"`      // TLS frame-stream source, host:port
	ControlURL    string  `yaml:"control_url"`      // camera control HTTP API base URL
	Threshold     float64 `yaml:"threshold"`
	StopThreshold float64 `yaml:"stop_threshold,omitempty"`
}

// StorageConfig holds the paths guardcar writes local state under.
type StorageConfig struct {
	ConfigDir string `yaml:"config_dir"` // holds the runtime JSON config and NATS JetStream store
	DataDir   string `yaml:"data_dir"`   // holds the SQLite database
}

// LoadHardwareConfig reads and parses the YAML hardware config at path.
func LoadHardwareConfig(path string) (*HardwareConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read hardware config: %w", err)
	}

	var cfg HardwareConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse hardware config: %w", err)
	}
	cfg.path = path
	cfg.setDefaults()

	return &cfg, nil
}

func (c *HardwareConfig) setDefaults() {
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = "text"
	}
	if c.Storage.ConfigDir == "" {
		c.Storage.ConfigDir = "/data/config"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "/data"
	}
	for i := range c.Cameras {
		if c.Cameras[i].StopThreshold == 0 {
			c.Cameras[i].StopThreshold = c.Cameras[i].Threshold
		}
	}
}

// Camera returns a camera's config by ID.
func (c *HardwareConfig) Camera(id string) *CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			return &c.Cameras[i]
		}
	}
	return nil
}

// OnChange registers a callback invoked after every reload.
func (c *HardwareConfig) OnChange(fn func(*HardwareConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// Watch starts an fsnotify watcher on the config file, reloading and
// notifying registered callbacks on every write.
func (c *HardwareConfig) Watch(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond)
					c.reload(logger)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("hardware config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

func (c *HardwareConfig) reload(logger *slog.Logger) {
	newCfg, err := LoadHardwareConfig(c.path)
	if err != nil {
		logger.Error("failed to reload hardware config", "error", err)
		return
	}

	c.mu.Lock()
	c.System = newCfg.System
	c.Cameras = newCfg.Cameras
	c.Storage = newCfg.Storage
	watchers := c.watchers
	c.mu.Unlock()

	logger.Info("hardware config reloaded")
	for _, fn := range watchers {
		fn(c)
	}
}
