// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "AGENTVIS_CONFIG"

// Config is the combined configuration for the relay and the client.
// Each binary reads only the sections it uses.
type Config struct {
	Relay    RelayConfig    `yaml:"relay" json:"relay"`
	Client   ClientConfig   `yaml:"client" json:"client"`
	Registry RegistryConfig `yaml:"registry" json:"registry"`
	Watch    WatchConfig    `yaml:"watch" json:"watch"`
	Viewer   ViewerConfig   `yaml:"viewer" json:"viewer"`
	Export   ExportConfig   `yaml:"export" json:"export"`
}

// RelayConfig configures agentvis-relay.
type RelayConfig struct {
	// Listen is the TCP address for ingest and push.
	Listen string `yaml:"listen" json:"listen"`

	// ClientBuffer is the per-client outbound queue length. A client
	// whose queue fills is disconnected.
	ClientBuffer int `yaml:"client_buffer" json:"client_buffer"`

	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ClientConfig configures the relay connection of agentvis.
type ClientConfig struct {
	// RelayURL is the relay's push endpoint (ws:// or wss://).
	RelayURL string `yaml:"relay_url" json:"relay_url"`

	// Encoding is "json" or "cbor".
	Encoding string `yaml:"encoding" json:"encoding"`

	BackoffInitial Duration `yaml:"backoff_initial" json:"backoff_initial"`
	BackoffMax     Duration `yaml:"backoff_max" json:"backoff_max"`

	// InboundBuffer is the capacity of the channel between the network
	// client and the registry loop.
	InboundBuffer int `yaml:"inbound_buffer" json:"inbound_buffer"`
}

// RegistryConfig configures agent lifecycle timing and history bounds.
type RegistryConfig struct {
	SpawnDuration  Duration `yaml:"spawn_duration" json:"spawn_duration"`
	ActivityWindow Duration `yaml:"activity_window" json:"activity_window"`
	IdleTimeout    Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ResolveGrace   Duration `yaml:"resolve_grace" json:"resolve_grace"`
	SweepInterval  Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// ActivityLog bounds each agent's activity history.
	ActivityLog int `yaml:"activity_log" json:"activity_log"`

	// NodeHistory bounds each node's recent-activity ring.
	NodeHistory int `yaml:"node_history" json:"node_history"`
}

// WatchConfig selects the file-system watch backend.
type WatchConfig struct {
	// Backend is "inotify" (Linux, atomic renames) or "fsnotify".
	Backend string `yaml:"backend" json:"backend"`
}

// ViewerConfig configures the terminal viewer.
type ViewerConfig struct {
	Tick     Duration `yaml:"tick" json:"tick"`
	TopFiles int      `yaml:"top_files" json:"top_files"`
}

// ExportConfig configures the read-only frame export endpoint.
type ExportConfig struct {
	// Listen is empty to disable the endpoint.
	Listen string `yaml:"listen" json:"listen"`

	// Compression is "none", "lz4", or "zstd".
	Compression string `yaml:"compression" json:"compression"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Listen:          "127.0.0.1:8080",
			ClientBuffer:    256,
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Client: ClientConfig{
			RelayURL:       "ws://127.0.0.1:8080/ws",
			Encoding:       "json",
			BackoffInitial: Duration(500 * time.Millisecond),
			BackoffMax:     Duration(30 * time.Second),
			InboundBuffer:  256,
		},
		Registry: RegistryConfig{
			SpawnDuration:  Duration(500 * time.Millisecond),
			ActivityWindow: Duration(1200 * time.Millisecond),
			IdleTimeout:    Duration(5 * time.Second),
			ResolveGrace:   Duration(2 * time.Second),
			SweepInterval:  Duration(100 * time.Millisecond),
			ActivityLog:    64,
			NodeHistory:    10,
		},
		Watch: WatchConfig{
			Backend: "inotify",
		},
		Viewer: ViewerConfig{
			Tick:     Duration(100 * time.Millisecond),
			TopFiles: 6,
		},
		Export: ExportConfig{
			Compression: "none",
		},
	}
}

// Load returns Default() overlaid with the file at path. An empty path
// falls back to AGENTVIS_CONFIG; if that is also empty the defaults
// are returned unchanged.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Relay.Listen == "" {
		errs = append(errs, errors.New("relay.listen is required"))
	}
	if c.Relay.ClientBuffer < 1 {
		errs = append(errs, fmt.Errorf("relay.client_buffer must be positive, got %d", c.Relay.ClientBuffer))
	}
	if c.Client.Encoding != "json" && c.Client.Encoding != "cbor" {
		errs = append(errs, fmt.Errorf("client.encoding must be json or cbor, got %q", c.Client.Encoding))
	}
	if c.Client.BackoffInitial <= 0 || c.Client.BackoffMax < c.Client.BackoffInitial {
		errs = append(errs, fmt.Errorf("client backoff must satisfy 0 < backoff_initial <= backoff_max"))
	}
	if c.Client.InboundBuffer < 1 {
		errs = append(errs, fmt.Errorf("client.inbound_buffer must be positive, got %d", c.Client.InboundBuffer))
	}
	for name, value := range map[string]Duration{
		"registry.spawn_duration":  c.Registry.SpawnDuration,
		"registry.activity_window": c.Registry.ActivityWindow,
		"registry.idle_timeout":    c.Registry.IdleTimeout,
		"registry.resolve_grace":   c.Registry.ResolveGrace,
		"registry.sweep_interval":  c.Registry.SweepInterval,
		"viewer.tick":              c.Viewer.Tick,
	} {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Registry.ActivityLog < 1 || c.Registry.NodeHistory < 1 {
		errs = append(errs, errors.New("registry.activity_log and registry.node_history must be positive"))
	}
	if c.Watch.Backend != "inotify" && c.Watch.Backend != "fsnotify" {
		errs = append(errs, fmt.Errorf("watch.backend must be inotify or fsnotify, got %q", c.Watch.Backend))
	}
	switch c.Export.Compression {
	case "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("export.compression must be none, lz4, or zstd, got %q", c.Export.Compression))
	}

	return errors.Join(errs...)
}
