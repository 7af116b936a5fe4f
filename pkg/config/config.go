// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// RuntimeConfig holds configuration for the task driver: which
// transport to run over, where progress goes, the user resource
// limits handed to the solver, and the ambient logging setup.
type RuntimeConfig struct {
	// Transport selects the coordinator/worker link: "inproc" runs
	// every worker in the coordinator process, "websocket" runs them
	// as separate processes.
	Transport string `mapstructure:"transport"`

	// ListenAddr is the coordinator's HTTP listen address for the
	// websocket transport and the progress page.
	ListenAddr string `mapstructure:"listen_addr"`

	// CoordinatorURL is where a worker process dials the coordinator.
	CoordinatorURL string `mapstructure:"coordinator_url"`

	// SimulatedWorkers is the worker count for the inproc transport.
	SimulatedWorkers int `mapstructure:"simulated_workers"`

	// Progress selects the progress sink: "console" or "sse".
	Progress string `mapstructure:"progress"`

	// TempDir is where workers put chunk and temporary files.
	TempDir string `mapstructure:"temp_dir"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is text or json.
	LogFormat string `mapstructure:"log_format"`

	// MetricsEnabled exposes a Prometheus /metrics endpoint on
	// ListenAddr.
	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// Limits are the user caps (U) the solver applies; byte sizes are
	// written humanized ("100GiB") in the file and environment.
	Limits LimitsConfig `mapstructure:"limits"`
}

// LimitsConfig carries the user resource caps as humanized strings,
// resolved to bytes by Resolve.
type LimitsConfig struct {
	PerHostMemory    string `mapstructure:"per_host_memory"`
	PerHostDisk      string `mapstructure:"per_host_disk"`
	MaxCoresPerHost  int    `mapstructure:"max_cores_per_host"`
	MaxCoresOnSystem int    `mapstructure:"max_cores_on_system"`
}

// ResolvedLimits are LimitsConfig with byte sizes parsed; zero means
// "no cap".
type ResolvedLimits struct {
	PerHostMemoryBytes int64
	PerHostDiskBytes   int64
	MaxCoresPerHost    int
	MaxCoresOnSystem   int
}

// Resolve parses the humanized byte sizes.
func (l LimitsConfig) Resolve() (ResolvedLimits, error) {
	out := ResolvedLimits{MaxCoresPerHost: l.MaxCoresPerHost, MaxCoresOnSystem: l.MaxCoresOnSystem}
	if l.PerHostMemory != "" {
		v, err := humanize.ParseBytes(l.PerHostMemory)
		if err != nil {
			return out, fmt.Errorf("config: per_host_memory: %w", err)
		}
		out.PerHostMemoryBytes = int64(v)
	}
	if l.PerHostDisk != "" {
		v, err := humanize.ParseBytes(l.PerHostDisk)
		if err != nil {
			return out, fmt.Errorf("config: per_host_disk: %w", err)
		}
		out.PerHostDiskBytes = int64(v)
	}
	return out, nil
}

// NewDefault creates a new configuration with default values
func NewDefault() *RuntimeConfig {
	return &RuntimeConfig{
		Transport:        "inproc",
		ListenAddr:       ":6831",
		CoordinatorURL:   "ws://localhost:6831/connect",
		SimulatedWorkers: 4,
		Progress:         "console",
		TempDir:          "",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads configuration layered defaults < YAML file < KHIOPS_*
// environment variables. An empty path searches for khiops.yaml in
// the working directory and tolerates its absence; an explicit path
// must exist.
func Load(path string) (*RuntimeConfig, error) {
	v := viper.New()

	def := NewDefault()
	v.SetDefault("transport", def.Transport)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("coordinator_url", def.CoordinatorURL)
	v.SetDefault("simulated_workers", def.SimulatedWorkers)
	v.SetDefault("progress", def.Progress)
	v.SetDefault("temp_dir", def.TempDir)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("metrics_enabled", def.MetricsEnabled)
	v.SetDefault("limits.per_host_memory", "")
	v.SetDefault("limits.per_host_disk", "")
	v.SetDefault("limits.max_cores_per_host", 0)
	v.SetDefault("limits.max_cores_on_system", 0)

	v.SetEnvPrefix("KHIOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("khiops")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read khiops.yaml: %w", err)
			}
		}
	}

	cfg := &RuntimeConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *RuntimeConfig) Validate() error {
	switch c.Transport {
	case "inproc", "websocket":
	default:
		return ErrInvalidTransport
	}
	switch c.Progress {
	case "console", "sse":
	default:
		return ErrInvalidProgress
	}
	if c.Transport == "websocket" && c.CoordinatorURL == "" {
		return ErrMissingCoordinatorURL
	}
	if c.SimulatedWorkers < 1 {
		return ErrInvalidWorkerCount
	}
	if _, err := c.Limits.Resolve(); err != nil {
		return err
	}
	return nil
}
