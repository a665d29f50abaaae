// Package config defines LDRP's runtime tunables (§9, §10.3): chunk
// size, discovery/broadcast timing, keep-alive, debounce window, the
// default conflict strategy, and related knobs, loaded from YAML.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
)

// Config bundles every named tunable the spec allows an implementation
// to surface (§9 Design notes, §4 per-component defaults).
type Config struct {
	ChunkSize         int           `yaml:"chunk_size"`
	DiscoveryPort     int           `yaml:"discovery_port"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	KeepAliveTimeout  time.Duration `yaml:"keep_alive_timeout"`
	WatcherDebounce   time.Duration `yaml:"watcher_debounce"`
	ParallelStreams   int           `yaml:"parallel_streams"`
	DefaultConflict   string        `yaml:"default_conflict_strategy"`
	SyncDeletions     bool          `yaml:"sync_deletions"`
	TrustStorePath    string        `yaml:"trust_store_path"`
	IdentityPath      string        `yaml:"identity_path"`
}

// DefaultConfig returns the spec's named defaults (§9, §4).
func DefaultConfig() Config {
	return Config{
		ChunkSize:         constants.DefaultChunkSize,
		DiscoveryPort:     constants.DefaultDiscoveryPort,
		BroadcastInterval: constants.DefaultBroadcastPeriod,
		DiscoveryTimeout:  constants.DefaultDiscoveryTimeout,
		KeepAliveInterval: constants.KeepAliveInterval,
		KeepAliveTimeout:  constants.KeepAliveTimeout,
		WatcherDebounce:   constants.WatcherDebounce,
		ParallelStreams:   1,
		DefaultConflict:   "newest_wins",
		SyncDeletions:     true,
		TrustStorePath:    "trust.json",
		IdentityPath:      "identity.json",
	}
}

var validConflictStrategies = map[string]bool{
	"newest_wins": true,
	"local_wins":  true,
	"remote_wins": true,
	"keep_both":   true,
}

// Validate checks that every tunable is in its legal range (§9:
// "parallel_streams config option is present but reference semantics
// are sequential" — the field is kept for forward compatibility but
// must be >= 1).
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return ldroperr.ConfigError("chunk_size must be positive")
	}
	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		return ldroperr.ConfigError("discovery_port must be a valid port number")
	}
	if c.BroadcastInterval <= 0 {
		return ldroperr.ConfigError("broadcast_interval must be positive")
	}
	if c.KeepAliveInterval <= 0 || c.KeepAliveTimeout <= 0 {
		return ldroperr.ConfigError("keep_alive_interval and keep_alive_timeout must be positive")
	}
	if c.KeepAliveTimeout <= c.KeepAliveInterval {
		return ldroperr.ConfigError("keep_alive_timeout must exceed keep_alive_interval")
	}
	if c.ParallelStreams < 1 {
		return ldroperr.ConfigError("parallel_streams must be at least 1")
	}
	if !validConflictStrategies[c.DefaultConflict] {
		return ldroperr.ConfigError("default_conflict_strategy must be one of newest_wins, local_wins, remote_wins, keep_both")
	}
	return nil
}

// Load reads a YAML config file, applying DefaultConfig for any field
// left at its zero value, and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return Config{}, ldroperr.IOError(err)
	}

	var overrides Config
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Config{}, ldroperr.ConfigError("invalid config yaml: " + err.Error())
	}
	mergeOverrides(&cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeOverrides(base *Config, override Config) {
	if override.ChunkSize != 0 {
		base.ChunkSize = override.ChunkSize
	}
	if override.DiscoveryPort != 0 {
		base.DiscoveryPort = override.DiscoveryPort
	}
	if override.BroadcastInterval != 0 {
		base.BroadcastInterval = override.BroadcastInterval
	}
	if override.DiscoveryTimeout != 0 {
		base.DiscoveryTimeout = override.DiscoveryTimeout
	}
	if override.KeepAliveInterval != 0 {
		base.KeepAliveInterval = override.KeepAliveInterval
	}
	if override.KeepAliveTimeout != 0 {
		base.KeepAliveTimeout = override.KeepAliveTimeout
	}
	if override.WatcherDebounce != 0 {
		base.WatcherDebounce = override.WatcherDebounce
	}
	if override.ParallelStreams != 0 {
		base.ParallelStreams = override.ParallelStreams
	}
	if override.DefaultConflict != "" {
		base.DefaultConflict = override.DefaultConflict
	}
	if override.TrustStorePath != "" {
		base.TrustStorePath = override.TrustStorePath
	}
	if override.IdentityPath != "" {
		base.IdentityPath = override.IdentityPath
	}
	base.SyncDeletions = override.SyncDeletions || base.SyncDeletions
}
