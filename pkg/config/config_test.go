package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChunkSize != DefaultConfig().ChunkSize {
		t.Fatalf("expected default chunk size, got %d", cfg.ChunkSize)
	}
}

func TestLoadOverridesMergeWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "chunk_size: 2097152\ndefault_conflict_strategy: remote_wins\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChunkSize != 2097152 {
		t.Fatalf("expected overridden chunk size, got %d", cfg.ChunkSize)
	}
	if cfg.DefaultConflict != "remote_wins" {
		t.Fatalf("expected overridden conflict strategy, got %s", cfg.DefaultConflict)
	}
	if cfg.DiscoveryPort != DefaultConfig().DiscoveryPort {
		t.Fatalf("expected default discovery port to survive merge, got %d", cfg.DiscoveryPort)
	}
}

func TestValidateRejectsUnknownConflictStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultConflict = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown conflict strategy")
	}
}

func TestValidateRejectsKeepAliveTimeoutNotAboveInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeepAliveTimeout = cfg.KeepAliveInterval
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when timeout does not exceed interval")
	}
}
