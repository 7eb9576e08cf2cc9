package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.TickInterval() != time.Second {
		t.Errorf("TickInterval = %v, want 1s", cfg.Engine.TickInterval())
	}
	if cfg.Engine.ReconcileInterval() != 30*time.Second {
		t.Errorf("ReconcileInterval = %v, want 30s", cfg.Engine.ReconcileInterval())
	}
	if cfg.Gateway.Port != 8081 {
		t.Errorf("Gateway.Port = %d, want 8081", cfg.Gateway.Port)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("engine:\n  admin_port: 9999\n  tick_interval_sec: 2\nmongo:\n  database: auctions_test\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.AdminPort != 9999 {
		t.Errorf("AdminPort = %d, want 9999", cfg.Engine.AdminPort)
	}
	if cfg.Engine.TickInterval() != 2*time.Second {
		t.Errorf("TickInterval = %v, want 2s", cfg.Engine.TickInterval())
	}
	if cfg.Mongo.Database != "auctions_test" {
		t.Errorf("Mongo.Database = %q, want auctions_test", cfg.Mongo.Database)
	}
	// Untouched sections keep their defaults.
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS.URL = %q, want default", cfg.NATS.URL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("MONGO_DATABASE", "from_env")
	t.Setenv("ENGINE_ADMIN_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mongo.Database != "from_env" {
		t.Errorf("Mongo.Database = %q, want env override", cfg.Mongo.Database)
	}
	if cfg.Engine.AdminPort != 7070 {
		t.Errorf("AdminPort = %d, want 7070", cfg.Engine.AdminPort)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v for missing file", err)
	}
	if cfg.Engine.AdminPort != 8080 {
		t.Errorf("AdminPort = %d, want default 8080", cfg.Engine.AdminPort)
	}
}

func TestSecondsOrGuardsNonPositive(t *testing.T) {
	c := EngineConfig{TickIntervalSec: -5}
	if c.TickInterval() != time.Second {
		t.Errorf("TickInterval = %v for negative value, want 1s fallback", c.TickInterval())
	}
}
