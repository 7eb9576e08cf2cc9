// Package config loads engine and gateway settings from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by both binaries.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Gateway GatewayConfig `yaml:"gateway"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Mongo   MongoConfig   `yaml:"mongo"`
	NATS    NATSConfig    `yaml:"nats"`
}

// EngineConfig drives the timer, reconcile, and finalization loops.
type EngineConfig struct {
	AdminPort int `yaml:"admin_port"`
	// TickIntervalSec is the countdown broadcast period.
	TickIntervalSec int `yaml:"tick_interval_sec"`
	// ReconcileIntervalSec is the slow ledger sync period.
	ReconcileIntervalSec int `yaml:"reconcile_interval_sec"`
	// FinalizeIntervalSec is the expiry scan period.
	FinalizeIntervalSec int `yaml:"finalize_interval_sec"`
	// MaxConcurrentSyncs bounds parallel ledger reads so one slow handle
	// cannot serialize the rest.
	MaxConcurrentSyncs int `yaml:"max_concurrent_syncs"`
}

// GatewayConfig drives the WebSocket fan-out service.
type GatewayConfig struct {
	Port int `yaml:"port"`
}

// LedgerConfig holds the chain connection settings.
type LedgerConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	ChainID        int64  `yaml:"chain_id"`
	AdminKeyHex    string `yaml:"admin_key_hex"`
	CallTimeoutSec int    `yaml:"call_timeout_sec"`
	GasLimit       uint64 `yaml:"gas_limit"`
}

// MongoConfig holds the document store connection settings.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// NATSConfig holds the event stream connection settings.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// Default returns the single-node development configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			AdminPort:            8080,
			TickIntervalSec:      1,
			ReconcileIntervalSec: 30,
			FinalizeIntervalSec:  30,
			MaxConcurrentSyncs:   8,
		},
		Gateway: GatewayConfig{Port: 8081},
		Ledger: LedgerConfig{
			RPCURL:         "http://localhost:8545",
			ChainID:        11155111,
			CallTimeoutSec: 30,
			GasLimit:       200000,
		},
		Mongo: MongoConfig{URI: "mongodb://localhost:27017", Database: "auctichain"},
		NATS:  NATSConfig{URL: "nats://localhost:4222"},
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Ledger.RPCURL = getEnv("LEDGER_RPC_URL", c.Ledger.RPCURL)
	c.Ledger.AdminKeyHex = getEnv("LEDGER_ADMIN_KEY", c.Ledger.AdminKeyHex)
	c.Ledger.ChainID = getEnvInt64("LEDGER_CHAIN_ID", c.Ledger.ChainID)
	c.Mongo.URI = getEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = getEnv("MONGO_DATABASE", c.Mongo.Database)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Engine.AdminPort = getEnvInt("ENGINE_ADMIN_PORT", c.Engine.AdminPort)
	c.Gateway.Port = getEnvInt("GATEWAY_PORT", c.Gateway.Port)
}

// TickInterval returns the countdown period as a duration.
func (c EngineConfig) TickInterval() time.Duration {
	return secondsOr(c.TickIntervalSec, time.Second)
}

// ReconcileInterval returns the slow sync period as a duration.
func (c EngineConfig) ReconcileInterval() time.Duration {
	return secondsOr(c.ReconcileIntervalSec, 30*time.Second)
}

// FinalizeInterval returns the expiry scan period as a duration.
func (c EngineConfig) FinalizeInterval() time.Duration {
	return secondsOr(c.FinalizeIntervalSec, 30*time.Second)
}

// CallTimeout returns the per-call ledger timeout as a duration.
func (c LedgerConfig) CallTimeout() time.Duration {
	return secondsOr(c.CallTimeoutSec, 30*time.Second)
}

func secondsOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
