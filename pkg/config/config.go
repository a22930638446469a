// Copyright 2025 Certen Protocol
//
// Node Configuration
// Environment-variable configuration for the chain node: everything that
// varies per deployment (data directory, listen addresses, chain identity)
// rather than per-chain (gas costs, genesis accounts), which lives in the
// YAML AppConfig (anchor_config.go).

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// NodeConfig holds the per-deployment configuration for a chain node.
type NodeConfig struct {
	// Chain identity
	ChainID string
	DataDir string

	// CometBFT network configuration
	P2PListenAddr string
	RPCListenAddr string
	MetricsAddr   string

	// KV store backend (pkg/kvdb): "goleveldb" or "memdb"
	DBBackend string

	// Indexer (pkg/indexer) off-chain write-through sink
	IndexerDatabaseURL string
	IndexerRequired    bool

	LogLevel string
}

// Load reads NodeConfig from environment variables. Every field has a safe
// development default except IndexerDatabaseURL, which is required only
// when IndexerRequired is set.
func Load() (*NodeConfig, error) {
	cfg := &NodeConfig{
		ChainID: getEnv("CHAIN_ID", "chaincore-devnet"),
		DataDir: getEnv("DATA_DIR", "./data"),

		P2PListenAddr: getEnv("P2P_LISTEN_ADDR", "tcp://0.0.0.0:26656"),
		RPCListenAddr: getEnv("RPC_LISTEN_ADDR", "tcp://0.0.0.0:26657"),
		MetricsAddr:   getEnv("METRICS_LISTEN_ADDR", "0.0.0.0:9090"),

		DBBackend: getEnv("DB_BACKEND", "goleveldb"),

		IndexerDatabaseURL: getEnv("INDEXER_DATABASE_URL", ""),
		IndexerRequired:    getEnvBool("INDEXER_REQUIRED", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate checks that required fields are present given how the node is
// configured to run.
func (c *NodeConfig) Validate() error {
	var errs []string
	if c.ChainID == "" {
		errs = append(errs, "CHAIN_ID is required but not set")
	}
	if c.DataDir == "" {
		errs = append(errs, "DATA_DIR is required but not set")
	}
	if c.IndexerRequired && c.IndexerDatabaseURL == "" {
		errs = append(errs, "INDEXER_DATABASE_URL is required when INDEXER_REQUIRED=true")
	}
	switch c.DBBackend {
	case "goleveldb", "memdb":
	default:
		errs = append(errs, fmt.Sprintf("DB_BACKEND %q is not one of goleveldb, memdb", c.DBBackend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
