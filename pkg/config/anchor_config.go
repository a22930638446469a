// Copyright 2025 Certen Protocol
//
// App Configuration Loader
//
// This file provides configuration loading for the chain's AppConfig
// document from YAML files with environment variable substitution.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/sandbox"
)

// ==============================================================================
// App Configuration Structures
// ==============================================================================

// AppConfig holds the per-chain configuration that is the same for every
// node in the network: gas cost tables, query limits, pruning policy, and
// the CometBFT consensus timing parameters. Unlike NodeConfig (config.go),
// this is meant to be checked into the chain's genesis bundle and loaded
// identically by every validator.
type AppConfig struct {
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	Gas       GasLimitSettings          `yaml:"gas"`
	HostCosts HostCostSettings          `yaml:"host_costs"`
	Query     QuerySettings             `yaml:"query"`
	Pruning   PruningSettings           `yaml:"pruning"`
	Indexer   IndexerSettings           `yaml:"indexer"`
	CometBFT  CometBFTConsensusSettings `yaml:"cometbft"`
}

// GasLimitSettings bounds the dispatcher's own bookkeeping costs (§4.6),
// distinct from the per-host-call prices in HostCostSettings.
type GasLimitSettings struct {
	Configure   uint64 `yaml:"configure"`
	Transfer    uint64 `yaml:"transfer"`
	Upload      uint64 `yaml:"upload"`
	Instantiate uint64 `yaml:"instantiate"`
	Execute     uint64 `yaml:"execute"`
	Migrate     uint64 `yaml:"migrate"`
}

func (g GasLimitSettings) toCosts() dispatch.Costs {
	d := dispatch.DefaultCosts()
	if g.Configure != 0 {
		d.Configure = g.Configure
	}
	if g.Transfer != 0 {
		d.Transfer = g.Transfer
	}
	if g.Upload != 0 {
		d.Upload = g.Upload
	}
	if g.Instantiate != 0 {
		d.Instantiate = g.Instantiate
	}
	if g.Execute != 0 {
		d.Execute = g.Execute
	}
	if g.Migrate != 0 {
		d.Migrate = g.Migrate
	}
	return d
}

// HostCostSettings lets an operator override individual entries of the
// sandbox host-call cost table (pkg/sandbox.GasCosts) without having to
// respecify the whole table; zero fields fall back to the defaults.
type HostCostSettings struct {
	DBReadFlat     uint64 `yaml:"db_read_flat"`
	DBReadPerByte  uint64 `yaml:"db_read_per_byte"`
	DBWriteFlat    uint64 `yaml:"db_write_flat"`
	DBWritePerByte uint64 `yaml:"db_write_per_byte"`
	DBRemove       uint64 `yaml:"db_remove"`
	QueryChain     uint64 `yaml:"query_chain"`
}

func (h HostCostSettings) toGasCosts() sandbox.GasCosts {
	g := sandbox.DefaultGasCosts()
	if h.DBReadFlat != 0 {
		g.DBRead.Flat = h.DBReadFlat
	}
	if h.DBReadPerByte != 0 {
		g.DBRead.PerByte = h.DBReadPerByte
	}
	if h.DBWriteFlat != 0 {
		g.DBWrite.Flat = h.DBWriteFlat
	}
	if h.DBWritePerByte != 0 {
		g.DBWrite.PerByte = h.DBWritePerByte
	}
	if h.DBRemove != 0 {
		g.DBRemove = h.DBRemove
	}
	if h.QueryChain != 0 {
		g.QueryChain = h.QueryChain
	}
	return g
}

// QuerySettings bounds the query router (C9).
type QuerySettings struct {
	MaxDepth     int    `yaml:"max_depth"`
	SubGasBudget uint64 `yaml:"sub_gas_budget"`
}

// PruningSettings holds code-orphan age and block-retention values. They
// are parsed and defaulted here but read nowhere else: the orphan-code age
// comes from the genesis chain config, and the retention window CometBFT
// is given is a constant in pkg/consensus.
type PruningSettings struct {
	MaxOrphanAge Duration `yaml:"max_orphan_age"`
	RetainBlocks int64    `yaml:"retain_blocks"`
}

// IndexerSettings holds settings for the off-chain write-through sink
// (pkg/indexer). They are parsed and defaulted here but read nowhere else:
// the indexer is enabled by INDEXER_DATABASE_URL and writes each block
// synchronously, with no flush interval or batch size.
type IndexerSettings struct {
	Enabled       bool     `yaml:"enabled"`
	FlushInterval Duration `yaml:"flush_interval"`
	MaxBatchSize  int      `yaml:"max_batch_size"`
}

// CometBFTConsensusSettings contains consensus timing configuration fed
// into the CometBFT node's own config.Config.Consensus at startup.
type CometBFTConsensusSettings struct {
	TimeoutPropose   Duration `yaml:"timeout_propose"`
	TimeoutPrevote   Duration `yaml:"timeout_prevote"`
	TimeoutPrecommit Duration `yaml:"timeout_precommit"`
	TimeoutCommit    Duration `yaml:"timeout_commit"`
}

// ==============================================================================
// Duration Type for YAML Parsing
// ==============================================================================

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ==============================================================================
// Configuration Loading
// ==============================================================================

// LoadAppConfig loads the chain's AppConfig from a YAML file.
// Environment variables in the format ${VAR_NAME} are substituted.
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults sets default values for unset fields.
func (c *AppConfig) applyDefaults() {
	if c.Query.MaxDepth == 0 {
		c.Query.MaxDepth = 10
	}
	if c.Query.SubGasBudget == 0 {
		c.Query.SubGasBudget = 1_000_000
	}
	if c.Pruning.MaxOrphanAge == 0 {
		c.Pruning.MaxOrphanAge = Duration(7 * 24 * time.Hour)
	}
	if c.Pruning.RetainBlocks == 0 {
		c.Pruning.RetainBlocks = 100
	}
	if c.Indexer.FlushInterval == 0 {
		c.Indexer.FlushInterval = Duration(5 * time.Second)
	}
	if c.Indexer.MaxBatchSize == 0 {
		c.Indexer.MaxBatchSize = 500
	}
	if c.CometBFT.TimeoutPropose == 0 {
		c.CometBFT.TimeoutPropose = Duration(3 * time.Second)
	}
	if c.CometBFT.TimeoutPrevote == 0 {
		c.CometBFT.TimeoutPrevote = Duration(1 * time.Second)
	}
	if c.CometBFT.TimeoutPrecommit == 0 {
		c.CometBFT.TimeoutPrecommit = Duration(1 * time.Second)
	}
	if c.CometBFT.TimeoutCommit == 0 {
		c.CometBFT.TimeoutCommit = Duration(5 * time.Second)
	}
}

// Costs returns the dispatcher cost table described by this AppConfig.
func (c *AppConfig) Costs() dispatch.Costs {
	return c.Gas.toCosts()
}

// GasCosts returns the sandbox host-call cost table described by this
// AppConfig.
func (c *AppConfig) GasCosts() sandbox.GasCosts {
	return c.HostCosts.toGasCosts()
}

// ==============================================================================
// Environment Variable Substitution
// ==============================================================================

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
