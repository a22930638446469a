// Copyright 2025 Certen Protocol
//
// chaind is the node binary for the core execution engine: it wires
// configuration, the versioned KV store, the message dispatcher and its
// native guest contracts, the query router, and the ABCI application into a
// running CometBFT node.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	dbm "github.com/cometbft/cometbft-db"
	cmtcfg "github.com/cometbft/cometbft/config"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"

	"github.com/certen/chaincore/pkg/block"
	"github.com/certen/chaincore/pkg/config"
	"github.com/certen/chaincore/pkg/consensus"
	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/guest"
	"github.com/certen/chaincore/pkg/indexer"
	"github.com/certen/chaincore/pkg/kvdb"
	"github.com/certen/chaincore/pkg/kvstore"
	"github.com/certen/chaincore/pkg/query"
	"github.com/certen/chaincore/pkg/sandbox"
)

// Native code hashes bound at startup so genesis (and later instantiate)
// messages can reference the bundled bank/fee contracts without an
// accompanying "upload" message.
var (
	nativeBankCodeHash = sha256.Sum256([]byte("certen/native/bank"))
	nativeFeeCodeHash  = sha256.Sum256([]byte("certen/native/fee"))
)

func main() {
	home := flag.String("home", "./data", "node data and CometBFT config directory")
	appConfigPath := flag.String("app-config", "", "path to the chain's AppConfig YAML (gas costs, pruning, consensus timing); defaults applied if empty")
	flag.Parse()

	if err := run(*home, *appConfigPath); err != nil {
		log.Fatalf("chaind: %v", err)
	}
}

func run(home, appConfigPath string) error {
	nodeCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load node config: %w", err)
	}
	if home != "" {
		nodeCfg.DataDir = home
	}
	if err := nodeCfg.Validate(); err != nil {
		return fmt.Errorf("validate node config: %w", err)
	}

	var appCfg config.AppConfig
	if appConfigPath != "" {
		loaded, err := config.LoadAppConfig(appConfigPath)
		if err != nil {
			return fmt.Errorf("load app config: %w", err)
		}
		appCfg = *loaded
	} else {
		appCfg = config.AppConfig{}
	}

	store, err := kvdb.Open(nodeCfg.DBBackend, filepath.Join(nodeCfg.DataDir, "state"), kvstore.Archival)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}

	registry := dispatch.NewRegistry()
	registry.Register(nativeBankCodeHash, guest.NewBank())
	registry.Register(nativeFeeCodeHash, guest.NewFee())

	costs := dispatch.DefaultCosts()
	gasCosts := sandbox.DefaultGasCosts()
	maxQueryDepth := 10
	subGasBudget := uint64(1_000_000)
	if appConfigPath != "" {
		costs = appCfg.Costs()
		gasCosts = appCfg.GasCosts()
		maxQueryDepth = appCfg.Query.MaxDepth
		subGasBudget = appCfg.Query.SubGasBudget
	}

	liveRouter := query.NewLive(store, registry, costs, gasCosts, maxQueryDepth, subGasBudget)

	orchestrator := block.New(block.Config{
		Store:         store,
		Registry:      registry,
		Querier:       liveRouter,
		Costs:         costs,
		GasCosts:      gasCosts,
		MaxQueryDepth: maxQueryDepth,
		SubGasBudget:  subGasBudget,
		Logger:        log.New(os.Stdout, "[block] ", log.LstdFlags),
	})

	var idx *indexer.Indexer
	if nodeCfg.IndexerDatabaseURL != "" {
		client, err := indexer.NewClient(nodeCfg.IndexerDatabaseURL, 10, 2)
		if err != nil {
			if nodeCfg.IndexerRequired {
				return fmt.Errorf("connect indexer database: %w", err)
			}
			log.Printf("chaind: indexer disabled, connection failed: %v", err)
		} else {
			if err := client.MigrateUp(context.Background()); err != nil {
				return fmt.Errorf("migrate indexer database: %w", err)
			}
			idx = indexer.New(client)
		}
	}

	cometCfg := cmtcfg.DefaultConfig()
	cometCfg.SetRoot(nodeCfg.DataDir)
	cometCfg.Moniker = nodeCfg.ChainID
	cometCfg.P2P.ListenAddress = nodeCfg.P2PListenAddr
	cometCfg.RPC.ListenAddress = nodeCfg.RPCListenAddr
	cometCfg.DBBackend = nodeCfg.DBBackend
	cometCfg.Instrumentation.Prometheus = true
	cometCfg.Instrumentation.PrometheusListenAddr = nodeCfg.MetricsAddr
	if appConfigPath != "" {
		cometCfg.Consensus.TimeoutPropose = appCfg.CometBFT.TimeoutPropose.Duration()
		cometCfg.Consensus.TimeoutPrevote = appCfg.CometBFT.TimeoutPrevote.Duration()
		cometCfg.Consensus.TimeoutPrecommit = appCfg.CometBFT.TimeoutPrecommit.Duration()
		cometCfg.Consensus.TimeoutCommit = appCfg.CometBFT.TimeoutCommit.Duration()
	}

	app := consensus.NewValidatorApp(orchestrator, liveRouter, idx, nodeCfg.ChainID)

	n, err := startNode(cometCfg, app)
	if err != nil {
		return fmt.Errorf("start cometbft node: %w", err)
	}
	defer n.Stop()

	<-make(chan struct{})
	return nil
}

// startNode constructs and starts the in-process CometBFT node over app,
// the same way the consensus engine used to (privval + node key loaded
// from the standard CometBFT on-disk locations under cfg.RootDir).
func startNode(cometCfg *cmtcfg.Config, app *consensus.ValidatorApp) (*node.Node, error) {
	dbProvider := cmtcfg.DBProvider(func(ctx *cmtcfg.DBContext) (dbm.DB, error) {
		return dbm.NewDB(ctx.ID, dbm.BackendType(cometCfg.DBBackend), filepath.Join(cometCfg.RootDir, "data"))
	})

	pv := privval.LoadFilePV(cometCfg.PrivValidatorKeyFile(), cometCfg.PrivValidatorStateFile())
	nodeKey, err := p2p.LoadNodeKey(cometCfg.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("load node key: %w", err)
	}

	tmLogger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)).With("module", "cometbft")

	n, err := node.NewNode(
		cometCfg,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(app),
		node.DefaultGenesisDocProviderFunc(cometCfg),
		dbProvider,
		node.DefaultMetricsProvider(cometCfg.Instrumentation),
		tmLogger,
	)
	if err != nil {
		return nil, err
	}
	if err := n.Start(); err != nil {
		return nil, err
	}
	return n, nil
}
