// Package block implements the block orchestrator (C8): init_chain,
// finalize_block, commit, check_tx, info, and simulate, driving the
// transaction pipeline (C7) and the message dispatcher (C6) against the
// versioned KV store (C2) (§4.8).
package block

import (
	"context"
	"fmt"
	"log"

	"github.com/fxamacker/cbor/v2"

	"github.com/certen/chaincore/pkg/buffer"
	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/gas"
	"github.com/certen/chaincore/pkg/kvstore"
	"github.com/certen/chaincore/pkg/merkle"
	"github.com/certen/chaincore/pkg/sandbox"
	"github.com/certen/chaincore/pkg/txpipeline"
)

// Reserved raw keys for chain metadata, inside the same storage family
// every other key lives in, so they round-trip through the ordinary
// flush/commit path (and the Merkle commitment) like any other state.
var (
	blockInfoKey    = []byte("_/block_info")
	chainIDKey      = []byte("_/chain_id")
	appConfigPrefix = []byte("_/app_config/")
)

// Config gathers an Orchestrator's construction parameters.
type Config struct {
	Store         *kvstore.Store
	Registry      *dispatch.Registry
	Querier       sandbox.Querier
	Costs         dispatch.Costs
	GasCosts      sandbox.GasCosts
	MaxQueryDepth int
	SubGasBudget  uint64
	Logger        *log.Logger
}

// Orchestrator is the top-level driver every ABCI method (§4.8's mapping
// table) delegates to.
type Orchestrator struct {
	store         *kvstore.Store
	registry      *dispatch.Registry
	querier       sandbox.Querier
	costs         dispatch.Costs
	gasCosts      sandbox.GasCosts
	maxQueryDepth int
	subGasBudget  uint64
	log           *log.Logger
}

// New constructs an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[block] ", log.LstdFlags)
	}
	return &Orchestrator{
		store:         cfg.Store,
		registry:      cfg.Registry,
		querier:       cfg.Querier,
		costs:         cfg.Costs,
		gasCosts:      cfg.GasCosts,
		maxQueryDepth: cfg.MaxQueryDepth,
		subGasBudget:  cfg.SubGasBudget,
		log:           logger,
	}
}

func (o *Orchestrator) pipeline(blockTimeNanos int64) *txpipeline.Pipeline {
	return txpipeline.New(txpipeline.Config{
		Registry:       o.registry,
		Querier:        o.querier,
		Costs:          o.costs,
		GasCosts:       o.gasCosts,
		MaxQueryDepth:  o.maxQueryDepth,
		BlockTimeNanos: blockTimeNanos,
		Logger:         o.log,
	})
}

func (o *Orchestrator) dispatcherOver(buf *buffer.Buffer, blockTimeNanos int64) *dispatch.Dispatcher {
	return dispatch.New(dispatch.DispatcherConfig{
		Buf:            buf,
		Registry:       o.registry,
		Querier:        o.querier,
		Costs:          o.costs,
		GasCosts:       o.gasCosts,
		MaxQueryDepth:  o.maxQueryDepth,
		BlockTimeNanos: blockTimeNanos,
	})
}

func readBlockInfo(buf *buffer.Buffer) (*Info, error) {
	raw, err := buf.Get(blockInfoKey)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := cbor.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func writeBlockInfo(buf *buffer.Buffer, info Info) error {
	raw, err := encode(info)
	if err != nil {
		return err
	}
	buf.Set(blockInfoKey, raw)
	return nil
}

func encode(v interface{}) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(v)
}

// Info returns the last finalized block's height and app hash, satisfying
// the universal invariant that info().height == H and root_hash(H) ==
// app_hash. The app hash is recovered from the commitment tree itself (the
// stored block info cannot carry it: the root is only known after the info
// record is already part of the batch being hashed).
func (o *Orchestrator) Info(ctx context.Context) (*Info, error) {
	v, err := o.store.LatestVersion()
	if err != nil {
		return nil, err
	}
	buf := buffer.New(newStoreView(ctx, o.store, v))
	info, err := readBlockInfo(buf)
	if err == buffer.ErrNotFound {
		return &Info{}, nil
	}
	if err != nil {
		return nil, err
	}
	root, err := o.store.Tree().RootHash(ctx, v)
	if err != nil {
		return nil, err
	}
	if root != nil {
		info.AppHash = root[:]
	}
	return info, nil
}

// InitChain establishes genesis state: saves the chain's configuration,
// schedules the initial cronjob set, and runs every genesis message with
// an unlimited gas meter. Every message must succeed or the whole genesis
// aborts, leaving the store untouched (§4.8).
func (o *Orchestrator) InitChain(ctx context.Context, requestedHeight uint64, timeNanos int64, genesis Genesis) (*Info, error) {
	if requestedHeight != 0 {
		return nil, ErrGenesisHeightNotZero
	}
	if v, err := o.store.LatestVersion(); err != nil {
		return nil, err
	} else if v != 0 {
		return nil, ErrAlreadyInitialized
	}

	buf := buffer.New(newStoreView(ctx, o.store, 0))
	buf.Set(chainIDKey, []byte(genesis.ChainID))
	for name, doc := range genesis.AppConfigs {
		buf.Set(append(append([]byte{}, appConfigPrefix...), name...), doc)
	}
	state := dispatch.NewState(buf)
	if err := state.PutConfig(&genesis.Config); err != nil {
		return nil, err
	}
	for contract, interval := range genesis.Config.CronSchedule {
		state.PutCronEntry(dispatch.CronEntry{DueNanos: timeNanos + interval, Contract: contract})
	}

	d := o.dispatcherOver(buf, timeNanos)
	meter := gas.New(gas.Unlimited)
	for i, gm := range genesis.Messages {
		ev := d.Dispatch(ctx, gm.Sender, gm.Msg, meter)
		if ev.Status == dispatch.EventFailed {
			return nil, fmt.Errorf("%w: message %d (%s): %s", ErrGenesisMessageFailed, i, gm.Msg.Kind, ev.Error)
		}
	}

	info := Info{Height: 0, TimeNanos: timeNanos}
	if err := writeBlockInfo(buf, info); err != nil {
		return nil, err
	}

	ops, err := toKVOps(buf.Ops())
	if err != nil {
		return nil, err
	}
	root, err := o.store.FlushButNotCommit(ctx, ops, 0)
	if err != nil {
		return nil, err
	}
	info.AppHash = root[:]
	if err := o.store.Commit(ctx); err != nil {
		return nil, err
	}
	return &info, nil
}

// FinalizeBlock runs one block to completion: orphaned-code pruning, due
// cronjobs, every transaction through C7 in order, and persists the new
// block info last so in-block queries during this very call still observe
// the previous block (§4.8).
func (o *Orchestrator) FinalizeBlock(ctx context.Context, height uint64, timeNanos int64, txs []*dispatch.TxInfo) (*Outcome, error) {
	prevVersion, err := o.store.LatestVersion()
	if err != nil {
		return nil, err
	}

	buf := buffer.New(newStoreView(ctx, o.store, prevVersion))
	prevInfo, err := readBlockInfo(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	if height != prevInfo.Height+1 {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrHeightMismatch, height, prevInfo.Height+1)
	}

	state := dispatch.NewState(buf)
	cfg, err := state.GetConfig()
	if err != nil {
		return nil, err
	}

	cutoff := timeNanos - cfg.MaxOrphanAgeNanos
	orphaned, err := state.ScanOrphanedCodes(cutoff)
	if err != nil {
		return nil, err
	}
	for _, hash := range orphaned {
		state.DeleteCode(hash)
	}

	out := &Outcome{}
	due, err := state.DueCronEntries(timeNanos)
	if err != nil {
		return nil, err
	}
	d := o.dispatcherOver(buf, timeNanos)
	for _, entry := range due {
		state.DeleteCronEntry(entry)
		ev, _, err := d.Authority(ctx, entry.Contract, "cron_execute", gas.New(gas.Unlimited),
			func(m dispatch.GuestModule, env *dispatch.Env) (*dispatch.Response, error) {
				return m.CronExecute(env)
			})
		result := CronOutcome{Contract: entry.Contract, Event: ev}
		if err != nil {
			result.Error = err.Error()
			o.log.Printf("cron_execute failed for %s: %v", entry.Contract, err)
		}
		out.Crons = append(out.Crons, result)
		if interval, ok := cfg.CronSchedule[entry.Contract]; ok {
			state.PutCronEntry(dispatch.CronEntry{DueNanos: timeNanos + interval, Contract: entry.Contract})
		}
	}

	pipe := o.pipeline(timeNanos)
	for i, tx := range txs {
		res := pipe.Run(ctx, buf, tx, txpipeline.Finalize)
		out.Txs = append(out.Txs, TxResult{
			Index: i, Events: res.Events, GasUsed: res.GasUsed,
			Success: res.Success, Error: res.Error,
		})
	}

	newInfo := Info{Height: height, TimeNanos: timeNanos}
	if err := writeBlockInfo(buf, newInfo); err != nil {
		return nil, err
	}

	ops, err := toKVOps(buf.Ops())
	if err != nil {
		return nil, err
	}
	root, err := o.store.FlushButNotCommit(ctx, ops, height)
	if err != nil {
		return nil, err
	}
	out.AppHash = root[:]
	recordBlockMetrics(height, out)
	return out, nil
}

// Commit durably persists the batch staged by the most recent
// FlushButNotCommit call (from InitChain or FinalizeBlock).
func (o *Orchestrator) Commit(ctx context.Context) error {
	return o.store.Commit(ctx)
}

// CheckTx runs phases 1-2 of the transaction pipeline only, for mempool
// admission; nothing it does is ever persisted.
func (o *Orchestrator) CheckTx(ctx context.Context, tx *dispatch.TxInfo) (*txpipeline.Outcome, error) {
	buf, info, err := o.latestView(ctx)
	if err != nil {
		return nil, err
	}
	return o.pipeline(info.TimeNanos).Run(ctx, buf, tx, txpipeline.Check), nil
}

// Simulate runs every phase of the pipeline under a virtual unlimited
// credential, to estimate the gas a Finalize run would use. Nothing it
// does is ever persisted.
func (o *Orchestrator) Simulate(ctx context.Context, tx *dispatch.TxInfo) (*txpipeline.Outcome, error) {
	buf, info, err := o.latestView(ctx)
	if err != nil {
		return nil, err
	}
	return o.pipeline(info.TimeNanos).Run(ctx, buf, tx, txpipeline.Simulate), nil
}

// latestView builds a fresh buffer over the latest committed version,
// alongside that version's block info (zero-valued before genesis).
func (o *Orchestrator) latestView(ctx context.Context) (*buffer.Buffer, *Info, error) {
	v, err := o.store.LatestVersion()
	if err != nil {
		return nil, nil, err
	}
	buf := buffer.New(newStoreView(ctx, o.store, v))
	info, err := readBlockInfo(buf)
	if err == buffer.ErrNotFound {
		return buf, &Info{}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return buf, info, nil
}

// toKVOps translates a buffer's recorded writes/deletes into the
// (key_hash, value_hash)-annotated batch C2 needs to update its
// commitment tree in lockstep with the raw storage write.
func toKVOps(ops []buffer.Op) ([]kvstore.Op, error) {
	out := make([]kvstore.Op, len(ops))
	for i, op := range ops {
		out[i] = kvstore.Op{
			Key:       op.Key,
			Value:     op.Value,
			KeyHash:   merkle.HashBytes(op.Key),
			ValueHash: merkle.HashBytes(op.Value),
			Delete:    op.Delete,
		}
	}
	return out, nil
}
