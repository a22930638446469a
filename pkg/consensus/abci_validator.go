// Copyright 2025 Certen Protocol
//
// Production ABCI Application for the core execution engine's CometBFT
// chain. Delegates every height-changing call to the block orchestrator
// (pkg/block) and every read to the query router (pkg/query); this file
// owns only the ABCI wire shape (request/response marshaling, logging).

package consensus

import (
	"context"
	"fmt"
	"log"
	"sync"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/fxamacker/cbor/v2"

	"github.com/certen/chaincore/pkg/block"
	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/indexer"
	"github.com/certen/chaincore/pkg/sandbox"
)

// retainWindow is how many recent blocks CometBFT is told to keep around;
// below that height's data may be pruned.
const retainWindow = 100

// ValidatorApp implements the ABCI Application interface for the chain's
// consensus node.
type ValidatorApp struct {
	logger       *log.Logger
	orchestrator *block.Orchestrator
	router       sandbox.Querier
	indexer      *indexer.Indexer
	chainID      string
	mu           sync.RWMutex
}

// NewValidatorApp constructs an ABCI application wired to orchestrator (C8)
// and a query router (C9, any sandbox.Querier — ordinarily a
// query.LiveRouter bound to the same store). The orchestrator's own
// kvstore.Store is the sole source of truth for height/app-hash recovery
// after restart — this struct keeps no app-level state of its own. idx may
// be nil, in which case indexing is skipped entirely.
func NewValidatorApp(orchestrator *block.Orchestrator, router sandbox.Querier, idx *indexer.Indexer, chainID string) *ValidatorApp {
	return &ValidatorApp{
		logger:       log.New(log.Writer(), "[ValidatorApp] ", log.LstdFlags),
		orchestrator: orchestrator,
		router:       router,
		indexer:      idx,
		chainID:      chainID,
	}
}

// GetChainID returns the chain ID this application was constructed with.
func (app *ValidatorApp) GetChainID() string { return app.chainID }

func decodeTx(raw []byte) (*dispatch.TxInfo, error) {
	var tx dispatch.TxInfo
	if err := cbor.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("invalid transaction encoding: %w", err)
	}
	return &tx, nil
}

func encode(v interface{}) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(v)
}

// Info reports the last finalized height and app hash, read straight from
// the orchestrator's store so CometBFT can detect and recover from a
// restart without any in-memory bookkeeping of our own.
func (app *ValidatorApp) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	info, err := app.orchestrator.Info(ctx)
	if err != nil {
		return nil, err
	}
	app.logger.Printf("Info() called - height=%d appHash=%x", info.Height, info.AppHash)
	return &abcitypes.ResponseInfo{
		Data:             "Certen Core Execution Engine",
		Version:          "1.0.0",
		AppVersion:       1,
		LastBlockHeight:  int64(info.Height),
		LastBlockAppHash: info.AppHash,
	}, nil
}

// CheckTx admits or rejects a transaction for the mempool by running phases
// 1-2 of the transaction pipeline (C7) against the latest committed state;
// nothing it does is ever persisted.
func (app *ValidatorApp) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	tx, err := decodeTx(req.Tx)
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
	}

	out, err := app.orchestrator.CheckTx(ctx, tx)
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 2, Log: err.Error()}, nil
	}
	if !out.Success {
		return &abcitypes.ResponseCheckTx{Code: 3, GasUsed: int64(out.GasUsed), Log: out.Error}, nil
	}
	app.logger.Printf("CheckTx: admitted tx from %s (gas used %d)", tx.Sender, out.GasUsed)
	return &abcitypes.ResponseCheckTx{
		Code:      0,
		GasWanted: int64(tx.GasLimit),
		GasUsed:   int64(out.GasUsed),
		Log:       "accepted",
	}, nil
}

// FinalizeBlock runs the whole block through the orchestrator: orphan
// pruning, due cronjobs, then every transaction through the pipeline in
// order, returning the new app hash.
func (app *ValidatorApp) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	txs := make([]*dispatch.TxInfo, len(req.Txs))
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, raw := range req.Txs {
		tx, err := decodeTx(raw)
		if err != nil {
			txs[i] = &dispatch.TxInfo{}
			txResults[i] = &abcitypes.ExecTxResult{Code: 1, Log: err.Error()}
			continue
		}
		txs[i] = tx
	}

	out, err := app.orchestrator.FinalizeBlock(ctx, uint64(req.Height), req.Time.UnixNano(), txs)
	if err != nil {
		return nil, fmt.Errorf("finalize_block height %d: %w", req.Height, err)
	}

	for _, txr := range out.Txs {
		code := uint32(0)
		log := ""
		if !txr.Success {
			code = 1
			log = txr.Error
		}
		txResults[txr.Index] = &abcitypes.ExecTxResult{
			Code:    code,
			GasUsed: int64(txr.GasUsed),
			Log:     log,
			Events:  eventsToABCI(txr.Events),
		}
	}

	for _, cr := range out.Crons {
		if cr.Error != "" {
			app.logger.Printf("cron_execute failed for %s: %s", cr.Contract, cr.Error)
		}
	}

	app.logger.Printf("FinalizeBlock: height=%d txs=%d crons=%d appHash=%x",
		req.Height, len(req.Txs), len(out.Crons), out.AppHash)

	senders := make([]dispatch.Address, len(txs))
	for i, tx := range txs {
		senders[i] = tx.Sender
	}
	app.indexer.RecordBlock(ctx, uint64(req.Height), req.Time.UnixNano(), out, senders)

	return &abcitypes.ResponseFinalizeBlock{
		TxResults: txResults,
		AppHash:   out.AppHash,
	}, nil
}

// Commit durably persists the batch FinalizeBlock staged.
func (app *ValidatorApp) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if err := app.orchestrator.Commit(ctx); err != nil {
		return nil, err
	}
	info, err := app.orchestrator.Info(ctx)
	if err != nil {
		return nil, err
	}

	var retainHeight int64
	if info.Height > retainWindow {
		retainHeight = int64(info.Height) - retainWindow
	}
	app.logger.Printf("Committed height=%d appHash=%x", info.Height, info.AppHash)
	return &abcitypes.ResponseCommit{RetainHeight: retainHeight}, nil
}

// Query answers a read-only request, switching on req.Path:
//
//   - "/store" reads one raw key (req.Data) at req.Height (0 = latest),
//     with a membership or non-membership proof when req.Prove is set;
//   - "/simulate" runs a transaction through every pipeline phase under an
//     unlimited gas meter to estimate the cost a Finalize run would incur,
//     without persisting anything — only at the latest height and never
//     with a proof;
//   - every other path forwards req.Data (a CBOR-encoded query.Request) to
//     the query router (C9) at recursion depth 0. Smart queries cannot be
//     Merkle-proved, so req.Prove must be false here too.
func (app *ValidatorApp) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	switch req.Path {
	case "/store":
		res, err := app.orchestrator.QueryStore(ctx, req.Data, uint64(req.Height), req.Prove)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		value, err := encode(res)
		if err != nil {
			return nil, err
		}
		return &abcitypes.ResponseQuery{Code: 0, Key: req.Data, Value: value, Height: req.Height}, nil

	case "/simulate":
		if req.Prove {
			return &abcitypes.ResponseQuery{Code: 1, Log: "simulate results cannot be proved"}, nil
		}
		if err := app.requireLatest(ctx, req.Height); err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		tx, err := decodeTx(req.Data)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		out, err := app.orchestrator.Simulate(ctx, tx)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		value, err := encode(out)
		if err != nil {
			return nil, err
		}
		return &abcitypes.ResponseQuery{Code: 0, Value: value, Height: req.Height}, nil

	default:
		if req.Prove {
			return &abcitypes.ResponseQuery{Code: 1, Log: "smart queries cannot be Merkle-proved"}, nil
		}
		value, err := app.router.Query(ctx, req.Data, 0)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		return &abcitypes.ResponseQuery{Code: 0, Value: value, Height: req.Height}, nil
	}
}

// requireLatest rejects a height that names anything other than the latest
// finalized block (0 is accepted as shorthand for latest).
func (app *ValidatorApp) requireLatest(ctx context.Context, height int64) error {
	if height == 0 {
		return nil
	}
	info, err := app.orchestrator.Info(ctx)
	if err != nil {
		return err
	}
	if uint64(height) != info.Height {
		return fmt.Errorf("simulate only runs at the latest height %d, got %d", info.Height, height)
	}
	return nil
}

// InitChain decodes the genesis document out of AppStateBytes and hands it
// to the orchestrator.
func (app *ValidatorApp) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	app.logger.Printf("InitChain: chain=%s", req.ChainId)

	doc, err := parseGenesisDoc(req.AppStateBytes)
	if err != nil {
		return nil, err
	}
	genesis, err := doc.toGenesis(req.ChainId)
	if err != nil {
		return nil, err
	}

	info, err := app.orchestrator.InitChain(ctx, 0, req.Time.UnixNano(), genesis)
	if err != nil {
		return nil, fmt.Errorf("init_chain: %w", err)
	}
	app.logger.Printf("InitChain complete: appHash=%x", info.AppHash)
	return &abcitypes.ResponseInitChain{AppHash: info.AppHash}, nil
}

// eventsToABCI renders a transaction's top-level dispatch events as ABCI
// events for indexing; nested child events remain part of the event's own
// commitment digest (§4.6) but are not separately surfaced here.
func eventsToABCI(events []*dispatch.Event) []abcitypes.Event {
	out := make([]abcitypes.Event, 0, len(events))
	for _, ev := range events {
		attrs := make([]abcitypes.EventAttribute, 0, len(ev.Attrs))
		for k, v := range ev.Attrs {
			attrs = append(attrs, abcitypes.EventAttribute{Key: k, Value: v})
		}
		out = append(out, abcitypes.Event{Type: ev.Type, Attributes: attrs})
	}
	return out
}

// PrepareProposal accepts the mempool's transaction order unchanged.
func (app *ValidatorApp) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	return &abcitypes.ResponsePrepareProposal{Txs: req.Txs}, nil
}

// ProcessProposal rejects a proposal outright if any of its transactions
// fail to decode; actual execution is deferred to FinalizeBlock.
func (app *ValidatorApp) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	for _, raw := range req.Txs {
		if _, err := decodeTx(raw); err != nil {
			return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
		}
	}
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// ExtendVote is unused by this chain: no vote extension data is produced.
func (app *ValidatorApp) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

// VerifyVoteExtension accepts every vote extension, since none is produced.
func (app *ValidatorApp) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

// ListSnapshots, OfferSnapshot, LoadSnapshotChunk, ApplySnapshotChunk: state
// sync snapshotting is not implemented; every node replays from genesis.
func (app *ValidatorApp) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (app *ValidatorApp) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ABORT}, nil
}

func (app *ValidatorApp) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (app *ValidatorApp) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
}
