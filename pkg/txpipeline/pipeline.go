// Package txpipeline implements the transaction pipeline (C7): the four
// phases (withhold fee, authenticate, execute messages, finalize fee) run
// under two nested buffers, in the three modes the block orchestrator (C8)
// drives it in (§4.7).
package txpipeline

import (
	"context"
	"log"

	"github.com/certen/chaincore/pkg/buffer"
	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/gas"
	"github.com/certen/chaincore/pkg/sandbox"
)

// Mode selects how far through the four phases a Run goes, and whether its
// state changes are ever meant to be durable (§4.7).
type Mode int

const (
	// Finalize runs all four phases and is the mode used when a
	// transaction is applied inside a block.
	Finalize Mode = iota
	// Check runs only phases 1-2 (withhold fee, authenticate), for
	// mempool admission; nothing it writes is ever committed by the
	// caller.
	Check
	// Simulate runs all four phases under an unlimited virtual gas
	// credential, to estimate the gas a Finalize run would use.
	Simulate
)

// Outcome is a transaction's complete result: every phase's event (in
// order), the gas actually used, and whether the transaction as a whole
// succeeded. For a run that reaches finalize_fee, GasUsed is the gas used
// before that phase, the amount the fee is charged on.
type Outcome struct {
	Events  []*dispatch.Event
	GasUsed uint64
	Success bool
	Error   string
}

// Config gathers the construction parameters a Pipeline needs to build its
// own per-phase Dispatcher instances.
type Config struct {
	Registry       *dispatch.Registry
	Querier        sandbox.Querier
	Costs          dispatch.Costs
	GasCosts       sandbox.GasCosts
	MaxQueryDepth  int
	BlockTimeNanos int64
	Logger         *log.Logger
}

// Pipeline drives one transaction through C6's dispatcher, phase by phase,
// exactly as the block orchestrator (C8) drives the pipeline itself through
// a block's transaction list.
type Pipeline struct {
	cfg Config
	log *log.Logger
}

// New constructs a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[txpipeline] ", log.LstdFlags)
	}
	return &Pipeline{cfg: cfg, log: logger}
}

func (p *Pipeline) dispatcherOver(buf *buffer.Buffer) *dispatch.Dispatcher {
	return dispatch.New(dispatch.DispatcherConfig{
		Buf:            buf,
		Registry:       p.cfg.Registry,
		Querier:        p.cfg.Querier,
		Costs:          p.cfg.Costs,
		GasCosts:       p.cfg.GasCosts,
		MaxQueryDepth:  p.cfg.MaxQueryDepth,
		BlockTimeNanos: p.cfg.BlockTimeNanos,
	})
}

// Run processes tx against base (the block buffer, or any Buffer the
// caller wants the outer fee buffer layered over), in the given mode. The
// fee buffer's writes are committed into base whenever finalize_fee
// succeeds (Finalize/Simulate), even when phases 2-3 failed; a failed
// finalize_fee leaves base untouched. Check never commits anything, since
// it exists only to test mempool admission.
func (p *Pipeline) Run(ctx context.Context, base *buffer.Buffer, tx *dispatch.TxInfo, mode Mode) *Outcome {
	out := &Outcome{}

	meter := gas.New(tx.GasLimit)
	if mode == Simulate {
		meter = gas.New(gas.Unlimited)
	}

	feeBuf := base.NewChild()
	feeDispatcher := p.dispatcherOver(feeBuf)

	cfg, err := feeDispatcher.State().GetConfig()
	if err != nil {
		out.Error = err.Error()
		return out
	}

	// Phase 1: withhold fee, in the fee buffer.
	withholdEv, _, err := feeDispatcher.Authority(ctx, cfg.Fee, "withhold_fee", meter,
		func(m dispatch.GuestModule, env *dispatch.Env) (*dispatch.Response, error) {
			return m.WithholdFee(env, tx)
		})
	out.Events = append(out.Events, withholdEv)
	if err != nil {
		out.GasUsed = meter.Used()
		out.Error = err.Error()
		return out
	}

	// Phase 2: authenticate, in the message buffer layered over the fee
	// buffer (not yet committed anywhere).
	msgBuf := feeBuf.NewChild()
	msgDispatcher := p.dispatcherOver(msgBuf)

	authEv, authResp, authErr := msgDispatcher.Authority(ctx, tx.Sender, "authenticate", meter,
		func(m dispatch.GuestModule, env *dispatch.Env) (*dispatch.Response, error) {
			return m.Authenticate(env, tx)
		})
	out.Events = append(out.Events, authEv)

	phaseErr := authErr
	if authErr == nil {
		// authenticate succeeded: commit the message buffer's writes
		// (e.g. a nonce bump) into the fee buffer now, independent of
		// whatever phase 3 does.
		msgBuf.Commit()

		if mode != Check {
			phaseErr = p.runMessagesAndBackrun(ctx, msgDispatcher, tx, meter, authResp.Backrun, &out.Events)
			if phaseErr == nil {
				// Re-commit: this replays the message buffer's full op
				// set (authenticate's writes again, harmlessly, plus
				// every message's and backrun's writes) into the fee
				// buffer.
				msgBuf.Commit()
			}
		}
	}

	if mode == Check {
		out.GasUsed = meter.Used()
		out.Success = phaseErr == nil
		if phaseErr != nil {
			out.Error = phaseErr.Error()
		}
		return out
	}

	// Phase 4: finalize fee, in the fee buffer, regardless of how phases
	// 2-3 went — the fee contract needs to see whatever fee was withheld
	// either way, and decides the refund from the actual gas used.
	outcome := &dispatch.FeeOutcome{GasUsed: meter.Used(), Success: phaseErr == nil}
	if phaseErr != nil {
		outcome.Error = phaseErr.Error()
	}
	finalizeEv, _, finalizeErr := feeDispatcher.Authority(ctx, cfg.Fee, "finalize_fee", meter,
		func(m dispatch.GuestModule, env *dispatch.Env) (*dispatch.Response, error) {
			return m.FinalizeFee(env, tx, outcome)
		})
	out.Events = append(out.Events, finalizeEv)
	out.GasUsed = outcome.GasUsed

	if finalizeErr != nil {
		// finalize_fee is expected to always succeed; if it doesn't, the
		// whole transaction — including the withheld fee — is reverted.
		p.log.Printf("finalize_fee failed for sender %s: %v (reverting entire transaction)", tx.Sender, finalizeErr)
		out.Error = finalizeErr.Error()
		return out
	}

	if mode != Check {
		feeBuf.Commit()
	}
	out.Success = phaseErr == nil
	if phaseErr != nil {
		out.Error = phaseErr.Error()
	}
	return out
}

// runMessagesAndBackrun executes tx's message list in order through d (the
// message dispatcher), then, if requested and every message succeeded,
// invokes the sender's backrun entry point. Any failure aborts the rest of
// phase 3 and is returned so the caller can route to finalize_fee without
// committing the message buffer.
func (p *Pipeline) runMessagesAndBackrun(ctx context.Context, d *dispatch.Dispatcher, tx *dispatch.TxInfo, meter *gas.Meter, backrun bool, events *[]*dispatch.Event) error {
	for _, msg := range tx.Messages {
		ev := d.Dispatch(ctx, tx.Sender, msg, meter)
		*events = append(*events, ev)
		if ev.Status == dispatch.EventFailed {
			return dispatch.ErrMessageExecutionFailed
		}
	}
	if !backrun {
		return nil
	}
	backEv, _, err := d.Authority(ctx, tx.Sender, "backrun", meter,
		func(m dispatch.GuestModule, env *dispatch.Env) (*dispatch.Response, error) {
			return m.Backrun(env, tx)
		})
	*events = append(*events, backEv)
	return err
}
