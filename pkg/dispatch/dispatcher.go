package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/certen/chaincore/pkg/buffer"
	"github.com/certen/chaincore/pkg/gas"
	"github.com/certen/chaincore/pkg/sandbox"
)

// Costs prices the dispatcher's own bookkeeping, distinct from the
// per-host-call costs priced inside a guest's sandbox (§4.5's table prices
// host calls; this table prices C6's own work: permission checks, address
// derivation, code/contract record updates).
type Costs struct {
	Configure   uint64
	Transfer    uint64
	Upload      uint64
	Instantiate uint64
	Execute     uint64
	Migrate     uint64
}

// DefaultCosts returns a proportionate default cost table.
func DefaultCosts() Costs {
	return Costs{
		Configure:   1_000,
		Transfer:    2_000,
		Upload:      5_000,
		Instantiate: 10_000,
		Execute:     3_000,
		Migrate:     5_000,
	}
}

// Dispatcher drives the six message kinds of §4.6 against a State view and
// a Registry of guest modules, metering every dispatch against a shared
// gas.Meter and recording a tree-shaped Event for each. Its buf is a
// buffer.Buffer (C3) scoped to exactly the writes this Dispatcher's calls
// make; a failed call is undone simply by never committing that buffer into
// its parent.
type Dispatcher struct {
	buf            *buffer.Buffer
	state          *State
	registry       *Registry
	querier        sandbox.Querier
	costs          Costs
	gasCosts       sandbox.GasCosts
	blockTimeNanos int64

	maxQueryDepth int
}

// DispatcherConfig gathers a Dispatcher's construction parameters.
type DispatcherConfig struct {
	Buf            *buffer.Buffer
	Registry       *Registry
	Querier        sandbox.Querier
	Costs          Costs
	GasCosts       sandbox.GasCosts
	MaxQueryDepth  int
	BlockTimeNanos int64
}

// New constructs a Dispatcher over cfg.Buf, the buffer (block buffer,
// transaction message buffer, or sub-call buffer) it reads and writes
// chain-level state through.
func New(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		buf:            cfg.Buf,
		state:          NewState(cfg.Buf),
		registry:       cfg.Registry,
		querier:        cfg.Querier,
		costs:          cfg.Costs,
		gasCosts:       cfg.GasCosts,
		maxQueryDepth:  cfg.MaxQueryDepth,
		blockTimeNanos: cfg.BlockTimeNanos,
	}
}

// State exposes the dispatcher's chain-level state accessor, e.g. for the
// block orchestrator (C8) to read/write Config and Code directly.
func (d *Dispatcher) State() *State { return d.state }

// child returns a Dispatcher scoped to a fresh sub-buffer of d.buf, for one
// isolated dispatch: its writes become visible to d only if committed.
func (d *Dispatcher) child() *Dispatcher {
	return New(DispatcherConfig{
		Buf:            d.buf.NewChild(),
		Registry:       d.registry,
		Querier:        d.querier,
		Costs:          d.costs,
		GasCosts:       d.gasCosts,
		MaxQueryDepth:  d.maxQueryDepth,
		BlockTimeNanos: d.blockTimeNanos,
	})
}

// Dispatch executes one message as sender, under meter, returning the event
// tree it produced. The message runs in a fresh sub-buffer of d's own
// buffer; on success that sub-buffer is committed into d, on failure it is
// simply dropped, discarding every nested write and event the failed
// dispatch produced, per §4.6.
func (d *Dispatcher) Dispatch(ctx context.Context, sender Address, msg Message, meter *gas.Meter) *Event {
	sub := d.child()
	ev, err := sub.dispatch(ctx, sender, msg, meter)
	if err != nil {
		if ev == nil {
			ev = NewEvent(msg.Kind.String())
		}
		ev.Fail(err.Error())
		return ev
	}
	sub.buf.Commit()
	return ev
}

func (d *Dispatcher) dispatch(ctx context.Context, sender Address, msg Message, meter *gas.Meter) (*Event, error) {
	switch msg.Kind {
	case KindConfigure:
		return d.configure(sender, msg, meter)
	case KindTransfer:
		return d.transfer(ctx, sender, msg, meter)
	case KindUpload:
		return d.upload(sender, msg, meter)
	case KindInstantiate:
		return d.instantiate(ctx, sender, msg, meter)
	case KindExecute:
		return d.execute(ctx, sender, msg, meter)
	case KindMigrate:
		return d.migrate(ctx, sender, msg, meter)
	default:
		return nil, ErrInvalidMessage
	}
}

func (d *Dispatcher) configure(sender Address, msg Message, meter *gas.Meter) (*Event, error) {
	ev := NewEvent("configure")
	if err := meter.Consume(d.costs.Configure, "dispatch/configure"); err != nil {
		return ev, err
	}
	cfg, err := d.state.GetConfig()
	if err != nil {
		return ev, err
	}
	if sender != cfg.Owner {
		return ev, ErrUnauthorized
	}
	scheduleChanged := msg.NewCronJobs != nil
	if msg.NewOwner != nil {
		cfg.Owner = *msg.NewOwner
		ev.WithAttr("new_owner", msg.NewOwner.String())
	}
	if msg.NewConfig != nil {
		cfg = msg.NewConfig
	}
	if scheduleChanged {
		cfg.CronSchedule = msg.NewCronJobs
	}
	if err := d.state.PutConfig(cfg); err != nil {
		return ev, err
	}
	if scheduleChanged {
		if err := d.rebuildCronSchedule(cfg); err != nil {
			return ev, err
		}
		ev.WithAttr("cron_schedule_rebuilt", "true")
	}
	return ev, nil
}

// rebuildCronSchedule re-derives the next-cronjob set from cfg's
// contract->interval mapping, firing each entry one interval from now
// (genesis/config-change semantics: the first run is one interval out).
func (d *Dispatcher) rebuildCronSchedule(cfg *Config) error {
	existing, err := d.state.AllCronEntries()
	if err != nil {
		return err
	}
	for _, e := range existing {
		d.state.DeleteCronEntry(e)
	}
	for contract, interval := range cfg.CronSchedule {
		d.state.PutCronEntry(CronEntry{DueNanos: d.blockTimeNanos + interval, Contract: contract})
	}
	return nil
}

func (d *Dispatcher) transfer(ctx context.Context, sender Address, msg Message, meter *gas.Meter) (*Event, error) {
	ev := NewEvent("transfer").WithAttr("to", msg.To.String())
	if err := meter.Consume(d.costs.Transfer, "dispatch/transfer"); err != nil {
		return ev, err
	}
	if err := d.runBankTransfer(ctx, sender, msg.From, msg.To, msg.Coins, meter, ev); err != nil {
		return ev, err
	}
	// A privileged transfer (From set, e.g. the fee contract withholding or
	// refunding gas fees) is a system-driven fund movement, not a bare
	// user-level transfer, so — like Instantiate/Execute's own implicit
	// funds movement via transferFunds — it does not invoke receive.
	if msg.From == nil {
		if err := d.runReceive(ctx, sender, msg.To, msg.Coins, meter, ev); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// runBankTransfer delegates the actual balance movement to the bank
// contract's bank_execute entry point (§4.6.2). from carries through
// unchanged: nil for an ordinary transfer (the bank sources it from
// sender), or an explicit privileged source the bank only honors from an
// authorized debitor (the fee contract's withhold_fee/finalize_fee).
func (d *Dispatcher) runBankTransfer(ctx context.Context, sender Address, from *Address, to Address, coins Coins, meter *gas.Meter, ev *Event) error {
	cfg, err := d.state.GetConfig()
	if err != nil {
		return err
	}
	contract, err := d.state.GetContract(cfg.Bank)
	if err != nil {
		return err
	}
	module, err := d.registry.Resolve(contract.CodeHash)
	if err != nil {
		return err
	}
	env := d.newEnv(cfg.Bank, sender, coins, meter, true)
	resp, err := module.BankExecute(env, Message{Kind: KindTransfer, From: from, To: to, Coins: coins})
	if err != nil {
		return err
	}
	child := NewEvent("bank_execute")
	applyAttrs(child, resp)
	ev.AddChild(child)
	return d.dispatchSubMessages(ctx, cfg.Bank, resp, meter, child)
}

// runReceive invokes the recipient's receive entry point so it may observe
// incoming funds, but only for a bare user-level transfer, not as a
// side-effect of Instantiate/Execute/Migrate's own funds movement (§4.6.2).
func (d *Dispatcher) runReceive(ctx context.Context, sender, to Address, coins Coins, meter *gas.Meter, ev *Event) error {
	contract, err := d.state.GetContract(to)
	if err != nil {
		return err
	}
	module, err := d.registry.Resolve(contract.CodeHash)
	if err != nil {
		return err
	}
	env := d.newEnv(to, sender, coins, meter, true)
	resp, err := module.Receive(env)
	if err == ErrNotImplemented {
		return nil
	}
	if err != nil {
		return err
	}
	child := NewEvent("receive")
	applyAttrs(child, resp)
	ev.AddChild(child)
	return d.dispatchSubMessages(ctx, to, resp, meter, child)
}

func (d *Dispatcher) upload(sender Address, msg Message, meter *gas.Meter) (*Event, error) {
	ev := NewEvent("upload")
	if err := meter.Consume(d.costs.Upload, "dispatch/upload"); err != nil {
		return ev, err
	}
	cfg, err := d.state.GetConfig()
	if err != nil {
		return ev, err
	}
	if !cfg.UploadPermission.Allows(sender, cfg.Owner) {
		return ev, ErrUnauthorized
	}
	hash := hashCode(msg.Code)
	ev.WithAttr("code_hash", hexAddr(hash[:]))
	if err := d.state.PutCode(hash, &CodeRecord{
		Bytecode:           msg.Code,
		Status:             CodeOrphaned,
		OrphanedSinceNanos: d.blockTimeNanos,
	}); err != nil {
		return ev, err
	}
	return ev, nil
}

func (d *Dispatcher) instantiate(ctx context.Context, sender Address, msg Message, meter *gas.Meter) (*Event, error) {
	ev := NewEvent("instantiate")
	if err := meter.Consume(d.costs.Instantiate, "dispatch/instantiate"); err != nil {
		return ev, err
	}
	cfg, err := d.state.GetConfig()
	if err != nil {
		return ev, err
	}
	if !cfg.InstantiatePermission.Allows(sender, cfg.Owner) {
		return ev, ErrUnauthorized
	}
	code, err := d.state.GetCode(msg.CodeHash)
	if err != nil {
		return ev, err
	}
	addr := DeriveAddress(sender, msg.CodeHash, msg.Salt)
	ev.WithAttr("address", addr.String())
	if exists, err := d.state.ContractExists(addr); err != nil {
		return ev, err
	} else if exists {
		return ev, ErrContractCollision
	}

	if err := d.state.PutContract(addr, &ContractRecord{
		CodeHash: msg.CodeHash,
		Admin:    msg.Admin,
		Label:    msg.Label,
	}); err != nil {
		return ev, err
	}
	code.Status = CodeInUse
	code.UsageCount++
	if err := d.state.PutCode(msg.CodeHash, code); err != nil {
		return ev, err
	}

	if err := d.transferFunds(sender, addr, msg.Coins); err != nil {
		return ev, err
	}

	module, err := d.registry.Resolve(msg.CodeHash)
	if err != nil {
		return ev, err
	}
	env := d.newEnv(addr, sender, msg.Coins, meter, true)
	resp, err := module.Instantiate(env, msg.InitMsg)
	if err != nil {
		return ev, err
	}
	applyAttrs(ev, resp)
	if err := d.dispatchSubMessages(ctx, addr, resp, meter, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

func (d *Dispatcher) execute(ctx context.Context, sender Address, msg Message, meter *gas.Meter) (*Event, error) {
	ev := NewEvent("execute").WithAttr("contract", msg.Contract.String())
	if err := meter.Consume(d.costs.Execute, "dispatch/execute"); err != nil {
		return ev, err
	}
	if err := d.transferFunds(sender, msg.Contract, msg.Coins); err != nil {
		return ev, err
	}
	contract, err := d.state.GetContract(msg.Contract)
	if err != nil {
		return ev, err
	}
	module, err := d.registry.Resolve(contract.CodeHash)
	if err != nil {
		return ev, err
	}
	env := d.newEnv(msg.Contract, sender, msg.Coins, meter, true)
	resp, err := module.Execute(env, msg.Msg)
	if err != nil {
		return ev, err
	}
	applyAttrs(ev, resp)
	if err := d.dispatchSubMessages(ctx, msg.Contract, resp, meter, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

func (d *Dispatcher) migrate(ctx context.Context, sender Address, msg Message, meter *gas.Meter) (*Event, error) {
	ev := NewEvent("migrate").WithAttr("contract", msg.Contract.String())
	if err := meter.Consume(d.costs.Migrate, "dispatch/migrate"); err != nil {
		return ev, err
	}
	contract, err := d.state.GetContract(msg.Contract)
	if err != nil {
		return ev, err
	}
	if contract.Admin == nil || *contract.Admin != sender {
		return ev, ErrUnauthorized
	}
	oldHash := contract.CodeHash
	newCode, err := d.state.GetCode(msg.NewCodeHash)
	if err != nil {
		return ev, err
	}
	oldCode, err := d.state.GetCode(oldHash)
	if err != nil {
		return ev, err
	}

	oldCode.UsageCount--
	if oldCode.UsageCount == 0 {
		oldCode.Status = CodeOrphaned
		oldCode.OrphanedSinceNanos = d.blockTimeNanos
	}
	if err := d.state.PutCode(oldHash, oldCode); err != nil {
		return ev, err
	}
	newCode.Status = CodeInUse
	newCode.UsageCount++
	if err := d.state.PutCode(msg.NewCodeHash, newCode); err != nil {
		return ev, err
	}

	contract.CodeHash = msg.NewCodeHash
	if err := d.state.PutContract(msg.Contract, contract); err != nil {
		return ev, err
	}

	module, err := d.registry.Resolve(msg.NewCodeHash)
	if err != nil {
		return ev, err
	}
	env := d.newEnv(msg.Contract, sender, nil, meter, true)
	resp, err := module.Migrate(env, msg.Msg)
	if err != nil {
		return ev, err
	}
	applyAttrs(ev, resp)
	if err := d.dispatchSubMessages(ctx, msg.Contract, resp, meter, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// transferFunds delegates to the bank contract without invoking receive,
// for the implicit funds movement bundled into Instantiate/Execute.
func (d *Dispatcher) transferFunds(sender, to Address, coins Coins) error {
	if coins.IsZero() {
		return nil
	}
	cfg, err := d.state.GetConfig()
	if err != nil {
		return err
	}
	contract, err := d.state.GetContract(cfg.Bank)
	if err != nil {
		return err
	}
	module, err := d.registry.Resolve(contract.CodeHash)
	if err != nil {
		return err
	}
	env := d.newEnv(cfg.Bank, sender, coins, gas.New(gas.Unlimited), true)
	_, err = module.BankExecute(env, Message{Kind: KindTransfer, To: to, Coins: coins})
	return err
}

// dispatchSubMessages recursively dispatches every sub-message a guest
// response requested, nesting their events under parent (§4.6's "nested
// sub-messages"). Each sub-message carries its own reply policy: when the
// policy matches the outcome, the issuing guest's reply entry point is
// invoked with the result, and a failure the policy catches (OnError,
// Always) does not abort the parent — the failed sub-message's writes are
// already discarded by its own buffer, and execution continues with the
// reply's continuation.
func (d *Dispatcher) dispatchSubMessages(ctx context.Context, self Address, resp *Response, meter *gas.Meter, parent *Event) error {
	if resp == nil {
		return nil
	}
	for _, sub := range resp.SubMessages {
		child := d.Dispatch(ctx, self, sub.Msg, meter)
		parent.AddChild(child)
		failed := child.Status == EventFailed

		wantReply := sub.ReplyOn == ReplyAlways ||
			(failed && sub.ReplyOn == ReplyOnError) ||
			(!failed && sub.ReplyOn == ReplyOnSuccess)
		if wantReply {
			result := &SubMsgResult{Success: !failed, Error: child.Error, Event: child}
			replyEv, _, err := d.Authority(ctx, self, "reply", meter,
				func(m GuestModule, env *Env) (*Response, error) {
					return m.Reply(env, sub.Payload, result)
				})
			replyEv.WithAttr("reply_on", sub.ReplyOn.String())
			parent.AddChild(replyEv)
			if err != nil {
				return err
			}
			continue
		}
		if failed {
			return errFromEvent(child)
		}
	}
	return nil
}

func (d *Dispatcher) newEnv(self, sender Address, funds Coins, meter *gas.Meter, mutable bool) *Env {
	sb := sandbox.New(sandbox.Config{
		Store:         d.buf,
		Namespace:     self[:],
		Querier:       d.querier,
		Meter:         meter,
		Costs:         d.gasCosts,
		Mutable:       mutable,
		MaxQueryDepth: d.maxQueryDepth,
	})
	return &Env{Sandbox: sb, Self: self, Sender: sender, Funds: funds}
}

func applyAttrs(ev *Event, resp *Response) {
	if resp == nil {
		return
	}
	for k, v := range resp.Attrs {
		ev.WithAttr(k, v)
	}
}

func errFromEvent(ev *Event) error { return dispatchSubFailure{ev} }

type dispatchSubFailure struct{ ev *Event }

func (e dispatchSubFailure) Error() string { return "dispatch: sub-message failed: " + e.ev.Error }

// hashCode computes the content-addressed code hash of an uploaded blob.
func hashCode(code []byte) [32]byte { return sha256.Sum256(code) }

func hexAddr(b []byte) string { return hex.EncodeToString(b) }
