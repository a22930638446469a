package dispatch

import (
	"errors"

	"github.com/certen/chaincore/pkg/sandbox"
)

// Env is the per-invocation context passed to a guest entry point: the
// sandbox (C5) it may call back into, and the addresses/funds framing the
// call.
type Env struct {
	Sandbox *sandbox.Sandbox
	Self    Address
	Sender  Address
	Funds   Coins
}

// Response is what a guest entry point hands back to the dispatcher: event
// attributes to record, further messages to dispatch as nested
// sub-messages, an opaque return payload, and (authenticate only) whether
// the pipeline should back-run after message execution.
type Response struct {
	Attrs       map[string]string
	SubMessages []SubMessage
	Data        []byte
	Backrun     bool
}

// ReplyOn is a sub-message's reply policy: whether the issuing guest's
// reply entry point is called back after the sub-message completes (§6).
type ReplyOn int

const (
	// ReplyNever requests no callback; a sub-message failure aborts the
	// parent, exactly as if the parent had failed itself.
	ReplyNever ReplyOn = iota
	// ReplyOnSuccess calls reply only when the sub-message succeeded; a
	// failure still aborts the parent.
	ReplyOnSuccess
	// ReplyOnError calls reply only when the sub-message failed, giving
	// the guest the chance to catch the error instead of aborting.
	ReplyOnError
	// ReplyAlways calls reply with either outcome.
	ReplyAlways
)

func (r ReplyOn) String() string {
	switch r {
	case ReplyOnSuccess:
		return "on_success"
	case ReplyOnError:
		return "on_error"
	case ReplyAlways:
		return "always"
	default:
		return "never"
	}
}

// SubMessage is one message a guest response asks the dispatcher to run
// next, with the reply policy governing the callback and an opaque payload
// handed back verbatim to the guest's reply entry point so it can correlate
// the callback with whatever it was doing when it issued the sub-message.
type SubMessage struct {
	Msg     Message
	ReplyOn ReplyOn
	Payload []byte
}

// SubMsgResult tells a reply entry point how its sub-message fared: the
// recorded event tree on success, or the failure event and error message
// when it was rolled back.
type SubMsgResult struct {
	Success bool
	Error   string
	Event   *Event
}

// TxInfo is the subset of a transaction pipeline's (C7) transaction state a
// guest's authenticate/withhold_fee/finalize_fee/backrun entry points need
// to see. Defined here (not in the transaction-pipeline package) so C6 has
// no dependency on C7; C7 depends on C6, never the reverse.
type TxInfo struct {
	Sender     Address
	GasLimit   uint64
	Messages   []Message
	Data       []byte
	Credential []byte
}

// FeeOutcome summarizes phases 2-3 of the pipeline for the fee contract's
// finalize_fee entry point (§4.7).
type FeeOutcome struct {
	GasUsed uint64
	Success bool
	Error   string
}

// ErrNotImplemented is returned by NoopModule's default entry points, for a
// GuestModule that only overrides a subset of the interface.
var ErrNotImplemented = errors.New("dispatch: entry point not implemented by this guest module")

// GuestModule is the entry-point surface every piece of uploaded code
// exposes. Code is resolved to a GuestModule via a Registry keyed by code
// hash: since the engine has no embedded bytecode VM in this codebase,
// "code" is a registered native Go module rather than an opaque blob,
// exercising the same dispatcher contract a sandboxed guest would.
type GuestModule interface {
	Instantiate(env *Env, msg []byte) (*Response, error)
	Execute(env *Env, msg []byte) (*Response, error)
	Migrate(env *Env, msg []byte) (*Response, error)
	Reply(env *Env, payload []byte, result *SubMsgResult) (*Response, error)
	Receive(env *Env) (*Response, error)
	Query(env *Env, request []byte) ([]byte, error)
	Authenticate(env *Env, tx *TxInfo) (*Response, error)
	Backrun(env *Env, tx *TxInfo) (*Response, error)
	WithholdFee(env *Env, tx *TxInfo) (*Response, error)
	FinalizeFee(env *Env, tx *TxInfo, outcome *FeeOutcome) (*Response, error)
	CronExecute(env *Env) (*Response, error)
	BankExecute(env *Env, msg Message) (*Response, error)
}

// NoopModule implements GuestModule with ErrNotImplemented for every entry
// point; concrete modules embed it and override only the entry points
// their code actually exposes.
type NoopModule struct{}

func (NoopModule) Instantiate(*Env, []byte) (*Response, error) { return nil, ErrNotImplemented }
func (NoopModule) Execute(*Env, []byte) (*Response, error)     { return nil, ErrNotImplemented }
func (NoopModule) Migrate(*Env, []byte) (*Response, error)     { return nil, ErrNotImplemented }
func (NoopModule) Reply(*Env, []byte, *SubMsgResult) (*Response, error) {
	return nil, ErrNotImplemented
}
func (NoopModule) Receive(*Env) (*Response, error)               { return nil, ErrNotImplemented }
func (NoopModule) Query(*Env, []byte) ([]byte, error)            { return nil, ErrNotImplemented }
func (NoopModule) Authenticate(*Env, *TxInfo) (*Response, error) { return nil, ErrNotImplemented }
func (NoopModule) Backrun(*Env, *TxInfo) (*Response, error)      { return nil, ErrNotImplemented }
func (NoopModule) WithholdFee(*Env, *TxInfo) (*Response, error)  { return nil, ErrNotImplemented }
func (NoopModule) FinalizeFee(*Env, *TxInfo, *FeeOutcome) (*Response, error) {
	return nil, ErrNotImplemented
}
func (NoopModule) CronExecute(*Env) (*Response, error)          { return nil, ErrNotImplemented }
func (NoopModule) BankExecute(*Env, Message) (*Response, error) { return nil, ErrNotImplemented }

// Registry resolves a code hash to the GuestModule implementing it.
type Registry struct {
	modules map[[32]byte]GuestModule
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry { return &Registry{modules: make(map[[32]byte]GuestModule)} }

// Register binds codeHash to module. Re-registering a hash overwrites the
// previous binding, matching Migrate's "code_hash now points elsewhere"
// semantics.
func (r *Registry) Register(codeHash [32]byte, module GuestModule) {
	r.modules[codeHash] = module
}

// Resolve looks up the module bound to codeHash.
func (r *Registry) Resolve(codeHash [32]byte) (GuestModule, error) {
	m, ok := r.modules[codeHash]
	if !ok {
		return nil, ErrGuestModuleNotFound
	}
	return m, nil
}
