package block

import "github.com/certen/chaincore/pkg/dispatch"

// Info is the orchestrator's own record of the last finalized block:
// persisted last within FinalizeBlock (§4.8 step 5) so an in-block query
// observes the previous block's info, never the one still being finalized.
type Info struct {
	Height    uint64
	TimeNanos int64
	AppHash   []byte
}

// GenesisMessage is one message run during InitChain, attributed to Sender
// (distinct from a transaction's sender, since genesis messages have no
// signature to authenticate).
type GenesisMessage struct {
	Sender dispatch.Address
	Msg    dispatch.Message
}

// Genesis gathers everything InitChain needs: the chain's starting
// configuration, any opaque per-application config documents, and the
// messages (uploads, instantiations, transfers) that establish its opening
// state.
type Genesis struct {
	ChainID    string
	Config     dispatch.Config
	AppConfigs map[string][]byte
	Messages   []GenesisMessage
}

// CronOutcome is the per-cronjob result of one firing during FinalizeBlock.
type CronOutcome struct {
	Contract dispatch.Address
	Event    *dispatch.Event
	Error    string
}

// Outcome is the complete result of finalizing one block: the new Merkle
// root, every cronjob that fired, and every transaction's pipeline result,
// in order (§4.8 step 6).
type Outcome struct {
	AppHash []byte
	Crons   []CronOutcome
	Txs     []TxResult
}

// TxResult pairs a transaction's pipeline Outcome with its position in the
// block, for the caller to correlate back to the submitted tx list.
type TxResult struct {
	Index   int
	Events  []*dispatch.Event
	GasUsed uint64
	Success bool
	Error   string
}
