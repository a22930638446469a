package guest

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/xmath"
)

var feeConfigKey = []byte("cfg")

// FeeGenesisMsg configures the fee (taxman) contract's gas price, fee
// denom, and the collector address fees flow through. The fee contract's
// own address must appear in the bank's BankGenesisMsg.AuthorizedDebitors,
// since it moves funds out of both the payer's and the collector's account,
// never its own balance.
type FeeGenesisMsg struct {
	Denom     string
	GasPrice  xmath.Uint128 // price per unit of gas, in the smallest denom unit
	Collector dispatch.Address
}

type feeConfig struct {
	Denom     string           `cbor:"denom"`
	GasPrice  xmath.Uint128    `cbor:"gas_price"`
	Collector dispatch.Address `cbor:"collector"`
}

// Fee is the native taxman contract: withholds the maximum possible fee
// for a transaction's gas_limit up front, then refunds whatever wasn't
// spent once the transaction's actual gas_used is known (§4.7 phases 1
// and 4). Like Bank, it carries no Go-level state — everything lives in
// its own sandboxed storage.
type Fee struct {
	dispatch.NoopModule
}

func NewFee() *Fee { return &Fee{} }

func (f *Fee) Instantiate(env *dispatch.Env, msg []byte) (*dispatch.Response, error) {
	var genesis FeeGenesisMsg
	if err := cbor.Unmarshal(msg, &genesis); err != nil {
		return nil, err
	}
	cfg := feeConfig{Denom: genesis.Denom, GasPrice: genesis.GasPrice, Collector: genesis.Collector}
	raw, err := cbor.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return &dispatch.Response{}, env.Sandbox.DBWrite(feeConfigKey, raw)
}

func (f *Fee) getConfig(env *dispatch.Env) (*feeConfig, error) {
	raw, ok, err := env.Sandbox.DBRead(feeConfigKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	var cfg feeConfig
	if err := cbor.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fee computes gasPrice * gasUnits, the amount owed for a given quantity of
// gas under cfg's pricing.
func (f *Fee) fee(cfg *feeConfig, gasUnits uint64) (xmath.Uint128, error) {
	return cfg.GasPrice.CheckedMul(xmath.NewUint128FromUint64(gasUnits))
}

// WithholdFee reserves the maximum possible fee (gas_price * gas_limit)
// from tx.Sender by returning a privileged transfer sub-message: the bank
// contract honors From only because this contract is registered as an
// authorized debitor (§4.7 phase 1).
func (f *Fee) WithholdFee(env *dispatch.Env, tx *dispatch.TxInfo) (*dispatch.Response, error) {
	cfg, err := f.getConfig(env)
	if err != nil {
		return nil, err
	}
	amount, err := f.fee(cfg, tx.GasLimit)
	if err != nil {
		return nil, err
	}
	sender := tx.Sender
	sub := dispatch.Message{
		Kind:  dispatch.KindTransfer,
		From:  &sender,
		To:    cfg.Collector,
		Coins: dispatch.Coins{{Denom: cfg.Denom, Amount: amount}},
	}
	return &dispatch.Response{
		Attrs:       map[string]string{"withheld": amount.BigInt().String()},
		SubMessages: []dispatch.SubMessage{{Msg: sub}},
	}, nil
}

// FinalizeFee refunds the sender whatever of the withheld amount wasn't
// spent on outcome.GasUsed, by transferring the difference back out of the
// collector's own balance (§4.7 phase 4, "expected to always succeed").
func (f *Fee) FinalizeFee(env *dispatch.Env, tx *dispatch.TxInfo, outcome *dispatch.FeeOutcome) (*dispatch.Response, error) {
	cfg, err := f.getConfig(env)
	if err != nil {
		return nil, err
	}
	withheld, err := f.fee(cfg, tx.GasLimit)
	if err != nil {
		return nil, err
	}
	spent, err := f.fee(cfg, outcome.GasUsed)
	if err != nil {
		return nil, err
	}
	refund := withheld.SaturatingSub(spent)

	resp := &dispatch.Response{Attrs: map[string]string{
		"spent":  spent.BigInt().String(),
		"refund": refund.BigInt().String(),
	}}
	if refund.IsZero() {
		return resp, nil
	}
	collector := cfg.Collector
	resp.SubMessages = []dispatch.SubMessage{{Msg: dispatch.Message{
		Kind:  dispatch.KindTransfer,
		From:  &collector,
		To:    tx.Sender,
		Coins: dispatch.Coins{{Denom: cfg.Denom, Amount: refund}},
	}}}
	return resp, nil
}
