package guest

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/certen/chaincore/pkg/buffer"
	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/gas"
	"github.com/certen/chaincore/pkg/sandbox"
	"github.com/certen/chaincore/pkg/xmath"
)

var (
	bankAddr = dispatch.Address{0xb0}
	feeAddr  = dispatch.Address{0xfe}
	userAddr = dispatch.Address{0x01}
	toAddr   = dispatch.Address{0x02}
)

func newEnv(self, sender dispatch.Address, buf *buffer.Buffer) *dispatch.Env {
	sb := sandbox.New(sandbox.Config{
		Store:         buf,
		Namespace:     self[:],
		Meter:         gas.New(gas.Unlimited),
		Costs:         sandbox.DefaultGasCosts(),
		Mutable:       true,
		MaxQueryDepth: 10,
	})
	return &dispatch.Env{Sandbox: sb, Self: self, Sender: sender}
}

func instantiateBank(t *testing.T, buf *buffer.Buffer, b *Bank, genesis BankGenesisMsg) {
	t.Helper()
	raw, err := cbor.Marshal(genesis)
	require.NoError(t, err)
	_, err = b.Instantiate(newEnv(bankAddr, userAddr, buf), raw)
	require.NoError(t, err)
}

func TestBankTransferMovesBalance(t *testing.T) {
	buf := buffer.New(nil)
	b := NewBank()
	instantiateBank(t, buf, b, BankGenesisMsg{
		Balances: map[dispatch.Address]dispatch.Coins{
			userAddr: {{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(100)}},
		},
	})

	env := newEnv(bankAddr, userAddr, buf)
	_, err := b.BankExecute(env, dispatch.Message{
		Kind: dispatch.KindTransfer, To: toAddr,
		Coins: dispatch.Coins{{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(40)}},
	})
	require.NoError(t, err)

	from, err := b.getBalance(env, userAddr, "ucoin")
	require.NoError(t, err)
	require.Equal(t, uint64(60), from.BigInt().Uint64())

	to, err := b.getBalance(env, toAddr, "ucoin")
	require.NoError(t, err)
	require.Equal(t, uint64(40), to.BigInt().Uint64())
}

func TestBankTransferRejectsInsufficientFunds(t *testing.T) {
	buf := buffer.New(nil)
	b := NewBank()
	instantiateBank(t, buf, b, BankGenesisMsg{
		Balances: map[dispatch.Address]dispatch.Coins{
			userAddr: {{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(5)}},
		},
	})

	env := newEnv(bankAddr, userAddr, buf)
	_, err := b.BankExecute(env, dispatch.Message{
		Kind: dispatch.KindTransfer, To: toAddr,
		Coins: dispatch.Coins{{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(6)}},
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestBankRejectsUnauthorizedExplicitFrom(t *testing.T) {
	buf := buffer.New(nil)
	b := NewBank()
	instantiateBank(t, buf, b, BankGenesisMsg{
		Balances: map[dispatch.Address]dispatch.Coins{
			userAddr: {{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(100)}},
		},
	})

	// feeAddr is not an authorized debitor yet.
	env := newEnv(bankAddr, feeAddr, buf)
	from := userAddr
	_, err := b.BankExecute(env, dispatch.Message{
		Kind: dispatch.KindTransfer, From: &from, To: toAddr,
		Coins: dispatch.Coins{{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(1)}},
	})
	require.ErrorIs(t, err, ErrUnauthorizedDebit)
}

func TestBankAllowsAuthorizedExplicitFrom(t *testing.T) {
	buf := buffer.New(nil)
	b := NewBank()
	instantiateBank(t, buf, b, BankGenesisMsg{
		Balances: map[dispatch.Address]dispatch.Coins{
			userAddr: {{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(100)}},
		},
		AuthorizedDebitors: []dispatch.Address{feeAddr},
	})

	env := newEnv(bankAddr, feeAddr, buf)
	from := userAddr
	_, err := b.BankExecute(env, dispatch.Message{
		Kind: dispatch.KindTransfer, From: &from, To: toAddr,
		Coins: dispatch.Coins{{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(30)}},
	})
	require.NoError(t, err)

	bal, err := b.getBalance(env, userAddr, "ucoin")
	require.NoError(t, err)
	require.Equal(t, uint64(70), bal.BigInt().Uint64())
}

func TestBankQueryBalanceAndAllBalances(t *testing.T) {
	buf := buffer.New(nil)
	b := NewBank()
	instantiateBank(t, buf, b, BankGenesisMsg{
		Balances: map[dispatch.Address]dispatch.Coins{
			userAddr: {
				{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(7)},
				{Denom: "uatom", Amount: xmath.NewUint128FromUint64(3)},
			},
		},
	})
	env := newEnv(bankAddr, userAddr, buf)

	req, err := cbor.Marshal(BankQuery{Balance: &BalanceQuery{Address: userAddr, Denom: "ucoin"}})
	require.NoError(t, err)
	raw, err := b.Query(env, req)
	require.NoError(t, err)
	var balResp BalanceResponse
	require.NoError(t, cbor.Unmarshal(raw, &balResp))
	require.Equal(t, uint64(7), balResp.Amount.BigInt().Uint64())

	req, err = cbor.Marshal(BankQuery{AllBalances: &AllBalancesQuery{Address: userAddr}})
	require.NoError(t, err)
	raw, err = b.Query(env, req)
	require.NoError(t, err)
	var allResp AllBalancesResponse
	require.NoError(t, cbor.Unmarshal(raw, &allResp))
	require.Len(t, allResp.Coins, 2)
}

// TestWithholdFinalizeFeeFlow exercises the fee contract end to end through
// a real Dispatcher: withhold_fee debits the sender into the collector,
// finalize_fee refunds the unused portion, and both hops go through the
// bank's own authorized-debitor check rather than touching storage
// directly.
func TestWithholdFinalizeFeeFlow(t *testing.T) {
	buf := buffer.New(nil)
	bankHash := [32]byte{0xb0}
	feeHash := [32]byte{0xfe}

	bank := NewBank()
	fee := NewFee()
	registry := dispatch.NewRegistry()
	registry.Register(bankHash, bank)
	registry.Register(feeHash, fee)

	state := dispatch.NewState(buf)
	require.NoError(t, state.PutContract(bankAddr, &dispatch.ContractRecord{CodeHash: bankHash}))
	require.NoError(t, state.PutContract(feeAddr, &dispatch.ContractRecord{CodeHash: feeHash}))
	require.NoError(t, state.PutConfig(&dispatch.Config{
		Owner: userAddr,
		Bank:  bankAddr,
		Fee:   feeAddr,
	}))

	d := dispatch.New(dispatch.DispatcherConfig{
		Buf:           buf,
		Registry:      registry,
		Costs:         dispatch.DefaultCosts(),
		GasCosts:      sandbox.DefaultGasCosts(),
		MaxQueryDepth: 10,
	})

	instantiateBank(t, buf, bank, BankGenesisMsg{
		Balances: map[dispatch.Address]dispatch.Coins{
			userAddr: {{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(1_000)}},
		},
		AuthorizedDebitors: []dispatch.Address{feeAddr},
	})
	feeGenesis, err := cbor.Marshal(FeeGenesisMsg{
		Denom:     "ucoin",
		GasPrice:  xmath.NewUint128FromUint64(2),
		Collector: toAddr,
	})
	require.NoError(t, err)
	_, err = fee.Instantiate(newEnv(feeAddr, userAddr, buf), feeGenesis)
	require.NoError(t, err)

	meter := gas.New(gas.Unlimited)
	tx := &dispatch.TxInfo{Sender: userAddr, GasLimit: 100}

	ev, _, err := d.Authority(context.Background(), feeAddr, "withhold_fee", meter,
		func(m dispatch.GuestModule, env *dispatch.Env) (*dispatch.Response, error) {
			return m.WithholdFee(env, tx)
		})
	require.NoError(t, err)
	require.Equal(t, dispatch.EventOK, ev.Status)

	bankEnv := newEnv(bankAddr, userAddr, buf)
	senderBal, err := bank.getBalance(bankEnv, userAddr, "ucoin")
	require.NoError(t, err)
	require.Equal(t, uint64(800), senderBal.BigInt().Uint64()) // 1000 - 100*2

	collectorBal, err := bank.getBalance(bankEnv, toAddr, "ucoin")
	require.NoError(t, err)
	require.Equal(t, uint64(200), collectorBal.BigInt().Uint64())

	outcome := &dispatch.FeeOutcome{GasUsed: 30, Success: true}
	ev, _, err = d.Authority(context.Background(), feeAddr, "finalize_fee", meter,
		func(m dispatch.GuestModule, env *dispatch.Env) (*dispatch.Response, error) {
			return m.FinalizeFee(env, tx, outcome)
		})
	require.NoError(t, err)
	require.Equal(t, dispatch.EventOK, ev.Status)

	senderBal, err = bank.getBalance(bankEnv, userAddr, "ucoin")
	require.NoError(t, err)
	require.Equal(t, uint64(940), senderBal.BigInt().Uint64()) // refunded 140 (withheld 200 - spent 60)

	collectorBal, err = bank.getBalance(bankEnv, toAddr, "ucoin")
	require.NoError(t, err)
	require.Equal(t, uint64(60), collectorBal.BigInt().Uint64())
}
