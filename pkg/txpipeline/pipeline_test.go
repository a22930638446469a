package txpipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/certen/chaincore/pkg/buffer"
	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/gas"
	"github.com/certen/chaincore/pkg/guest"
	"github.com/certen/chaincore/pkg/sandbox"
	"github.com/certen/chaincore/pkg/xmath"
)

var (
	bankHash      = [32]byte{0xb0}
	feeHash       = [32]byte{0xfe}
	accountHash   = [32]byte{0xac}
	recipientHash = [32]byte{0x1e}

	bankAddr      = dispatch.Address{0xb0}
	feeAddr       = dispatch.Address{0xfe}
	collectorAddr = dispatch.Address{0xc0}
	senderAddr    = dispatch.Address{0x01}
	recipientAddr = dispatch.Address{0x02}
)

var (
	errBadCredential = errors.New("credential rejected")
	errFinalizeBoom  = errors.New("finalize_fee exploded")
)

var nonceKey = []byte("nonce")

// accountModule is the sender's own contract: it authenticates the
// transaction (bumping a nonce in its own storage on success) and
// optionally requests a backrun.
type accountModule struct {
	dispatch.NoopModule
	wantBackrun bool
	backrunRuns int
}

func (a *accountModule) Authenticate(env *dispatch.Env, tx *dispatch.TxInfo) (*dispatch.Response, error) {
	if string(tx.Credential) == "bad" {
		return nil, errBadCredential
	}
	if err := env.Sandbox.DBWrite(nonceKey, []byte{1}); err != nil {
		return nil, err
	}
	return &dispatch.Response{Backrun: a.wantBackrun}, nil
}

func (a *accountModule) Backrun(env *dispatch.Env, tx *dispatch.TxInfo) (*dispatch.Response, error) {
	a.backrunRuns++
	return &dispatch.Response{}, nil
}

// recipientModule exists only so a user-level Transfer has a contract to
// land on; it leaves receive unimplemented, which the dispatcher accepts.
type recipientModule struct {
	dispatch.NoopModule
}

// failingFee inherits the real fee contract's withhold behavior but always
// fails finalize, for exercising the whole-transaction revert path.
type failingFee struct {
	*guest.Fee
}

func (failingFee) FinalizeFee(*dispatch.Env, *dispatch.TxInfo, *dispatch.FeeOutcome) (*dispatch.Response, error) {
	return nil, errFinalizeBoom
}

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

const senderOpeningBalance = 3_000_000

// setupChain wires a root buffer with bank/fee/sender/recipient contracts
// and opening balances, returning the buffer, the pipeline, and the bank
// module for balance inspection.
func setupChain(t *testing.T, account *accountModule, feeModule dispatch.GuestModule) (*buffer.Buffer, *Pipeline, *guest.Bank) {
	t.Helper()
	buf := buffer.New(nil)

	bank := guest.NewBank()
	registry := dispatch.NewRegistry()
	registry.Register(bankHash, bank)
	registry.Register(feeHash, feeModule)
	registry.Register(accountHash, account)
	registry.Register(recipientHash, &recipientModule{})

	state := dispatch.NewState(buf)
	require.NoError(t, state.PutContract(bankAddr, &dispatch.ContractRecord{CodeHash: bankHash}))
	require.NoError(t, state.PutContract(feeAddr, &dispatch.ContractRecord{CodeHash: feeHash}))
	require.NoError(t, state.PutContract(senderAddr, &dispatch.ContractRecord{CodeHash: accountHash}))
	require.NoError(t, state.PutContract(recipientAddr, &dispatch.ContractRecord{CodeHash: recipientHash}))
	require.NoError(t, state.PutConfig(&dispatch.Config{
		Owner: senderAddr,
		Bank:  bankAddr,
		Fee:   feeAddr,
	}))

	bankGenesis, err := cbor.Marshal(guest.BankGenesisMsg{
		Balances: map[dispatch.Address]dispatch.Coins{
			senderAddr: {{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(senderOpeningBalance)}},
		},
		AuthorizedDebitors: []dispatch.Address{feeAddr},
	})
	require.NoError(t, err)
	_, err = bank.Instantiate(newEnv(bankAddr, senderAddr, buf), bankGenesis)
	require.NoError(t, err)

	feeGenesis, err := cbor.Marshal(guest.FeeGenesisMsg{
		Denom:     "ucoin",
		GasPrice:  xmath.NewUint128FromUint64(2),
		Collector: collectorAddr,
	})
	require.NoError(t, err)
	realFee := guest.NewFee()
	_, err = realFee.Instantiate(newEnv(feeAddr, senderAddr, buf), feeGenesis)
	require.NoError(t, err)

	pipe := New(Config{
		Registry:      registry,
		Costs:         dispatch.DefaultCosts(),
		GasCosts:      sandbox.DefaultGasCosts(),
		MaxQueryDepth: 10,
	})
	return buf, pipe, bank
}

func bankBalance(t *testing.T, buf *buffer.Buffer, bank *guest.Bank, addr dispatch.Address) uint64 {
	t.Helper()
	req, err := cbor.Marshal(guest.BankQuery{Balance: &guest.BalanceQuery{Address: addr, Denom: "ucoin"}})
	require.NoError(t, err)
	raw, err := bank.Query(newEnv(bankAddr, addr, buf), req)
	require.NoError(t, err)
	var resp guest.BalanceResponse
	require.NoError(t, cbor.Unmarshal(raw, &resp))
	return resp.Amount.BigInt().Uint64()
}

func transferTx(credential string) *dispatch.TxInfo {
	return &dispatch.TxInfo{
		Sender:   senderAddr,
		GasLimit: 1_000_000,
		Messages: []dispatch.Message{{
			Kind:  dispatch.KindTransfer,
			To:    recipientAddr,
			Coins: dispatch.Coins{{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(10)}},
		}},
		Credential: []byte(credential),
	}
}

func TestFinalizeChargesExactFeeAndRefundsRest(t *testing.T) {
	account := &accountModule{}
	buf, pipe, bank := setupChain(t, account, guest.NewFee())

	out := pipe.Run(context.Background(), buf, transferTx("ok"), Finalize)
	require.True(t, out.Success, "tx failed: %s", out.Error)
	require.NotZero(t, out.GasUsed)
	require.LessOrEqual(t, out.GasUsed, uint64(1_000_000))

	// The sender pays exactly gas_price * gas_used plus the 10 transferred,
	// the collector holds exactly the fee, and the recipient got the 10 —
	// the withheld remainder was refunded in full.
	feePaid := 2 * out.GasUsed
	require.Equal(t, senderOpeningBalance-10-feePaid, bankBalance(t, buf, bank, senderAddr))
	require.Equal(t, feePaid, bankBalance(t, buf, bank, collectorAddr))
	require.Equal(t, uint64(10), bankBalance(t, buf, bank, recipientAddr))

	// authenticate's nonce bump was committed along with the messages.
	nonce, err := buf.Get(append(append([]byte{}, senderAddr[:]...), nonceKey...))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, nonce)
}

func TestFinalizeRunsBackrunAfterMessages(t *testing.T) {
	account := &accountModule{wantBackrun: true}
	buf, pipe, _ := setupChain(t, account, guest.NewFee())

	out := pipe.Run(context.Background(), buf, transferTx("ok"), Finalize)
	require.True(t, out.Success, "tx failed: %s", out.Error)
	require.Equal(t, 1, account.backrunRuns)
}

func TestFailedAuthenticationStillFinalizesFee(t *testing.T) {
	account := &accountModule{}
	buf, pipe, bank := setupChain(t, account, guest.NewFee())

	out := pipe.Run(context.Background(), buf, transferTx("bad"), Finalize)
	require.False(t, out.Success)
	require.Contains(t, out.Error, "credential rejected")

	// withhold_fee, the failed authenticate, and finalize_fee — no message
	// events from phase 3.
	require.Len(t, out.Events, 3)
	require.Equal(t, dispatch.EventFailed, out.Events[1].Status)

	// The message buffer was dropped: no nonce, no transfer; the fee for
	// the gas actually burned was still collected, the rest refunded.
	_, err := buf.Get(append(append([]byte{}, senderAddr[:]...), nonceKey...))
	require.ErrorIs(t, err, buffer.ErrNotFound)
	require.Equal(t, uint64(0), bankBalance(t, buf, bank, recipientAddr))
	feePaid := 2 * out.GasUsed
	require.Equal(t, uint64(senderOpeningBalance)-feePaid, bankBalance(t, buf, bank, senderAddr))
	require.Equal(t, feePaid, bankBalance(t, buf, bank, collectorAddr))
}

func TestFailedMessageDropsWholeMessageBuffer(t *testing.T) {
	account := &accountModule{}
	buf, pipe, bank := setupChain(t, account, guest.NewFee())

	tx := transferTx("ok")
	// A second message that cannot succeed: transfer more than the sender
	// holds. The first message's transfer must be discarded with it.
	tx.Messages = append(tx.Messages, dispatch.Message{
		Kind:  dispatch.KindTransfer,
		To:    recipientAddr,
		Coins: dispatch.Coins{{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(senderOpeningBalance * 10)}},
	})

	out := pipe.Run(context.Background(), buf, tx, Finalize)
	require.False(t, out.Success)
	require.Equal(t, uint64(0), bankBalance(t, buf, bank, recipientAddr))

	// authenticate committed before phase 3, so the nonce bump survives
	// even though every message was rolled back.
	nonce, err := buf.Get(append(append([]byte{}, senderAddr[:]...), nonceKey...))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, nonce)
}

func TestCheckRunsOnlyTwoPhasesAndCommitsNothing(t *testing.T) {
	account := &accountModule{}
	buf, pipe, bank := setupChain(t, account, guest.NewFee())

	out := pipe.Run(context.Background(), buf, transferTx("ok"), Check)
	require.True(t, out.Success)
	require.Len(t, out.Events, 2) // withhold_fee + authenticate, no messages, no finalize

	// Nothing reached the base buffer: balances and nonce are untouched.
	require.Equal(t, uint64(senderOpeningBalance), bankBalance(t, buf, bank, senderAddr))
	require.Equal(t, uint64(0), bankBalance(t, buf, bank, collectorAddr))
	_, err := buf.Get(append(append([]byte{}, senderAddr[:]...), nonceKey...))
	require.ErrorIs(t, err, buffer.ErrNotFound)
}

func TestSimulateRunsAllPhasesUnderUnlimitedGas(t *testing.T) {
	account := &accountModule{}
	buf, pipe, bank := setupChain(t, account, guest.NewFee())

	tx := transferTx("ok")
	tx.GasLimit = 1 // ignored: Simulate substitutes an unlimited meter
	out := pipe.Run(context.Background(), buf, tx, Simulate)
	require.True(t, out.Success, "tx failed: %s", out.Error)
	require.NotZero(t, out.GasUsed)
	require.Equal(t, uint64(10), bankBalance(t, buf, bank, recipientAddr))
}

func TestFailedFinalizeFeeRevertsEverything(t *testing.T) {
	account := &accountModule{}
	buf, pipe, bank := setupChain(t, account, failingFee{guest.NewFee()})

	out := pipe.Run(context.Background(), buf, transferTx("ok"), Finalize)
	require.False(t, out.Success)
	require.Contains(t, out.Error, "finalize_fee exploded")

	// The entire transaction — withheld fee included — was reverted.
	require.Equal(t, uint64(senderOpeningBalance), bankBalance(t, buf, bank, senderAddr))
	require.Equal(t, uint64(0), bankBalance(t, buf, bank, collectorAddr))
	require.Equal(t, uint64(0), bankBalance(t, buf, bank, recipientAddr))
	_, err := buf.Get(append(append([]byte{}, senderAddr[:]...), nonceKey...))
	require.ErrorIs(t, err, buffer.ErrNotFound)
}

func TestGasExhaustionFailsTransaction(t *testing.T) {
	account := &accountModule{}
	buf, pipe, bank := setupChain(t, account, guest.NewFee())

	tx := transferTx("ok")
	tx.GasLimit = 3_000 // enough for withhold's sub-message, not the rest
	out := pipe.Run(context.Background(), buf, tx, Finalize)
	require.False(t, out.Success)
	require.LessOrEqual(t, out.GasUsed, uint64(3_000))
	require.Equal(t, uint64(0), bankBalance(t, buf, bank, recipientAddr))
}
