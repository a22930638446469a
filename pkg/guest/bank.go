package guest

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/sandbox"
	"github.com/certen/chaincore/pkg/xmath"
)

// bankConfigKey stores the set of addresses the bank module trusts to name
// an explicit debit source (dispatch.Message.From) other than the message's
// own sender — the fee contract, moving funds out of a payer's account
// rather than its own.
var bankConfigKey = []byte("cfg")

// BankGenesisMsg seeds the bank's opening balances and authorized-debitor
// set at Instantiate time (§4.6's Config names a single bank contract; this
// is that contract's own init payload, not part of C6 itself).
type BankGenesisMsg struct {
	Balances           map[dispatch.Address]dispatch.Coins
	AuthorizedDebitors []dispatch.Address
}

type bankConfig struct {
	AuthorizedDebitors []dispatch.Address `cbor:"authorized_debitors"`
}

// BalanceQuery requests the amount of one denom held by Address.
type BalanceQuery struct {
	Address dispatch.Address
	Denom   string
}

// BalanceResponse answers a BalanceQuery.
type BalanceResponse struct {
	Amount xmath.Uint128
}

// AllBalancesQuery requests every nonzero balance held by Address.
type AllBalancesQuery struct {
	Address dispatch.Address
}

// AllBalancesResponse answers an AllBalancesQuery.
type AllBalancesResponse struct {
	Coins dispatch.Coins
}

// Bank is the native bank contract: every address's coin balances, keyed
// address-major so a single contract's holdings are one contiguous scan.
// It is stateless in Go terms — all of its state lives in the sandboxed
// storage handed to it per call, namespaced to its own contract address by
// the dispatcher, exactly as a real guest's storage would be.
type Bank struct {
	dispatch.NoopModule
}

func NewBank() *Bank { return &Bank{} }

func balanceKey(addr dispatch.Address, denom string) []byte {
	key := make([]byte, 0, len(addr)+1+len(denom))
	key = append(key, addr[:]...)
	key = append(key, '/')
	key = append(key, denom...)
	return key
}

func (b *Bank) getBalance(env *dispatch.Env, addr dispatch.Address, denom string) (xmath.Uint128, error) {
	raw, ok, err := env.Sandbox.DBRead(balanceKey(addr, denom))
	if err != nil {
		return xmath.Uint128{}, err
	}
	if !ok {
		return xmath.NewUint128FromUint64(0), nil
	}
	return xmath.Uint128FromBigEndian(raw), nil
}

func (b *Bank) setBalance(env *dispatch.Env, addr dispatch.Address, denom string, amount xmath.Uint128) error {
	if amount.IsZero() {
		return env.Sandbox.DBRemove(balanceKey(addr, denom))
	}
	be := amount.BigEndianBytes()
	return env.Sandbox.DBWrite(balanceKey(addr, denom), be[:])
}

func (b *Bank) getConfig(env *dispatch.Env) (*bankConfig, error) {
	raw, ok, err := env.Sandbox.DBRead(bankConfigKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &bankConfig{}, nil
	}
	var cfg bankConfig
	if err := cbor.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (b *Bank) isAuthorizedDebitor(cfg *bankConfig, sender dispatch.Address) bool {
	for _, a := range cfg.AuthorizedDebitors {
		if a == sender {
			return true
		}
	}
	return false
}

// Instantiate seeds the bank's genesis balances and authorized-debitor set.
func (b *Bank) Instantiate(env *dispatch.Env, msg []byte) (*dispatch.Response, error) {
	var genesis BankGenesisMsg
	if err := cbor.Unmarshal(msg, &genesis); err != nil {
		return nil, err
	}
	cfg := bankConfig{AuthorizedDebitors: genesis.AuthorizedDebitors}
	raw, err := cbor.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err := env.Sandbox.DBWrite(bankConfigKey, raw); err != nil {
		return nil, err
	}
	for addr, coins := range genesis.Balances {
		for _, coin := range coins {
			if err := b.setBalance(env, addr, coin.Denom, coin.Amount); err != nil {
				return nil, err
			}
		}
	}
	return &dispatch.Response{}, nil
}

// BankExecute moves coins from a source account to msg.To. The source is
// env.Sender unless msg.From names a different address, which is only
// honored when env.Sender is one of the bank's authorized debitors
// (§4.6.2's bank_execute entry point).
func (b *Bank) BankExecute(env *dispatch.Env, msg dispatch.Message) (*dispatch.Response, error) {
	if msg.Kind != dispatch.KindTransfer {
		return nil, ErrUnsupportedMsg
	}
	source := env.Sender
	if msg.From != nil && *msg.From != env.Sender {
		cfg, err := b.getConfig(env)
		if err != nil {
			return nil, err
		}
		if !b.isAuthorizedDebitor(cfg, env.Sender) {
			return nil, ErrUnauthorizedDebit
		}
		source = *msg.From
	}
	for _, coin := range msg.Coins {
		if coin.Amount.IsZero() {
			continue
		}
		have, err := b.getBalance(env, source, coin.Denom)
		if err != nil {
			return nil, err
		}
		left, err := have.CheckedSub(coin.Amount)
		if err != nil {
			return nil, ErrInsufficientFunds
		}
		if err := b.setBalance(env, source, coin.Denom, left); err != nil {
			return nil, err
		}
		got, err := b.getBalance(env, msg.To, coin.Denom)
		if err != nil {
			return nil, err
		}
		got, err = got.CheckedAdd(coin.Amount)
		if err != nil {
			return nil, err
		}
		if err := b.setBalance(env, msg.To, coin.Denom, got); err != nil {
			return nil, err
		}
	}
	return &dispatch.Response{Attrs: map[string]string{"from": source.String(), "to": msg.To.String()}}, nil
}

// BankQuery is the CBOR envelope a bank_query request arrives in: exactly
// one of its fields is populated, naming which query is being made.
type BankQuery struct {
	Balance     *BalanceQuery     `cbor:"balance,omitempty"`
	AllBalances *AllBalancesQuery `cbor:"all_balances,omitempty"`
}

// Query answers a BankQuery, CBOR-encoded in request, with the matching
// BalanceResponse or AllBalancesResponse.
func (b *Bank) Query(env *dispatch.Env, request []byte) ([]byte, error) {
	var q BankQuery
	if err := cbor.Unmarshal(request, &q); err != nil {
		return nil, err
	}
	switch {
	case q.Balance != nil:
		amount, err := b.getBalance(env, q.Balance.Address, q.Balance.Denom)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(BalanceResponse{Amount: amount})
	case q.AllBalances != nil:
		coins, err := b.scanBalances(env, q.AllBalances.Address)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(AllBalancesResponse{Coins: coins})
	default:
		return nil, ErrUnsupportedMsg
	}
}

func (b *Bank) scanBalances(env *dispatch.Env, addr dispatch.Address) (dispatch.Coins, error) {
	min := append(append([]byte{}, addr[:]...), '/')
	max := append([]byte{}, min...)
	max[len(max)-1]++ // the byte just past the address's own "addr/" prefix

	id, err := env.Sandbox.DBScan(min, max, sandbox.Ascending)
	if err != nil {
		return nil, err
	}
	var out dispatch.Coins
	for {
		key, value, ok, err := env.Sandbox.DBNext(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, dispatch.Coin{
			Denom:  string(key[len(addr)+1:]),
			Amount: xmath.Uint128FromBigEndian(value),
		})
	}
	return out, nil
}
