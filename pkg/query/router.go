// Package query implements the query router (C9): read-only access to
// configuration, balances, code, contracts, raw storage, and a guest's own
// smart-query entry point, with depth-limited recursion and multi-query
// bundling (§4.9).
package query

import (
	"context"

	"github.com/fxamacker/cbor/v2"

	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/gas"
	"github.com/certen/chaincore/pkg/xmath"
)

// Request is the root CBOR envelope every query arrives in: exactly one
// field is populated, naming which kind of query this is.
type Request struct {
	Raw         *RawRequest     `cbor:"raw,omitempty"`
	Prefix      *PrefixRequest  `cbor:"prefix,omitempty"`
	Config      *struct{}       `cbor:"config,omitempty"`
	Balance     *BalanceRequest `cbor:"balance,omitempty"`
	AllBalances *AddressRequest `cbor:"all_balances,omitempty"`
	Code        *CodeRequest    `cbor:"code,omitempty"`
	Codes       *struct{}       `cbor:"codes,omitempty"`
	Contract    *AddressRequest `cbor:"contract,omitempty"`
	Contracts   *struct{}       `cbor:"contracts,omitempty"`
	Smart       *SmartRequest   `cbor:"smart,omitempty"`
	Multi       []Request       `cbor:"multi,omitempty"`
}

type RawRequest struct {
	Key []byte
}

type PrefixRequest struct {
	Prefix     []byte
	Descending bool
}

type AddressRequest struct {
	Address dispatch.Address
}

type BalanceRequest struct {
	Address dispatch.Address
	Denom   string
}

type CodeRequest struct {
	Hash [32]byte
}

// SmartRequest invokes contract's own Query entry point with an opaque,
// guest-defined payload.
type SmartRequest struct {
	Contract dispatch.Address
	Msg      []byte
}

// bankQuery mirrors the CBOR envelope the bundled bank guest module (C6's
// example contract) accepts on its own Query entry point, so the router's
// well-known "balance"/"all_balances" queries can be forwarded to whichever
// contract the chain Config names as its bank, without the core engine
// importing the example contract package.
type bankQuery struct {
	Balance     *bankBalanceQuery    `cbor:"balance,omitempty"`
	AllBalances *bankAllBalanceQuery `cbor:"all_balances,omitempty"`
}
type bankBalanceQuery struct {
	Address dispatch.Address
	Denom   string
}
type bankAllBalanceQuery struct {
	Address dispatch.Address
}

// Response wraps whichever single result a non-multi Request produced.
type Response struct {
	Raw         []byte                   `cbor:"raw,omitempty"`
	Prefix      []RawEntry               `cbor:"prefix,omitempty"`
	Config      *dispatch.Config         `cbor:"config,omitempty"`
	Balance     *xmath.Uint128           `cbor:"balance,omitempty"`
	AllBalances []byte                   `cbor:"all_balances,omitempty"` // guest-defined encoding, passed through
	Code        *dispatch.CodeRecord     `cbor:"code,omitempty"`
	Codes       []CodeEntry              `cbor:"codes,omitempty"`
	Contract    *dispatch.ContractRecord `cbor:"contract,omitempty"`
	Contracts   []ContractEntry          `cbor:"contracts,omitempty"`
	Smart       []byte                   `cbor:"smart,omitempty"`
	Multi       [][]byte                 `cbor:"multi,omitempty"`
}

type RawEntry struct {
	Key   []byte
	Value []byte
}

type CodeEntry struct {
	Hash   [32]byte
	Record *dispatch.CodeRecord
}

type ContractEntry struct {
	Address dispatch.Address
	Record  *dispatch.ContractRecord
}

// Router answers queries against a Dispatcher's chain-level state and
// registry. It is itself a sandbox.Querier, so a guest's query_chain host
// call is served by recursing back into the same Router at depth+1.
type Router struct {
	d            *dispatch.Dispatcher
	subGasBudget uint64
}

// New constructs a Router over d. subGasBudget limits each query's own
// (and each multi-query member's) independent gas allowance (§4.9).
func New(d *dispatch.Dispatcher, subGasBudget uint64) *Router {
	return &Router{d: d, subGasBudget: subGasBudget}
}

// Query implements sandbox.Querier: depth is the recursion counter a guest's
// query_chain call has already accumulated; exceeding the dispatcher's
// configured maximum fails the request (§4.9).
func (r *Router) Query(ctx context.Context, request []byte, depth int) ([]byte, error) {
	if depth > r.d.MaxQueryDepth() {
		return nil, ErrMaxQueryDepthExceeded
	}
	var req Request
	if err := cbor.Unmarshal(request, &req); err != nil {
		return nil, err
	}
	resp, err := r.answer(ctx, req, depth)
	if err != nil {
		return nil, err
	}
	return encode(resp)
}

func (r *Router) answer(ctx context.Context, req Request, depth int) (*Response, error) {
	switch {
	case req.Raw != nil:
		v, err := r.d.State().Raw().Get(req.Raw.Key)
		if err != nil {
			return nil, err
		}
		return &Response{Raw: v}, nil

	case req.Prefix != nil:
		entries, err := r.scanPrefix(req.Prefix.Prefix, req.Prefix.Descending)
		if err != nil {
			return nil, err
		}
		return &Response{Prefix: entries}, nil

	case req.Config != nil:
		cfg, err := r.d.State().GetConfig()
		if err != nil {
			return nil, err
		}
		return &Response{Config: cfg}, nil

	case req.Balance != nil:
		raw, err := r.querySmartRaw(ctx, bankAddr(r), depth, bankQuery{
			Balance: &bankBalanceQuery{Address: req.Balance.Address, Denom: req.Balance.Denom},
		})
		if err != nil {
			return nil, err
		}
		var out struct{ Amount xmath.Uint128 }
		if err := cbor.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return &Response{Balance: &out.Amount}, nil

	case req.AllBalances != nil:
		raw, err := r.querySmartRaw(ctx, bankAddr(r), depth, bankQuery{
			AllBalances: &bankAllBalanceQuery{Address: req.AllBalances.Address},
		})
		if err != nil {
			return nil, err
		}
		return &Response{AllBalances: raw}, nil

	case req.Code != nil:
		rec, err := r.d.State().GetCode(req.Code.Hash)
		if err != nil {
			return nil, err
		}
		return &Response{Code: rec}, nil

	case req.Codes != nil:
		hashes, recs, err := r.d.State().ListCodes()
		if err != nil {
			return nil, err
		}
		entries := make([]CodeEntry, len(hashes))
		for i := range hashes {
			entries[i] = CodeEntry{Hash: hashes[i], Record: recs[i]}
		}
		return &Response{Codes: entries}, nil

	case req.Contract != nil:
		rec, err := r.d.State().GetContract(req.Contract.Address)
		if err != nil {
			return nil, err
		}
		return &Response{Contract: rec}, nil

	case req.Contracts != nil:
		addrs, recs, err := r.d.State().ListContracts()
		if err != nil {
			return nil, err
		}
		entries := make([]ContractEntry, len(addrs))
		for i := range addrs {
			entries[i] = ContractEntry{Address: addrs[i], Record: recs[i]}
		}
		return &Response{Contracts: entries}, nil

	case req.Smart != nil:
		raw, err := r.querySmart(req.Smart.Contract, depth, req.Smart.Msg)
		if err != nil {
			return nil, err
		}
		return &Response{Smart: raw}, nil

	case req.Multi != nil:
		out := make([][]byte, len(req.Multi))
		for i, sub := range req.Multi {
			raw, err := cbor.Marshal(sub)
			if err != nil {
				return nil, err
			}
			result, err := r.Query(ctx, raw, depth)
			if err != nil {
				return nil, err
			}
			out[i] = result
		}
		return &Response{Multi: out}, nil

	default:
		return nil, ErrUnknownQuery
	}
}

func bankAddr(r *Router) dispatch.Address {
	cfg, err := r.d.State().GetConfig()
	if err != nil {
		return dispatch.Address{}
	}
	return cfg.Bank
}

func (r *Router) querySmart(contract dispatch.Address, depth int, msg []byte) ([]byte, error) {
	module, err := r.d.ResolveModule(contract)
	if err != nil {
		return nil, err
	}
	env := r.d.QueryEnv(contract, gas.New(r.subGasBudget), depth+1)
	return module.Query(env, msg)
}

func (r *Router) querySmartRaw(_ context.Context, contract dispatch.Address, depth int, payload interface{}) ([]byte, error) {
	var msg []byte
	if payload != nil {
		raw, err := cbor.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg = raw
	}
	return r.querySmart(contract, depth, msg)
}

// nextPrefix returns the exclusive upper bound of every key starting with
// prefix, or nil if prefix is empty or all 0xff (an unbounded range).
func nextPrefix(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func (r *Router) scanPrefix(prefix []byte, descending bool) ([]RawEntry, error) {
	it, err := r.d.State().Raw().Iterator(prefix, nextPrefix(prefix), descending)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []RawEntry
	for ; it.Valid(); it.Next() {
		out = append(out, RawEntry{Key: append([]byte{}, it.Key()...), Value: append([]byte{}, it.Value()...)})
	}
	return out, nil
}

func encode(v interface{}) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(v)
}
