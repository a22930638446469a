package query

import (
	"context"
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
	bankHash = [32]byte{0xb0}
	echoHash = [32]byte{0xee}

	ownerAddr    = dispatch.Address{0x0a}
	bankContract = dispatch.Address{0xb0}
	echoContract = dispatch.Address{0xee}
	holderAddr   = dispatch.Address{0x01}
)

// lazyQuerier lets the dispatcher's querier point at a Router constructed
// after the dispatcher, closing the guest -> query_chain -> router loop.
type lazyQuerier struct{ r *Router }

func (l *lazyQuerier) Query(ctx context.Context, request []byte, depth int) ([]byte, error) {
	return l.r.Query(ctx, request, depth)
}

// echoModule answers smart queries by echoing the payload; the "recurse"
// payload instead re-issues the same query against itself through
// query_chain, for exercising the depth limit.
type echoModule struct {
	dispatch.NoopModule
}

func (echoModule) Query(env *dispatch.Env, request []byte) ([]byte, error) {
	if string(request) == "recurse" {
		raw, err := cbor.Marshal(Request{Smart: &SmartRequest{Contract: env.Self, Msg: request}})
		if err != nil {
			return nil, err
		}
		return env.Sandbox.QueryChain(context.Background(), raw)
	}
	return append([]byte("echo:"), request...), nil
}

func newTestRouter(t *testing.T) (*Router, *buffer.Buffer) {
	t.Helper()
	buf := buffer.New(nil)

	bank := guest.NewBank()
	registry := dispatch.NewRegistry()
	registry.Register(bankHash, bank)
	registry.Register(echoHash, echoModule{})

	state := dispatch.NewState(buf)
	require.NoError(t, state.PutContract(bankContract, &dispatch.ContractRecord{CodeHash: bankHash}))
	require.NoError(t, state.PutContract(echoContract, &dispatch.ContractRecord{CodeHash: echoHash}))
	require.NoError(t, state.PutConfig(&dispatch.Config{
		Owner: ownerAddr,
		Bank:  bankContract,
	}))

	bankGenesis, err := cbor.Marshal(guest.BankGenesisMsg{
		Balances: map[dispatch.Address]dispatch.Coins{
			holderAddr: {{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(42)}},
		},
	})
	require.NoError(t, err)
	sb := sandbox.New(sandbox.Config{
		Store:         buf,
		Namespace:     bankContract[:],
		Meter:         gas.New(gas.Unlimited),
		Costs:         sandbox.DefaultGasCosts(),
		Mutable:       true,
		MaxQueryDepth: 3,
	})
	_, err = bank.Instantiate(&dispatch.Env{Sandbox: sb, Self: bankContract, Sender: ownerAddr}, bankGenesis)
	require.NoError(t, err)

	lazy := &lazyQuerier{}
	d := dispatch.New(dispatch.DispatcherConfig{
		Buf:           buf,
		Registry:      registry,
		Querier:       lazy,
		Costs:         dispatch.DefaultCosts(),
		GasCosts:      sandbox.DefaultGasCosts(),
		MaxQueryDepth: 3,
	})
	r := New(d, 1_000_000)
	lazy.r = r
	return r, buf
}

func ask(t *testing.T, r *Router, req Request) *Response {
	t.Helper()
	raw, err := cbor.Marshal(req)
	require.NoError(t, err)
	out, err := r.Query(context.Background(), raw, 0)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, cbor.Unmarshal(out, &resp))
	return &resp
}

func TestRawAndPrefixQueries(t *testing.T) {
	r, buf := newTestRouter(t)
	buf.Set([]byte("p/1"), []byte("one"))
	buf.Set([]byte("p/2"), []byte("two"))
	buf.Set([]byte("q/x"), []byte("other"))

	resp := ask(t, r, Request{Raw: &RawRequest{Key: []byte("p/2")}})
	require.Equal(t, []byte("two"), resp.Raw)

	resp = ask(t, r, Request{Prefix: &PrefixRequest{Prefix: []byte("p/")}})
	require.Len(t, resp.Prefix, 2)
	require.Equal(t, []byte("p/1"), resp.Prefix[0].Key)
	require.Equal(t, []byte("p/2"), resp.Prefix[1].Key)

	resp = ask(t, r, Request{Prefix: &PrefixRequest{Prefix: []byte("p/"), Descending: true}})
	require.Len(t, resp.Prefix, 2)
	require.Equal(t, []byte("p/2"), resp.Prefix[0].Key)
}

func TestConfigAndBalanceQueries(t *testing.T) {
	r, _ := newTestRouter(t)

	resp := ask(t, r, Request{Config: &struct{}{}})
	require.NotNil(t, resp.Config)
	require.Equal(t, bankContract, resp.Config.Bank)

	resp = ask(t, r, Request{Balance: &BalanceRequest{Address: holderAddr, Denom: "ucoin"}})
	require.NotNil(t, resp.Balance)
	require.Equal(t, uint64(42), resp.Balance.BigInt().Uint64())
}

func TestSmartQueryDispatchesToGuest(t *testing.T) {
	r, _ := newTestRouter(t)

	resp := ask(t, r, Request{Smart: &SmartRequest{Contract: echoContract, Msg: []byte("ping")}})
	require.Equal(t, []byte("echo:ping"), resp.Smart)
}

func TestMultiQueryAnswersInOrder(t *testing.T) {
	r, buf := newTestRouter(t)
	buf.Set([]byte("k"), []byte("v"))

	resp := ask(t, r, Request{Multi: []Request{
		{Raw: &RawRequest{Key: []byte("k")}},
		{Smart: &SmartRequest{Contract: echoContract, Msg: []byte("hi")}},
	}})
	require.Len(t, resp.Multi, 2)

	var first, second Response
	require.NoError(t, cbor.Unmarshal(resp.Multi[0], &first))
	require.NoError(t, cbor.Unmarshal(resp.Multi[1], &second))
	require.Equal(t, []byte("v"), first.Raw)
	require.Equal(t, []byte("echo:hi"), second.Smart)
}

func TestQueryDepthIsBounded(t *testing.T) {
	r, _ := newTestRouter(t)

	raw, err := cbor.Marshal(Request{Smart: &SmartRequest{Contract: echoContract, Msg: []byte("ping")}})
	require.NoError(t, err)
	_, err = r.Query(context.Background(), raw, 4)
	require.ErrorIs(t, err, ErrMaxQueryDepthExceeded)

	// A guest that keeps re-querying itself through query_chain runs into
	// the same limit instead of recursing forever.
	raw, err = cbor.Marshal(Request{Smart: &SmartRequest{Contract: echoContract, Msg: []byte("recurse")}})
	require.NoError(t, err)
	_, err = r.Query(context.Background(), raw, 0)
	require.Error(t, err)
}

func TestUnknownQueryFails(t *testing.T) {
	r, _ := newTestRouter(t)
	raw, err := cbor.Marshal(Request{})
	require.NoError(t, err)
	_, err = r.Query(context.Background(), raw, 0)
	require.ErrorIs(t, err, ErrUnknownQuery)
}
