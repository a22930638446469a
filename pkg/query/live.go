package query

import (
	"context"

	"github.com/certen/chaincore/pkg/buffer"
	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/kvstore"
	"github.com/certen/chaincore/pkg/sandbox"
)

// readonlyView adapts a kvstore.Store pinned to one version to
// buffer.ReadableStore, the same way pkg/block's internal storeView does,
// so a Dispatcher can be built directly over committed chain state without
// a dependency on pkg/block.
type readonlyView struct {
	ctx     context.Context
	store   *kvstore.Store
	version uint64
}

func (v *readonlyView) Get(key []byte) ([]byte, error) {
	val, err := v.store.Get(v.ctx, key, v.version)
	if err == kvstore.ErrKeyNotFound {
		return nil, buffer.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (v *readonlyView) Iterator(start, end []byte, reverse bool) (buffer.Iterator, error) {
	entries, err := v.store.Scan(start, end, v.version, reverse)
	if err != nil {
		return nil, err
	}
	return &liveIterator{entries: entries}, nil
}

type liveIterator struct {
	entries []kvstore.Entry
	pos     int
}

func (it *liveIterator) Valid() bool   { return it.pos < len(it.entries) }
func (it *liveIterator) Next()         { it.pos++ }
func (it *liveIterator) Key() []byte   { return it.entries[it.pos].Key }
func (it *liveIterator) Value() []byte { return it.entries[it.pos].Value }
func (it *liveIterator) Close() error  { return nil }

// LiveRouter rebuilds a Router bound to the store's latest committed
// version on every call, so it can be wired both as the ABCI application's
// outward-facing query path and as the sandbox.Querier a guest's
// query_chain host call recurses into — both always observe the same,
// most-recently-committed state, never a block still being finalized.
type LiveRouter struct {
	store         *kvstore.Store
	registry      *dispatch.Registry
	costs         dispatch.Costs
	gasCosts      sandbox.GasCosts
	maxQueryDepth int
	subGasBudget  uint64
}

// NewLive constructs a LiveRouter.
func NewLive(store *kvstore.Store, registry *dispatch.Registry, costs dispatch.Costs, gasCosts sandbox.GasCosts, maxQueryDepth int, subGasBudget uint64) *LiveRouter {
	return &LiveRouter{
		store:         store,
		registry:      registry,
		costs:         costs,
		gasCosts:      gasCosts,
		maxQueryDepth: maxQueryDepth,
		subGasBudget:  subGasBudget,
	}
}

// Query implements sandbox.Querier.
func (lr *LiveRouter) Query(ctx context.Context, request []byte, depth int) ([]byte, error) {
	v, err := lr.store.LatestVersion()
	if err != nil {
		return nil, err
	}
	buf := buffer.New(&readonlyView{ctx: ctx, store: lr.store, version: v})
	d := dispatch.New(dispatch.DispatcherConfig{
		Buf:           buf,
		Registry:      lr.registry,
		Querier:       lr,
		Costs:         lr.costs,
		GasCosts:      lr.gasCosts,
		MaxQueryDepth: lr.maxQueryDepth,
	})
	return New(d, lr.subGasBudget).Query(ctx, request, depth)
}
