package dispatch

import (
	"github.com/certen/chaincore/pkg/gas"
	"github.com/certen/chaincore/pkg/sandbox"
)

// ResolveModule looks up the GuestModule bound to contract's code hash, for
// a caller (the query router, C9) that needs to invoke an entry point
// without going through Dispatch/Authority's event bookkeeping.
func (d *Dispatcher) ResolveModule(contract Address) (GuestModule, error) {
	rec, err := d.state.GetContract(contract)
	if err != nil {
		return nil, err
	}
	return d.registry.Resolve(rec.CodeHash)
}

// QueryEnv builds a read-only Env over contract's own namespace at the
// given recursion depth, for the query router's (C9) smart queries: C9
// depends on C6 for this, never the reverse. meter should be scoped to the
// query's own sub-gas budget, independent of any sibling query's.
func (d *Dispatcher) QueryEnv(contract Address, meter *gas.Meter, depth int) *Env {
	sb := sandbox.New(sandbox.Config{
		Store:         d.buf,
		Namespace:     contract[:],
		Querier:       d.querier,
		Meter:         meter,
		Costs:         d.gasCosts,
		Mutable:       false,
		QueryDepth:    depth,
		MaxQueryDepth: d.maxQueryDepth,
	})
	return &Env{Sandbox: sb, Self: contract}
}

// MaxQueryDepth returns the configured recursion limit for query_chain
// calls (§4.9).
func (d *Dispatcher) MaxQueryDepth() int { return d.maxQueryDepth }
