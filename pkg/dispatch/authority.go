package dispatch

import (
	"context"

	"github.com/certen/chaincore/pkg/gas"
)

// authorityCall is one of the guest ABI's host-authority entry points
// (authenticate, backrun, withhold_fee, finalize_fee, cron_execute): unlike
// the six message kinds, these are invoked by the pipeline/block
// orchestrator directly against a named contract rather than dispatched by
// a sender, so there is no sender address to record — the env's Sender is
// the zero address, matching the original's Context{sender: None}.
type authorityCall func(module GuestModule, env *Env) (*Response, error)

// Authority runs one host-authority entry point against contract, in its
// own child buffer (committed on success, dropped on failure, exactly like
// Dispatch), returning the event tree and the guest's raw response. The
// caller picks which entry point to invoke, e.g.:
//
//	d.Authority(ctx, feeAddr, "withhold_fee", meter, func(m GuestModule, env *Env) (*Response, error) {
//	    return m.WithholdFee(env, tx)
//	})
func (d *Dispatcher) Authority(ctx context.Context, contract Address, eventType string, meter *gas.Meter, call authorityCall) (*Event, *Response, error) {
	sub := d.child()
	ev, resp, err := sub.authority(ctx, contract, eventType, meter, call)
	if err != nil {
		if ev == nil {
			ev = NewEvent(eventType)
		}
		ev.Fail(err.Error())
		return ev, nil, err
	}
	sub.buf.Commit()
	return ev, resp, nil
}

func (d *Dispatcher) authority(ctx context.Context, contract Address, eventType string, meter *gas.Meter, call authorityCall) (*Event, *Response, error) {
	ev := NewEvent(eventType).WithAttr("contract", contract.String())
	contractRec, err := d.state.GetContract(contract)
	if err != nil {
		return ev, nil, err
	}
	module, err := d.registry.Resolve(contractRec.CodeHash)
	if err != nil {
		return ev, nil, err
	}
	env := d.newEnv(contract, Address{}, nil, meter, true)
	resp, err := call(module, env)
	if err != nil {
		return ev, nil, err
	}
	applyAttrs(ev, resp)
	if err := d.dispatchSubMessages(ctx, contract, resp, meter, ev); err != nil {
		return ev, nil, err
	}
	return ev, resp, nil
}
