package block

import (
	"context"

	"github.com/certen/chaincore/pkg/kvstore"
	"github.com/certen/chaincore/pkg/merkle"
)

// StoreResult is the answer to a query_store driver call: the raw value (nil
// if the key is absent at the requested height) and, when requested, a
// membership or non-membership proof against the root at that height.
type StoreResult struct {
	Value []byte
	Proof *merkle.Proof
}

// QueryStore reads one raw key as it stood at height (0 meaning latest),
// optionally with a Merkle proof. Heights above the latest committed
// version, or at/below the pruning watermark, fail with a state error.
func (o *Orchestrator) QueryStore(ctx context.Context, key []byte, height uint64, prove bool) (*StoreResult, error) {
	latest, err := o.store.LatestVersion()
	if err != nil {
		return nil, err
	}
	if height == 0 {
		height = latest
	}
	if height > latest {
		return nil, ErrVersionTooNew
	}

	out := &StoreResult{}
	value, err := o.store.Get(ctx, key, height)
	if err != nil && err != kvstore.ErrKeyNotFound {
		return nil, err
	}
	out.Value = value

	if prove {
		proof, err := o.store.Tree().Prove(ctx, merkle.HashBytes(key), height)
		if err != nil {
			return nil, err
		}
		out.Proof = proof
	}
	return out, nil
}
