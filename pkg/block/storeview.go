package block

import (
	"context"

	"github.com/certen/chaincore/pkg/buffer"
	"github.com/certen/chaincore/pkg/kvstore"
)

// storeView adapts a kvstore.Store (C2), pinned to one version, to
// buffer.ReadableStore, so a block's buffer.Buffer (C3) can be layered
// directly over committed chain state.
type storeView struct {
	ctx     context.Context
	store   *kvstore.Store
	version uint64
}

func newStoreView(ctx context.Context, store *kvstore.Store, version uint64) *storeView {
	return &storeView{ctx: ctx, store: store, version: version}
}

func (v *storeView) Get(key []byte) ([]byte, error) {
	val, err := v.store.Get(v.ctx, key, v.version)
	if err == kvstore.ErrKeyNotFound {
		return nil, buffer.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (v *storeView) Iterator(start, end []byte, reverse bool) (buffer.Iterator, error) {
	entries, err := v.store.Scan(start, end, v.version, reverse)
	if err != nil {
		return nil, err
	}
	return &entryIterator{entries: entries}, nil
}

// entryIterator walks a pre-materialized []kvstore.Entry slice, satisfying
// buffer.Iterator.
type entryIterator struct {
	entries []kvstore.Entry
	pos     int
}

func (it *entryIterator) Valid() bool   { return it.pos < len(it.entries) }
func (it *entryIterator) Next()         { it.pos++ }
func (it *entryIterator) Key() []byte   { return it.entries[it.pos].Key }
func (it *entryIterator) Value() []byte { return it.entries[it.pos].Value }
func (it *entryIterator) Close() error  { return nil }
