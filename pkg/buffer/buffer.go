// Package buffer implements the layered copy-on-write staging overlay (C3)
// used to isolate a block's, a transaction's, and a sub-call's writes from
// the committed state underneath them.
package buffer

import (
	"sort"
	"sync"
)

// ReadableStore is the minimal read surface a Buffer can be layered over:
// the versioned KV store (C2) at the bottom, or another Buffer above it.
type ReadableStore interface {
	Get(key []byte) ([]byte, error)
	Iterator(start, end []byte, reverse bool) (Iterator, error)
}

// Iterator walks a key range in order.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close() error
}

// Op is one recorded write, in the order needed to replay an overlay onto
// its base.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

type entry struct {
	value   []byte
	deleted bool
}

// Buffer is a copy-on-write overlay: writes and deletes land in an
// in-memory map keyed by raw key; reads consult the overlay first, then
// fall through to base (which may itself be a Buffer, forming a chain of
// arbitrary depth — block, transaction, sub-call).
type Buffer struct {
	mu   sync.RWMutex
	base ReadableStore
	ops  map[string]*entry
}

// New constructs a Buffer over base. base may be nil for a root buffer with
// nothing underneath (every read below the overlay then misses).
func New(base ReadableStore) *Buffer {
	return &Buffer{base: base, ops: make(map[string]*entry)}
}

// NewChild opens a second-level buffer over b, for a sub-execution whose
// writes must be discardable without touching b: simply stop referencing
// the child to discard it.
func (b *Buffer) NewChild() *Buffer { return New(b) }

// Commit replays every write and delete recorded by b onto its own base
// buffer, making them visible through base without touching whatever base
// sits on top of. It is a programmer error to call Commit on a Buffer
// whose base is not itself a *Buffer (there is nothing to commit into).
func (b *Buffer) Commit() {
	parent, ok := b.base.(*Buffer)
	if !ok {
		return
	}
	for _, op := range b.Ops() {
		if op.Delete {
			parent.Delete(op.Key)
		} else {
			parent.Set(op.Key, op.Value)
		}
	}
}

// Get returns the value visible through this buffer: the overlay's own
// write/delete if present, else base's value.
func (b *Buffer) Get(key []byte) ([]byte, error) {
	b.mu.RLock()
	e, ok := b.ops[string(key)]
	b.mu.RUnlock()
	if ok {
		if e.deleted {
			return nil, ErrNotFound
		}
		return e.value, nil
	}
	if b.base == nil {
		return nil, ErrNotFound
	}
	return b.base.Get(key)
}

// Set records a write in the overlay, visible to subsequent Gets through
// this same buffer even before it is ever flushed to base.
func (b *Buffer) Set(key, value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops[string(key)] = &entry{value: append([]byte{}, value...)}
}

// Delete records a delete (tombstone) in the overlay.
func (b *Buffer) Delete(key []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops[string(key)] = &entry{deleted: true}
}

// Ops returns the overlay's recorded writes and deletes in ascending key
// order, for replay onto base (or translation into kvstore.Op by a caller
// that owns the final C2 batch).
func (b *Buffer) Ops() []Op {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.ops))
	for k := range b.ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Op, len(keys))
	for i, k := range keys {
		e := b.ops[k]
		out[i] = Op{Key: []byte(k), Value: e.value, Delete: e.deleted}
	}
	return out
}

// Len returns the number of keys touched by this buffer's overlay.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ops)
}
