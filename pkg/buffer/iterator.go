package buffer

import (
	"bytes"
	"sort"
)

// Iterator implements ReadableStore, merging base's iterator with this
// buffer's overlay: an overlay write shadows the same key from base, an
// overlay delete suppresses it, and ordering is preserved in either
// direction.
func (b *Buffer) Iterator(start, end []byte, reverse bool) (Iterator, error) {
	b.mu.RLock()
	snapshot := make(map[string]*entry, len(b.ops))
	keys := make([]string, 0, len(b.ops))
	for k, e := range b.ops {
		if !inRange([]byte(k), start, end) {
			continue
		}
		snapshot[k] = e
		keys = append(keys, k)
	}
	b.mu.RUnlock()
	sort.Strings(keys)

	var baseIt Iterator
	var err error
	if b.base != nil {
		baseIt, err = b.base.Iterator(start, end, reverse)
		if err != nil {
			return nil, err
		}
	}

	idx := 0
	if reverse {
		idx = len(keys) - 1
	}
	it := &mergeIterator{
		reverse: reverse,
		base:    baseIt,
		keys:    keys,
		idx:     idx,
		overlay: snapshot,
	}
	it.advance()
	return it, nil
}

func inRange(key, start, end []byte) bool {
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}

type mergeIterator struct {
	reverse bool
	base    Iterator
	keys    []string
	idx     int
	overlay map[string]*entry

	key, val []byte
	valid    bool
}

func (it *mergeIterator) overlayValid() bool {
	return it.idx >= 0 && it.idx < len(it.keys)
}

func (it *mergeIterator) baseValid() bool {
	return it.base != nil && it.base.Valid()
}

func (it *mergeIterator) stepOverlay() {
	if it.reverse {
		it.idx--
	} else {
		it.idx++
	}
}

// advance positions the iterator at the next (or, in reverse, previous)
// emittable entry, skipping overlay tombstones and base entries shadowed
// by an overlay write.
func (it *mergeIterator) advance() {
	for {
		baseOK, overlayOK := it.baseValid(), it.overlayValid()
		if !baseOK && !overlayOK {
			it.valid = false
			return
		}

		if baseOK && overlayOK {
			baseKey := it.base.Key()
			overlayKey := []byte(it.keys[it.idx])
			cmp := bytes.Compare(baseKey, overlayKey)
			switch {
			case (!it.reverse && cmp < 0) || (it.reverse && cmp > 0):
				it.emitBase()
				return
			case cmp == 0:
				it.base.Next() // overlay shadows base at this key
				if it.emitOverlayOrSkip() {
					return
				}
				continue
			default:
				if it.emitOverlayOrSkip() {
					return
				}
				continue
			}
		}

		if baseOK {
			it.emitBase()
			return
		}
		if it.emitOverlayOrSkip() {
			return
		}
	}
}

func (it *mergeIterator) emitBase() {
	it.key = append([]byte{}, it.base.Key()...)
	it.val = append([]byte{}, it.base.Value()...)
	it.valid = true
	it.base.Next()
}

// emitOverlayOrSkip consumes the current overlay entry; if it is a
// tombstone it advances past it and returns false (caller should loop
// again), otherwise it emits the value and returns true.
func (it *mergeIterator) emitOverlayOrSkip() bool {
	k := it.keys[it.idx]
	e := it.overlay[k]
	it.stepOverlay()
	if e.deleted {
		return false
	}
	it.key = []byte(k)
	it.val = e.value
	it.valid = true
	return true
}

func (it *mergeIterator) Valid() bool   { return it.valid }
func (it *mergeIterator) Key() []byte   { return it.key }
func (it *mergeIterator) Value() []byte { return it.val }
func (it *mergeIterator) Next()         { it.advance() }
func (it *mergeIterator) Close() error {
	if it.base != nil {
		return it.base.Close()
	}
	return nil
}
