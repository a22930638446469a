package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// memStore is a trivial ReadableStore backed by a map, used only to
// exercise Buffer's merge logic against a known base.
type memStore struct {
	data map[string][]byte
}

func newMemStore(pairs ...[2]string) *memStore {
	m := &memStore{data: make(map[string][]byte)}
	for _, p := range pairs {
		m.data[p[0]] = []byte(p[1])
	}
	return m
}

func (m *memStore) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memStore) Iterator(start, end []byte, reverse bool) (Iterator, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if !inRange([]byte(k), start, end) {
			continue
		}
		keys = append(keys, k)
	}
	sortStrings(keys)
	if reverse {
		reverseStrings(keys)
	}
	return &sliceIterator{store: m, keys: keys}, nil
}

type sliceIterator struct {
	store *memStore
	keys  []string
	pos   int
}

func (it *sliceIterator) Valid() bool   { return it.pos < len(it.keys) }
func (it *sliceIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *sliceIterator) Value() []byte { return it.store.data[it.keys[it.pos]] }
func (it *sliceIterator) Next()         { it.pos++ }
func (it *sliceIterator) Close() error  { return nil }

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func TestGetPrefersOverlayOverBase(t *testing.T) {
	base := newMemStore([2]string{"a", "base-a"}, [2]string{"b", "base-b"})
	buf := New(base)
	buf.Set([]byte("a"), []byte("overlay-a"))

	v, err := buf.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "overlay-a", string(v))

	v, err = buf.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "base-b", string(v))
}

func TestGetDeleteShadowsBase(t *testing.T) {
	base := newMemStore([2]string{"a", "base-a"})
	buf := New(base)
	buf.Delete([]byte("a"))

	_, err := buf.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissingFromBothReturnsNotFound(t *testing.T) {
	buf := New(nil)
	_, err := buf.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChildBufferDiscardLeavesParentUntouched(t *testing.T) {
	base := newMemStore([2]string{"a", "base-a"})
	parent := New(base)
	parent.Set([]byte("p"), []byte("parent-write"))

	child := parent.NewChild()
	child.Set([]byte("c"), []byte("child-write"))
	child.Delete([]byte("p"))

	// Child sees its own writes layered over the parent.
	v, err := child.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, "child-write", string(v))
	_, err = child.Get([]byte("p"))
	require.ErrorIs(t, err, ErrNotFound)

	// Dropping the child (simply not using it again) never touched parent.
	v, err = parent.Get([]byte("p"))
	require.NoError(t, err)
	require.Equal(t, "parent-write", string(v))
	_, err = parent.Get([]byte("c"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpsReturnsSortedDedupedWrites(t *testing.T) {
	buf := New(nil)
	buf.Set([]byte("b"), []byte("2"))
	buf.Set([]byte("a"), []byte("1"))
	buf.Delete([]byte("c"))
	buf.Set([]byte("a"), []byte("1-overwritten"))

	ops := buf.Ops()
	require.Len(t, ops, 3)
	require.Equal(t, "a", string(ops[0].Key))
	require.Equal(t, "1-overwritten", string(ops[0].Value))
	require.Equal(t, "b", string(ops[1].Key))
	require.Equal(t, "c", string(ops[2].Key))
	require.True(t, ops[2].Delete)
	require.Equal(t, 3, buf.Len())
}

func TestIteratorMergesOverlayAndBaseWithShadowing(t *testing.T) {
	base := newMemStore(
		[2]string{"a", "base-a"},
		[2]string{"b", "base-b"},
		[2]string{"d", "base-d"},
	)
	buf := New(base)
	buf.Set([]byte("b"), []byte("overlay-b")) // shadows base
	buf.Set([]byte("c"), []byte("overlay-c")) // new key, interleaves
	buf.Delete([]byte("d"))                   // suppresses base

	it, err := buf.Iterator(nil, nil, false)
	require.NoError(t, err)
	defer it.Close()

	var got [][2]string
	for ; it.Valid(); it.Next() {
		got = append(got, [2]string{string(it.Key()), string(it.Value())})
	}

	require.Equal(t, [][2]string{
		{"a", "base-a"},
		{"b", "overlay-b"},
		{"c", "overlay-c"},
	}, got)
}

func TestIteratorReverseOrder(t *testing.T) {
	base := newMemStore([2]string{"a", "1"}, [2]string{"c", "3"})
	buf := New(base)
	buf.Set([]byte("b"), []byte("2"))

	it, err := buf.Iterator(nil, nil, true)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"c", "b", "a"}, keys)
}

func TestIteratorRespectsBounds(t *testing.T) {
	base := newMemStore([2]string{"a", "1"}, [2]string{"b", "2"}, [2]string{"c", "3"})
	buf := New(base)
	buf.Set([]byte("z"), []byte("should-not-appear"))

	it, err := buf.Iterator([]byte("a"), []byte("c"), false)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestIteratorOverNestedBuffer(t *testing.T) {
	base := newMemStore([2]string{"a", "base-a"}, [2]string{"b", "base-b"})
	parent := New(base)
	parent.Set([]byte("b"), []byte("parent-b"))

	child := parent.NewChild()
	child.Delete([]byte("a"))
	child.Set([]byte("c"), []byte("child-c"))

	it, err := child.Iterator(nil, nil, false)
	require.NoError(t, err)
	defer it.Close()

	var got [][2]string
	for ; it.Valid(); it.Next() {
		got = append(got, [2]string{string(it.Key()), string(it.Value())})
	}
	require.Equal(t, [][2]string{
		{"b", "parent-b"},
		{"c", "child-c"},
	}, got)
}
