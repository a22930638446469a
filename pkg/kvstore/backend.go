package kvstore

import (
	"context"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/chaincore/pkg/merkle"
)

// commitmentBackend adapts a dbm.DB (and, during a staged batch, a pending
// dbm.Batch) to merkle.Backend. Reads always go to the underlying db, since
// the tree only ever asks for nodes at already-committed versions; writes go
// to writer, which is either the db itself (eager, ephemeral pruning path)
// or a pending batch awaiting Commit.
type commitmentBackend struct {
	db     dbm.DB
	writer dbm.Batch // if nil, writes go directly to db
}

func (b *commitmentBackend) set(key, value []byte) error {
	if b.writer != nil {
		return b.writer.Set(key, value)
	}
	return b.db.Set(key, value)
}

func (b *commitmentBackend) del(key []byte) error {
	if b.writer != nil {
		return b.writer.Delete(key)
	}
	return b.db.Delete(key)
}

func (b *commitmentBackend) GetNode(_ context.Context, version uint64, path merkle.BitPath) (*merkle.Node, error) {
	raw, err := b.db.Get(commitmentKey(version, []byte(path)))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, merkle.ErrNodeNotFound
	}
	return decodeNode(raw)
}

func (b *commitmentBackend) PutNode(_ context.Context, version uint64, path merkle.BitPath, n *merkle.Node) error {
	return b.set(commitmentKey(version, []byte(path)), encodeNode(n))
}

func (b *commitmentBackend) DeleteNode(_ context.Context, version uint64, path merkle.BitPath) error {
	return b.del(commitmentKey(version, []byte(path)))
}

func (b *commitmentBackend) PutOrphan(_ context.Context, o merkle.Orphan) error {
	return b.set(orphanKey(o.OrphanedSince, o.Version, []byte(o.Path)), []byte{1})
}

func (b *commitmentBackend) DeleteOrphan(_ context.Context, o merkle.Orphan) error {
	return b.del(orphanKey(o.OrphanedSince, o.Version, []byte(o.Path)))
}

func (b *commitmentBackend) OrphansUpTo(_ context.Context, cutoff uint64) ([]merkle.Orphan, error) {
	it, err := b.db.Iterator(prefixOrphan, append(append([]byte{}, prefixOrphan...), 0xFF))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []merkle.Orphan
	for ; it.Valid(); it.Next() {
		k := it.Key()
		rest := k[len(prefixOrphan):]
		if len(rest) < 16 {
			continue
		}
		orphanedSince := decodeBE(rest[:8])
		if orphanedSince > cutoff {
			continue
		}
		version := decodeBE(rest[8:16])
		path := merkle.BitPath(rest[16:])
		out = append(out, merkle.Orphan{OrphanedSince: orphanedSince, Version: version, Path: path})
	}
	return out, it.Error()
}

// encodeNode serializes a Merkle node compactly: a kind byte, then either
// the leaf's key/value hashes or each present child's version and hash.
func encodeNode(n *merkle.Node) []byte {
	if n.Kind == merkle.LeafNode {
		out := make([]byte, 0, 65)
		out = append(out, 0)
		out = append(out, n.KeyHash[:]...)
		out = append(out, n.ValueHash[:]...)
		return out
	}
	out := make([]byte, 0, 82)
	out = append(out, 1)
	out = appendChild(out, n.Left)
	out = appendChild(out, n.Right)
	return out
}

func appendChild(out []byte, c *merkle.Child) []byte {
	if c == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	out = append(out, encodeBE(c.Version)...)
	out = append(out, c.Hash[:]...)
	return out
}

func decodeNode(raw []byte) (*merkle.Node, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("kvstore: truncated node record")
	}
	switch raw[0] {
	case 0:
		if len(raw) != 65 {
			return nil, fmt.Errorf("kvstore: malformed leaf node record")
		}
		n := &merkle.Node{Kind: merkle.LeafNode}
		copy(n.KeyHash[:], raw[1:33])
		copy(n.ValueHash[:], raw[33:65])
		return n, nil
	case 1:
		n := &merkle.Node{Kind: merkle.InternalNode}
		rest := raw[1:]
		left, rest, err := readChild(rest)
		if err != nil {
			return nil, err
		}
		right, _, err := readChild(rest)
		if err != nil {
			return nil, err
		}
		n.Left, n.Right = left, right
		return n, nil
	default:
		return nil, fmt.Errorf("kvstore: unknown node kind byte %d", raw[0])
	}
}

func readChild(raw []byte) (*merkle.Child, []byte, error) {
	if len(raw) < 1 {
		return nil, nil, fmt.Errorf("kvstore: truncated child record")
	}
	if raw[0] == 0 {
		return nil, raw[1:], nil
	}
	if len(raw) < 41 {
		return nil, nil, fmt.Errorf("kvstore: malformed child record")
	}
	c := &merkle.Child{Version: decodeBE(raw[1:9])}
	copy(c.Hash[:], raw[9:41])
	return c, raw[41:], nil
}
