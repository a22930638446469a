package merkle

import (
	"context"
	"errors"
)

// ErrNodeNotFound is returned by Backend.GetNode when no node is stored at
// the given (version, path).
var ErrNodeNotFound = errors.New("merkle: node not found")

// ErrDataNotFound is returned by Prove when the tree is empty at the
// requested version.
var ErrDataNotFound = errors.New("merkle: data not found")

// Orphan records that the node at (Version, Path) was superseded as of
// OrphanedSince, per §3.3.
type Orphan struct {
	OrphanedSince uint64
	Version       uint64
	Path          BitPath
}

// Backend is the storage abstraction the tree is built over. A production
// implementation lives in pkg/kvstore (the state-commitment column
// family); tests use the in-memory MemBackend below.
type Backend interface {
	GetNode(ctx context.Context, version uint64, path BitPath) (*Node, error)
	PutNode(ctx context.Context, version uint64, path BitPath, n *Node) error
	PutOrphan(ctx context.Context, o Orphan) error
	// OrphansUpTo returns every orphan record with OrphanedSince <= cutoff.
	OrphansUpTo(ctx context.Context, cutoff uint64) ([]Orphan, error)
	DeleteNode(ctx context.Context, version uint64, path BitPath) error
	DeleteOrphan(ctx context.Context, o Orphan) error
}

// Op is one write in a batch passed to Apply: a key-hash/value-hash pair to
// insert, or a key-hash to delete.
type Op struct {
	KeyHash   Hash
	ValueHash Hash
	Delete    bool
}
