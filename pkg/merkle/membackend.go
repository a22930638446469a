package merkle

import (
	"context"
	"sync"
)

type nodeKey struct {
	version uint64
	path    BitPath
}

// MemBackend is an in-memory Backend implementation used by tests and by
// callers that only need an ephemeral tree (no persistence).
type MemBackend struct {
	mu      sync.RWMutex
	nodes   map[nodeKey]*Node
	orphans map[Orphan]struct{}
}

// NewMemBackend constructs an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		nodes:   make(map[nodeKey]*Node),
		orphans: make(map[Orphan]struct{}),
	}
}

// GetNode implements Backend.
func (m *MemBackend) GetNode(_ context.Context, version uint64, path BitPath) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[nodeKey{version, path}]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// PutNode implements Backend.
func (m *MemBackend) PutNode(_ context.Context, version uint64, path BitPath, n *Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[nodeKey{version, path}] = n
	return nil
}

// DeleteNode implements Backend.
func (m *MemBackend) DeleteNode(_ context.Context, version uint64, path BitPath) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, nodeKey{version, path})
	return nil
}

// PutOrphan implements Backend.
func (m *MemBackend) PutOrphan(_ context.Context, o Orphan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphans[o] = struct{}{}
	return nil
}

// DeleteOrphan implements Backend.
func (m *MemBackend) DeleteOrphan(_ context.Context, o Orphan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orphans, o)
	return nil
}

// OrphansUpTo implements Backend.
func (m *MemBackend) OrphansUpTo(_ context.Context, cutoff uint64) ([]Orphan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Orphan
	for o := range m.orphans {
		if o.OrphanedSince <= cutoff {
			out = append(out, o)
		}
	}
	return out, nil
}

// NodeCount returns the number of nodes currently stored, for tests that
// assert on write counts (e.g. the no-op-batch scenario).
func (m *MemBackend) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// OrphanCount returns the number of orphan records currently stored.
func (m *MemBackend) OrphanCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orphans)
}
