package merkle

import (
	"bytes"
	"context"
	"fmt"
	"sort"
)

// ErrInvalidVersion is a programmer error: versions passed to Apply must be
// strictly incremental, or both zero at genesis.
var ErrInvalidVersion = fmt.Errorf("merkle: invalid version sequence")

// Tree is a binary Jellyfish Merkle Tree over a pluggable Backend.
type Tree struct {
	backend Backend
}

// New constructs a Tree over the given backend.
func New(backend Backend) *Tree { return &Tree{backend: backend} }

// RootHash returns the root hash at version, or nil if that version has
// never been written (or wrote an empty tree).
func (t *Tree) RootHash(ctx context.Context, version uint64) (*Hash, error) {
	n, err := t.backend.GetNode(ctx, version, "")
	if err == ErrNodeNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h := n.Hash()
	return &h, nil
}

// applyResult is the outcome of resolving one subtree's recursion: either
// it stayed exactly as it was (dirty=false), or it changed (dirty=true),
// possibly becoming empty.
type applyResult struct {
	dirty bool
	empty bool
	hash  Hash  // valid when !empty
	node  *Node // valid when dirty && !empty: in-memory content, not yet persisted
}

// Apply applies batch at version vNew given the tree rooted at vOld, and
// returns the new root hash (nil if the tree is empty after application).
// Versions must be strictly incremental, or both zero at genesis.
func (t *Tree) Apply(ctx context.Context, batch []Op, vOld, vNew uint64) (*Hash, error) {
	if !(vNew > vOld || (vOld == 0 && vNew == 0)) {
		return nil, ErrInvalidVersion
	}

	sorted := make([]Op, len(batch))
	copy(sorted, batch)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].KeyHash[:], sorted[j].KeyHash[:]) < 0
	})

	var existingRoot *Child
	oldRootNode, err := t.backend.GetNode(ctx, vOld, "")
	if err == nil {
		h := oldRootNode.Hash()
		existingRoot = &Child{Version: vOld, Hash: h}
	} else if err != ErrNodeNotFound {
		return nil, err
	}

	res, err := t.recurse(ctx, vNew, "", existingRoot, sorted)
	if err != nil {
		return nil, err
	}

	// The root is always orphaned and always (re)written if non-empty,
	// regardless of whether its content actually changed (S4).
	if existingRoot != nil {
		if err := t.backend.PutOrphan(ctx, Orphan{OrphanedSince: vNew, Version: existingRoot.Version, Path: ""}); err != nil {
			return nil, err
		}
	}

	if res.empty {
		return nil, nil
	}

	var rootNode *Node
	if res.dirty {
		rootNode = res.node
	} else {
		// Unchanged content: re-read the old root so it can be rewritten
		// at vNew (the root is always written, see above).
		rootNode = oldRootNode
	}
	if err := t.backend.PutNode(ctx, vNew, "", rootNode); err != nil {
		return nil, err
	}
	h := rootNode.Hash()
	return &h, nil
}

// recurse resolves the subtree at path given its prior content (existing,
// nil if absent) and the ops routed to it.
func (t *Tree) recurse(ctx context.Context, vNew uint64, path BitPath, existing *Child, ops []Op) (applyResult, error) {
	if len(ops) == 0 {
		if existing == nil {
			return applyResult{empty: true}, nil
		}
		return applyResult{hash: existing.Hash}, nil
	}

	if existing == nil {
		var puts []Op
		for _, o := range ops {
			if !o.Delete {
				puts = append(puts, o)
			}
		}
		if len(puts) == 0 {
			return applyResult{empty: true}, nil
		}
		n, err := t.buildFresh(ctx, vNew, path, puts)
		if err != nil {
			return applyResult{}, err
		}
		if n == nil {
			return applyResult{empty: true}, nil
		}
		return applyResult{dirty: true, node: n, hash: n.Hash()}, nil
	}

	node, err := t.backend.GetNode(ctx, existing.Version, path)
	if err != nil {
		return applyResult{}, err
	}

	if node.Kind == LeafNode {
		return t.recurseLeaf(ctx, vNew, path, node, ops)
	}
	return t.recurseInternal(ctx, vNew, path, node, ops)
}

func (t *Tree) recurseLeaf(ctx context.Context, vNew uint64, path BitPath, leaf *Node, ops []Op) (applyResult, error) {
	var matched *Op
	var other []Op
	for i := range ops {
		if ops[i].KeyHash == leaf.KeyHash {
			matched = &ops[i]
		} else {
			other = append(other, ops[i])
		}
	}

	afterLeaf := leaf
	leafChanged := false
	if matched != nil {
		if matched.Delete {
			afterLeaf = nil
			leafChanged = true
		} else if matched.ValueHash != leaf.ValueHash {
			afterLeaf = &Node{Kind: LeafNode, KeyHash: leaf.KeyHash, ValueHash: matched.ValueHash}
			leafChanged = true
		}
	}

	if len(other) == 0 {
		if !leafChanged {
			return applyResult{hash: leaf.Hash()}, nil
		}
		if afterLeaf == nil {
			return applyResult{dirty: true, empty: true}, nil
		}
		return applyResult{dirty: true, node: afterLeaf, hash: afterLeaf.Hash()}, nil
	}

	var puts []Op
	for _, o := range other {
		if !o.Delete {
			puts = append(puts, o)
		}
	}
	if afterLeaf != nil {
		puts = append(puts, Op{KeyHash: afterLeaf.KeyHash, ValueHash: afterLeaf.ValueHash})
	}
	if !leafChanged && len(puts) == 1 && afterLeaf == leaf {
		// Every "other" op was a no-op delete of a non-existent key; the
		// leaf itself is unchanged.
		return applyResult{hash: leaf.Hash()}, nil
	}

	n, err := t.buildFresh(ctx, vNew, path, puts)
	if err != nil {
		return applyResult{}, err
	}
	if n == nil {
		return applyResult{dirty: true, empty: true}, nil
	}
	return applyResult{dirty: true, node: n, hash: n.Hash()}, nil
}

func (t *Tree) recurseInternal(ctx context.Context, vNew uint64, path BitPath, n *Node, ops []Op) (applyResult, error) {
	bitIdx := len(path)
	var leftOps, rightOps []Op
	for _, o := range ops {
		if Bit(o.KeyHash, bitIdx) == 0 {
			leftOps = append(leftOps, o)
		} else {
			rightOps = append(rightOps, o)
		}
	}

	leftRes, err := t.recurse(ctx, vNew, path.child(0), n.Left, leftOps)
	if err != nil {
		return applyResult{}, err
	}
	rightRes, err := t.recurse(ctx, vNew, path.child(1), n.Right, rightOps)
	if err != nil {
		return applyResult{}, err
	}

	if !leftRes.dirty && !rightRes.dirty {
		return applyResult{hash: n.Hash()}, nil
	}

	if leftRes.dirty && n.Left != nil {
		if err := t.backend.PutOrphan(ctx, Orphan{OrphanedSince: vNew, Version: n.Left.Version, Path: path.child(0)}); err != nil {
			return applyResult{}, err
		}
	}
	if rightRes.dirty && n.Right != nil {
		if err := t.backend.PutOrphan(ctx, Orphan{OrphanedSince: vNew, Version: n.Right.Version, Path: path.child(1)}); err != nil {
			return applyResult{}, err
		}
	}

	if leftRes.empty && rightRes.empty {
		return applyResult{dirty: true, empty: true}, nil
	}

	if leftRes.empty != rightRes.empty {
		var side applyResult
		var sideChild *Child
		var sidePath BitPath
		if !leftRes.empty {
			side, sideChild, sidePath = leftRes, n.Left, path.child(0)
		} else {
			side, sideChild, sidePath = rightRes, n.Right, path.child(1)
		}
		var sideNode *Node
		if side.dirty {
			sideNode = side.node
		} else {
			sideNode, err = t.backend.GetNode(ctx, sideChild.Version, sidePath)
			if err != nil {
				return applyResult{}, err
			}
		}
		if sideNode.Kind == LeafNode {
			// Path collapse: lift the surviving leaf to this position.
			return applyResult{dirty: true, node: sideNode, hash: sideNode.Hash()}, nil
		}
		// Keep an asymmetric internal node; persist the retained child now
		// since it will never be lifted further (only leaves collapse).
		newInternal := &Node{Kind: InternalNode}
		if !leftRes.empty {
			newInternal.Left = finalizeChild(ctx, t, vNew, sidePath, side, sideChild)
		} else {
			newInternal.Right = finalizeChild(ctx, t, vNew, sidePath, side, sideChild)
		}
		if err := t.backend.PutNode(ctx, vNew, path, newInternal); err != nil {
			return applyResult{}, err
		}
		return applyResult{dirty: true, node: newInternal, hash: newInternal.Hash()}, nil
	}

	// Both sides populated.
	newInternal := &Node{
		Kind:  InternalNode,
		Left:  finalizeChild(ctx, t, vNew, path.child(0), leftRes, n.Left),
		Right: finalizeChild(ctx, t, vNew, path.child(1), rightRes, n.Right),
	}
	if err := t.backend.PutNode(ctx, vNew, path, newInternal); err != nil {
		return applyResult{}, err
	}
	return applyResult{dirty: true, node: newInternal, hash: newInternal.Hash()}, nil
}

// finalizeChild embeds a resolved child inside a newly built Internal node:
// if the child changed, its (possibly leaf) content is persisted at its
// final path now; if unchanged, the prior Child pointer is reused.
func finalizeChild(ctx context.Context, t *Tree, vNew uint64, path BitPath, res applyResult, old *Child) *Child {
	if !res.dirty {
		return old
	}
	if res.node != nil {
		_ = t.backend.PutNode(ctx, vNew, path, res.node)
	}
	return &Child{Version: vNew, Hash: res.hash}
}

// buildFresh constructs a brand-new subtree at path from puts only (no
// prior content), collapsing singleton-leaf chains as it goes. Like
// recurseInternal, any Internal result it decides on is final (only leaves
// are ever lifted further by a caller) and is persisted immediately; a Leaf
// result is left unpersisted, deferred to whichever caller ultimately
// embeds it via finalizeChild or Apply's root handling.
func (t *Tree) buildFresh(ctx context.Context, vNew uint64, path BitPath, puts []Op) (*Node, error) {
	if len(puts) == 0 {
		return nil, nil
	}
	if len(puts) == 1 {
		return &Node{Kind: LeafNode, KeyHash: puts[0].KeyHash, ValueHash: puts[0].ValueHash}, nil
	}
	bitIdx := len(path)
	var left, right []Op
	for _, p := range puts {
		if Bit(p.KeyHash, bitIdx) == 0 {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	leftNode, err := t.buildFresh(ctx, vNew, path.child(0), left)
	if err != nil {
		return nil, err
	}
	rightNode, err := t.buildFresh(ctx, vNew, path.child(1), right)
	if err != nil {
		return nil, err
	}
	switch {
	case leftNode == nil && rightNode == nil:
		return nil, nil
	case leftNode != nil && rightNode == nil:
		if leftNode.Kind == LeafNode {
			return leftNode, nil
		}
		result := &Node{Kind: InternalNode, Left: &Child{Version: vNew, Hash: leftNode.Hash()}}
		if err := t.backend.PutNode(ctx, vNew, path, result); err != nil {
			return nil, err
		}
		return result, nil
	case leftNode == nil && rightNode != nil:
		if rightNode.Kind == LeafNode {
			return rightNode, nil
		}
		result := &Node{Kind: InternalNode, Right: &Child{Version: vNew, Hash: rightNode.Hash()}}
		if err := t.backend.PutNode(ctx, vNew, path, result); err != nil {
			return nil, err
		}
		return result, nil
	default:
		// Both sides populated: neither can be lifted further, so any
		// leaf result here (a singleton put that hasn't been persisted
		// yet) must be written now, same as finalizeChild does.
		if leftNode.Kind == LeafNode {
			if err := t.backend.PutNode(ctx, vNew, path.child(0), leftNode); err != nil {
				return nil, err
			}
		}
		if rightNode.Kind == LeafNode {
			if err := t.backend.PutNode(ctx, vNew, path.child(1), rightNode); err != nil {
				return nil, err
			}
		}
		result := &Node{
			Kind:  InternalNode,
			Left:  &Child{Version: vNew, Hash: leftNode.Hash()},
			Right: &Child{Version: vNew, Hash: rightNode.Hash()},
		}
		if err := t.backend.PutNode(ctx, vNew, path, result); err != nil {
			return nil, err
		}
		return result, nil
	}
}
