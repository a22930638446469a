package merkle

import "context"

// SiblingHash is one step of a Merkle path: the hash of the node NOT on the
// path to the target key, paired with which side it sits on.
type SiblingHash struct {
	Hash Hash
	// Left is true if this sibling is the left child (the path descended
	// right at this level); false if it is the right child.
	Left bool
}

// MembershipProof certifies that KeyHash maps to ValueHash at the version
// the proof was generated against.
type MembershipProof struct {
	KeyHash   Hash
	ValueHash Hash
	Siblings  []SiblingHash // root-to-leaf order
}

// NonMembershipProof certifies that KeyHash is absent, by exhibiting the
// leaf the search path actually terminated at (whose key differs) together
// with the siblings leading to it. A nil NeighborKey means the search path
// ended at an empty child slot instead of a leaf.
type NonMembershipProof struct {
	KeyHash       Hash
	NeighborKey   *Hash
	NeighborValue *Hash
	Siblings      []SiblingHash
}

// Proof is either a MembershipProof or a NonMembershipProof for one key.
type Proof struct {
	Membership    *MembershipProof
	NonMembership *NonMembershipProof
}

// Prove walks the tree at version for keyHash, returning a membership proof
// if the key is present or a non-membership proof otherwise. It fails with
// ErrDataNotFound when the tree is empty at version.
func (t *Tree) Prove(ctx context.Context, keyHash Hash, version uint64) (*Proof, error) {
	root, err := t.backend.GetNode(ctx, version, "")
	if err != nil {
		if err == ErrNodeNotFound {
			return nil, ErrDataNotFound
		}
		return nil, err
	}

	var siblings []SiblingHash
	path := BitPath("")
	n := root
	for n.Kind == InternalNode {
		bit := Bit(keyHash, len(path))
		var next *Child
		var sib *Child
		if bit == 0 {
			next, sib = n.Left, n.Right
		} else {
			next, sib = n.Right, n.Left
		}
		if sib != nil {
			siblings = append(siblings, SiblingHash{Hash: sib.Hash, Left: bit != 0})
		} else {
			siblings = append(siblings, SiblingHash{Hash: ZeroHash, Left: bit != 0})
		}
		if next == nil {
			return &Proof{NonMembership: &NonMembershipProof{KeyHash: keyHash, Siblings: siblings}}, nil
		}
		child, err := t.backend.GetNode(ctx, next.Version, path.child(bit))
		if err != nil {
			return nil, err
		}
		path = path.child(bit)
		n = child
	}

	if n.KeyHash == keyHash {
		return &Proof{Membership: &MembershipProof{KeyHash: keyHash, ValueHash: n.ValueHash, Siblings: siblings}}, nil
	}
	neighborKey, neighborValue := n.KeyHash, n.ValueHash
	return &Proof{NonMembership: &NonMembershipProof{
		KeyHash: keyHash, NeighborKey: &neighborKey, NeighborValue: &neighborValue, Siblings: siblings,
	}}, nil
}

// Verify recomputes the root hash implied by p and compares it to root.
// Verification never touches a Backend: it is meant to run against a proof
// received from an untrusted peer.
func Verify(root Hash, keyHash Hash, p *Proof) bool {
	if p == nil {
		return false
	}
	if p.Membership != nil {
		if p.Membership.KeyHash != keyHash {
			return false
		}
		h := hashLeaf(p.Membership.KeyHash, p.Membership.ValueHash)
		return fold(h, p.Membership.Siblings) == root
	}
	if p.NonMembership != nil {
		if p.NonMembership.KeyHash != keyHash {
			return false
		}
		if p.NonMembership.NeighborKey == nil && len(p.NonMembership.Siblings) == 0 {
			return root == ZeroHash
		}
		var h Hash
		if p.NonMembership.NeighborKey != nil {
			if p.NonMembership.NeighborValue == nil || *p.NonMembership.NeighborKey == keyHash {
				return false
			}
			h = hashLeaf(*p.NonMembership.NeighborKey, *p.NonMembership.NeighborValue)
		} else {
			h = ZeroHash
		}
		return fold(h, p.NonMembership.Siblings) == root
	}
	return false
}

func fold(h Hash, siblings []SiblingHash) Hash {
	for i := len(siblings) - 1; i >= 0; i-- {
		s := siblings[i]
		if s.Left {
			h = hashInternal(s.Hash, h)
		} else {
			h = hashInternal(h, s.Hash)
		}
	}
	return h
}
