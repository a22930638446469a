package merkle

import "context"

// Prune deletes every node orphaned at or before upTo, and clears the
// consumed orphan records. It is safe to call repeatedly and safe to call
// with an upTo that has already been pruned (a no-op in that case).
func (t *Tree) Prune(ctx context.Context, upTo uint64) error {
	orphans, err := t.backend.OrphansUpTo(ctx, upTo)
	if err != nil {
		return err
	}
	for _, o := range orphans {
		if err := t.backend.DeleteNode(ctx, o.Version, o.Path); err != nil {
			return err
		}
		if err := t.backend.DeleteOrphan(ctx, o); err != nil {
			return err
		}
	}
	return nil
}
