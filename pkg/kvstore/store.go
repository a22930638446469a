package kvstore

import (
	"bytes"
	"context"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/chaincore/pkg/merkle"
)

// Mode selects how the raw state-storage and preimage families retain
// history.
type Mode int

const (
	// Ephemeral keeps only the latest version; each commit overwrites the
	// previous entries and orphaned commitment nodes are pruned eagerly.
	Ephemeral Mode = iota
	// Archival timestamps every storage/preimage entry with its version,
	// so historical reads return the view visible at a given version.
	Archival
)

// Op is one write in a block's batch: either a raw key/value put or a
// delete, alongside the Merkle key_hash/value_hash pair used to update the
// commitment tree in lockstep.
type Op struct {
	Key       []byte
	Value     []byte
	KeyHash   merkle.Hash
	ValueHash merkle.Hash
	Delete    bool
}

// pending is the staged (flushed, not yet committed) result of one batch.
type pending struct {
	batch dbm.Batch
	vNew  uint64
	root  *merkle.Hash
}

// Store is the versioned, dual-tier (commitment + storage) KV store
// described in §4.2, backed by a single cometbft-db handle multiplexed into
// column families by key prefix (see pkg/kvdb for backend selection).
type Store struct {
	db   dbm.DB
	mode Mode

	mu     sync.Mutex
	staged *pending
}

// New constructs a Store over db in the given mode.
func New(db dbm.DB, mode Mode) (*Store, error) {
	s := &Store{db: db, mode: mode}
	if _, err := db.Get(metaKeyLatestVersion); err != nil {
		return nil, err
	}
	return s, nil
}

// LatestVersion returns the highest committed version (0 if none yet).
func (s *Store) LatestVersion() (uint64, error) {
	raw, err := s.db.Get(metaKeyLatestVersion)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	return decodeLE(raw), nil
}

// OldestVersion returns the lowest version not yet pruned.
func (s *Store) OldestVersion() (uint64, error) {
	raw, err := s.db.Get(metaKeyOldestVersion)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	return decodeLE(raw), nil
}

func (s *Store) checkVersion(version uint64) error {
	oldest, err := s.OldestVersion()
	if err != nil {
		return err
	}
	if oldest > 0 && version < oldest {
		return ErrPruned
	}
	return nil
}

// FlushButNotCommit applies batch's raw writes and Merkle ops, computing
// the next root, and stages everything in a pending dbm.Batch — nothing is
// durable until Commit. Only one batch may be staged at a time.
func (s *Store) FlushButNotCommit(ctx context.Context, ops []Op, vNew uint64) (*merkle.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged != nil {
		return nil, ErrPendingDataAlreadySet
	}

	vOld, err := s.LatestVersion()
	if err != nil {
		return nil, err
	}

	batch := s.db.NewBatch()
	backend := &commitmentBackend{db: s.db, writer: batch}
	tree := merkle.New(backend)

	merkleOps := make([]merkle.Op, len(ops))
	for i, op := range ops {
		merkleOps[i] = merkle.Op{KeyHash: op.KeyHash, ValueHash: op.ValueHash, Delete: op.Delete}
	}
	root, err := tree.Apply(ctx, merkleOps, vOld, vNew)
	if err != nil {
		return nil, err
	}

	for _, op := range ops {
		if err := s.stageRawOp(batch, op, vNew); err != nil {
			return nil, err
		}
	}

	if err := batch.Set(metaKeyLatestVersion, encodeLE(vNew)); err != nil {
		return nil, err
	}

	s.staged = &pending{batch: batch, vNew: vNew, root: root}
	return root, nil
}

func (s *Store) stageRawOp(batch dbm.Batch, op Op, vNew uint64) error {
	switch s.mode {
	case Ephemeral:
		skey := storageKeyEphemeral(op.Key)
		if op.Delete {
			return batch.Delete(skey)
		}
		if err := batch.Set(skey, op.Value); err != nil {
			return err
		}
		return batch.Set(preimageKeyEphemeral(op.KeyHash[:]), op.Key)
	default: // Archival
		vkey := versionedKey(prefixStorage, op.Key, vNew)
		if op.Delete {
			return batch.Set(vkey, []byte{tombstoneMarker})
		}
		if err := batch.Set(vkey, append([]byte{valueMarker}, op.Value...)); err != nil {
			return err
		}
		pkey := versionedKey(prefixPreimage, op.KeyHash[:], vNew)
		return batch.Set(pkey, append([]byte{valueMarker}, op.Key...))
	}
}

// Commit atomically persists the staged batch. In ephemeral mode it also
// eagerly prunes the prior version's orphaned commitment nodes.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return ErrNoPendingData
	}
	p := s.staged
	s.staged = nil

	if err := p.batch.WriteSync(); err != nil {
		return err
	}

	if s.mode == Ephemeral {
		backend := &commitmentBackend{db: s.db}
		tree := merkle.New(backend)
		if err := tree.Prune(ctx, p.vNew); err != nil {
			return err
		}
		return s.db.SetSync(metaKeyOldestVersion, encodeLE(p.vNew))
	}
	return nil
}

// Prune eagerly discards Merkle nodes orphaned at or before upTo and
// advances the oldest_version watermark to upTo+1, the lowest version still
// readable. Raw storage/preimage history is trimmed lazily: reads at or
// below upTo simply start failing, matching the "future compactions"
// language of §4.2.
func (s *Store) Prune(ctx context.Context, upTo uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backend := &commitmentBackend{db: s.db}
	tree := merkle.New(backend)
	if err := tree.Prune(ctx, upTo); err != nil {
		return err
	}

	current, err := s.OldestVersion()
	if err != nil {
		return err
	}
	if upTo+1 <= current {
		return nil
	}
	return s.db.SetSync(metaKeyOldestVersion, encodeLE(upTo+1))
}

// Tree returns a read-only merkle.Tree view over committed data, suitable
// for Prove calls against any un-pruned version.
func (s *Store) Tree() *merkle.Tree {
	return merkle.New(&commitmentBackend{db: s.db})
}

// Get reads key as it stood at version (which must be <= latest and
// >= oldest_version).
func (s *Store) Get(ctx context.Context, key []byte, version uint64) ([]byte, error) {
	if err := s.checkVersion(version); err != nil {
		return nil, err
	}
	if s.mode == Ephemeral {
		v, err := s.db.Get(storageKeyEphemeral(key))
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, ErrKeyNotFound
		}
		return v, nil
	}
	return s.getArchival(prefixStorage, key, version)
}

// getArchival scans a versioned key's group (newest-first, by construction
// of versionedKey) for the newest entry at or before version.
func (s *Store) getArchival(prefix, key []byte, version uint64) ([]byte, error) {
	start := versionedKey(prefix, key, ^uint64(0))
	end := versionedKey(prefix, key, 0)
	end = append(end, 0x00) // end-exclusive bound past the largest possible suffix
	it, err := s.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		rawKey, v, ok := splitVersionedKey(prefix, it.Key())
		if !ok || !bytes.Equal(rawKey, key) || v > version {
			continue
		}
		value := it.Value()
		if len(value) == 0 || value[0] == tombstoneMarker {
			return nil, ErrKeyNotFound
		}
		return append([]byte{}, value[1:]...), nil
	}
	return nil, ErrKeyNotFound
}

// ResolveKey looks up the preimage of a key_hash (used to build proofs
// alongside the commitment tree).
func (s *Store) ResolveKey(ctx context.Context, keyHash merkle.Hash, version uint64) ([]byte, error) {
	if err := s.checkVersion(version); err != nil {
		return nil, err
	}
	if s.mode == Ephemeral {
		v, err := s.db.Get(preimageKeyEphemeral(keyHash[:]))
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, ErrKeyNotFound
		}
		return v, nil
	}
	return s.getArchival(prefixPreimage, keyHash[:], version)
}
