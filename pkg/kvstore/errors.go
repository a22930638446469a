package kvstore

import "errors"

var (
	// ErrPendingDataAlreadySet is returned by FlushButNotCommit when a
	// previous batch has not yet been committed.
	ErrPendingDataAlreadySet = errors.New("kvstore: pending data already set")
	// ErrNoPendingData is returned by Commit when no batch is staged.
	ErrNoPendingData = errors.New("kvstore: no pending data to commit")
	// ErrPruned is returned by versioned reads below oldest_version, that
	// is, at or below the last version passed to Prune.
	ErrPruned = errors.New("kvstore: requested version has been pruned")
	// ErrKeyNotFound is returned by Get when the key is absent at the
	// requested version.
	ErrKeyNotFound = errors.New("kvstore: key not found")
)
