package sandbox

import "errors"

var (
	// ErrReadOnly is returned by db_write, db_remove, and db_remove_range
	// when the sandbox was configured with Mutable=false.
	ErrReadOnly = errors.New("sandbox: state is read-only")
	// ErrUnknownIterator is returned by db_next/db_next_key/db_next_value
	// when the iterator ID was never issued or was invalidated by a write.
	ErrUnknownIterator = errors.New("sandbox: unknown or invalidated iterator")
	// ErrQueryDepthExceeded is returned by QueryChain when recursing past
	// MaxQueryDepth.
	ErrQueryDepthExceeded = errors.New("sandbox: query recursion depth exceeded")
)
