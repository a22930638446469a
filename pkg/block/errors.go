package block

import "errors"

var (
	// ErrGenesisHeightNotZero is returned by InitChain when the supplied
	// block height is not 0 (§4.8).
	ErrGenesisHeightNotZero = errors.New("block: init_chain requires height 0")
	// ErrGenesisMessageFailed aborts the whole genesis when any genesis
	// message fails.
	ErrGenesisMessageFailed = errors.New("block: genesis message failed")
	// ErrHeightMismatch is returned by FinalizeBlock when the new height
	// is not exactly one more than the previous finalized height.
	ErrHeightMismatch = errors.New("block: finalize_block height is not previous height + 1")
	// ErrAlreadyInitialized is returned by InitChain when the chain has
	// already finalized a block.
	ErrAlreadyInitialized = errors.New("block: chain already initialized")
	// ErrNotInitialized is returned by FinalizeBlock before InitChain has
	// ever run.
	ErrNotInitialized = errors.New("block: chain has not been initialized")
	// ErrVersionTooNew is returned by QueryStore when the requested height
	// is above the latest committed version.
	ErrVersionTooNew = errors.New("block: requested height has not been committed")
)
