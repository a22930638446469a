package dispatch

import "errors"

var (
	ErrConfigNotFound      = errors.New("dispatch: config not found")
	ErrCodeNotFound        = errors.New("dispatch: code not found")
	ErrContractNotFound    = errors.New("dispatch: contract not found")
	ErrContractCollision   = errors.New("dispatch: address already in use")
	ErrUnauthorized        = errors.New("dispatch: sender not authorized")
	ErrCodeInUse           = errors.New("dispatch: code still in use")
	ErrGuestModuleNotFound = errors.New("dispatch: no guest module registered for code hash")
	ErrInvalidMessage      = errors.New("dispatch: malformed message")
	// ErrMessageExecutionFailed is returned by the transaction pipeline
	// (C7) phase 3 when one of a transaction's messages fails, so the
	// whole message buffer is discarded.
	ErrMessageExecutionFailed = errors.New("dispatch: transaction message execution failed")
)
