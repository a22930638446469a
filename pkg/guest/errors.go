// Package guest bundles the native Go implementations of the two system
// contracts every chain built on this engine needs: the bank contract,
// holding every account's coin balances, and the fee (taxman) contract,
// withholding and refunding transaction gas fees. Neither ships as WASM
// bytecode — there is no embedded VM in this codebase — so both register
// directly into a dispatch.Registry by code hash, like any other guest
// module (see dispatch.GuestModule).
package guest

import "errors"

var (
	ErrInsufficientFunds = errors.New("guest: insufficient balance")
	ErrUnauthorizedDebit = errors.New("guest: sender not authorized to debit an explicit source")
	ErrNotInitialized    = errors.New("guest: module not instantiated")
	ErrUnsupportedMsg    = errors.New("guest: unsupported message")
)
