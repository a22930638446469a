// Package dispatch implements the message dispatcher (C6): the six message
// kinds a transaction or a guest's sub-message list may carry, the tree of
// events a successful dispatch accumulates, and the code/contract/config
// records a dispatch reads and mutates.
package dispatch

import (
	"crypto/sha256"
	"fmt"

	"github.com/certen/chaincore/pkg/commitment"
	"github.com/certen/chaincore/pkg/xmath"
)

// AddressLength is the size in bytes of an Address (§3.1).
const AddressLength = 20

// Address identifies a contract: 20 bytes derived from
// sha256(creator ‖ code_hash ‖ salt) for Instantiate-created addresses, or
// supplied directly for well-known accounts (e.g. the bank/fee contracts).
type Address [AddressLength]byte

// String renders an Address as lowercase hex.
func (a Address) String() string { return fmt.Sprintf("%x", a[:]) }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// DeriveAddress computes the deterministic address of a contract created by
// creator instantiating codeHash with salt, matching §3.1's
// hash(creator ‖ code_hash ‖ salt) rule.
func DeriveAddress(creator Address, codeHash [32]byte, salt []byte) Address {
	h := sha256.New()
	h.Write(creator[:])
	h.Write(codeHash[:])
	h.Write(salt)
	sum := h.Sum(nil)
	var out Address
	copy(out[:], sum[:AddressLength])
	return out
}

// Coin is a single (denom, amount) pair; amount is a non-negative 128-bit
// integer per §3.1.
type Coin struct {
	Denom  string
	Amount xmath.Uint128
}

// Coins is a denom-sorted list of Coin with at most one entry per denom.
type Coins []Coin

// AmountOf returns the amount held of denom, or zero if absent.
func (c Coins) AmountOf(denom string) xmath.Uint128 {
	for _, coin := range c {
		if coin.Denom == denom {
			return coin.Amount
		}
	}
	return xmath.NewUint128FromUint64(0)
}

// IsZero reports whether every coin in c (if any) carries a zero amount.
func (c Coins) IsZero() bool {
	for _, coin := range c {
		if !coin.Amount.IsZero() {
			return false
		}
	}
	return true
}

// Kind identifies one of the six message kinds dispatched by C6 (§4.6).
type Kind int

const (
	KindConfigure Kind = iota
	KindTransfer
	KindUpload
	KindInstantiate
	KindExecute
	KindMigrate
)

func (k Kind) String() string {
	switch k {
	case KindConfigure:
		return "configure"
	case KindTransfer:
		return "transfer"
	case KindUpload:
		return "upload"
	case KindInstantiate:
		return "instantiate"
	case KindExecute:
		return "execute"
	case KindMigrate:
		return "migrate"
	default:
		return "unknown"
	}
}

// Message is one dispatchable unit. Only the fields relevant to Kind are
// populated; the others are ignored. A message may appear in a transaction's
// message list or as a sub-message returned by a guest's Response.
type Message struct {
	Kind Kind

	// Configure
	NewOwner    *Address
	NewConfig   *Config
	NewCronJobs map[Address]int64 // contract -> interval (nanoseconds)

	// Transfer / Instantiate / Execute funds transfer. From is nil for an
	// ordinary transfer (the source is the dispatching sender); the bank
	// module honors an explicit From only from a sender it has configured
	// as an authorized debitor (the fee contract, moving funds out of a
	// payer's balance on withhold_fee/finalize_fee, not its own).
	To    Address
	From  *Address
	Coins Coins

	// Upload
	Code []byte

	// Instantiate
	CodeHash [32]byte
	Salt     []byte
	Admin    *Address
	Label    string
	InitMsg  []byte

	// Execute / Migrate target and guest entry point payload
	Contract Address
	Msg      []byte

	// Migrate
	NewCodeHash [32]byte
}

// EventStatus is the terminal status of one event node.
type EventStatus int

const (
	EventOK EventStatus = iota
	EventFailed
	EventNested // not itself terminal: wraps sub-events of a still-running dispatch
)

// Event is one node in the tree-shaped record a dispatch accumulates: its
// own type/attributes plus the ordered events of every nested sub-message,
// guest authority call, and backrun it triggered (§4.6).
type Event struct {
	Type     string
	Attrs    map[string]string
	Status   EventStatus
	Error    string
	Children []*Event
}

// NewEvent constructs a leaf event of the given type.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Attrs: map[string]string{}, Status: EventOK}
}

// WithAttr sets an attribute and returns the event for chaining.
func (e *Event) WithAttr(key, value string) *Event {
	e.Attrs[key] = value
	return e
}

// Fail marks e as failed with the given error message.
func (e *Event) Fail(msg string) *Event {
	e.Status = EventFailed
	e.Error = msg
	return e
}

// AddChild appends a nested event (sub-message, authority call, or
// backrun) to e.
func (e *Event) AddChild(child *Event) { e.Children = append(e.Children, child) }

// Digest computes e's commitment digest, folding its children's digests
// in order (§4.6's "tree-shaped event record").
func (e *Event) Digest() ([]byte, error) {
	childDigests := make([][]byte, 0, len(e.Children))
	for _, c := range e.Children {
		d, err := c.Digest()
		if err != nil {
			return nil, err
		}
		childDigests = append(childDigests, d)
	}
	attrs := make(map[string]string, len(e.Attrs)+2)
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	attrs["__status"] = e.statusLabel()
	attrs["__error"] = e.Error
	return commitment.EventDigest(e.Type, attrs, childDigests)
}

func (e *Event) statusLabel() string {
	switch e.Status {
	case EventFailed:
		return "failed"
	case EventNested:
		return "nested"
	default:
		return "ok"
	}
}
