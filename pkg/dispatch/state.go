package dispatch

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/certen/chaincore/pkg/buffer"
)

// Store is the raw key/value surface State is layered over: the block's
// buffer.Buffer (C3) during block execution, namespaced the same way
// sandbox.Sandbox namespaces a guest's own storage, except chain-level
// entities (config, code, contracts, cronjobs) live under reserved prefixes
// rather than a contract's namespace.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte)
	Delete(key []byte)
	Iterator(start, end []byte, reverse bool) (buffer.Iterator, error)
}

// Reserved key prefixes for chain-level entities, kept out of every
// contract's own namespace (which is the contract's 20-byte address with
// no separator after it).
var (
	prefixConfig   = []byte("_/config")
	prefixCode     = []byte("_/code/")
	prefixContract = []byte("_/contract/")
	prefixCronNext = []byte("_/cron_next/")
)

// CodeStatus is a Code record's lifecycle state (§3.2).
type CodeStatus int

const (
	CodeOrphaned CodeStatus = iota
	CodeInUse
)

// CodeRecord is the stored representation of one uploaded code blob.
type CodeRecord struct {
	Bytecode           []byte
	Status             CodeStatus
	UsageCount         uint64 `cbor:"usage_count"`
	OrphanedSinceNanos int64  `cbor:"orphaned_since_nanos"`
}

// ContractRecord is the stored representation of one instantiated contract.
type ContractRecord struct {
	CodeHash [32]byte `cbor:"code_hash"`
	Admin    *Address
	Label    string
}

// Config is the chain-level configuration record (§3.2).
type Config struct {
	Owner                 Address
	UploadPermission      Permission `cbor:"upload_permission"`
	InstantiatePermission Permission `cbor:"instantiate_permission"`
	Bank                  Address
	Fee                   Address
	CronSchedule          map[Address]int64 `cbor:"cron_schedule"` // contract -> interval nanoseconds
	MaxOrphanAgeNanos     int64             `cbor:"max_orphan_age_nanos"`
}

// Permission gates a privileged action to either everyone, nobody but the
// owner, or an explicit allow-list of addresses.
type Permission struct {
	Everyone bool
	Nobody   bool
	Allowed  []Address
}

// Allows reports whether sender may perform the action Permission guards,
// given that owner may always act regardless of the permission (§3.2).
func (p Permission) Allows(sender, owner Address) bool {
	if sender == owner {
		return true
	}
	if p.Everyone {
		return true
	}
	if p.Nobody {
		return false
	}
	for _, a := range p.Allowed {
		if a == sender {
			return true
		}
	}
	return false
}

// CronEntry is one row of the next-cronjob set (§3.2), keyed by
// (due_time, contract) so the smallest key names the next job to fire.
type CronEntry struct {
	DueNanos int64
	Contract Address
}

// State wraps a Store with typed accessors for the chain-level entities
// C6 and C8 read and mutate, encoding records with CBOR for a compact,
// deterministic binary representation (mirroring the original's use of a
// fixed binary record format rather than a textual one).
type State struct {
	store Store
}

// NewState wraps store.
func NewState(store Store) *State { return &State{store: store} }

func encode(v interface{}) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(v)
}

func decode(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// Raw exposes the underlying Store directly, for the query router's (C9)
// raw-key and prefix-scan queries, which read chain-level and contract
// storage without going through a typed accessor.
func (s *State) Raw() Store { return s.store }

// GetConfig loads the chain's current configuration.
func (s *State) GetConfig() (*Config, error) {
	raw, err := s.store.Get(prefixConfig)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrConfigNotFound
	}
	var cfg Config
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PutConfig persists cfg.
func (s *State) PutConfig(cfg *Config) error {
	raw, err := encode(cfg)
	if err != nil {
		return err
	}
	s.store.Set(prefixConfig, raw)
	return nil
}

func codeKey(hash [32]byte) []byte {
	return append(append([]byte{}, prefixCode...), hash[:]...)
}

// GetCode loads the code record stored under hash.
func (s *State) GetCode(hash [32]byte) (*CodeRecord, error) {
	raw, err := s.store.Get(codeKey(hash))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrCodeNotFound
	}
	var rec CodeRecord
	if err := decode(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutCode persists rec under hash.
func (s *State) PutCode(hash [32]byte, rec *CodeRecord) error {
	raw, err := encode(rec)
	if err != nil {
		return err
	}
	s.store.Set(codeKey(hash), raw)
	return nil
}

// DeleteCode removes the code record stored under hash.
func (s *State) DeleteCode(hash [32]byte) { s.store.Delete(codeKey(hash)) }

// ScanOrphanedCodes returns every code hash whose record is Orphaned with
// orphaned_since ≤ cutoffNanos, for §4.8 step 2's pruning pass.
func (s *State) ScanOrphanedCodes(cutoffNanos int64) ([][32]byte, error) {
	end := append([]byte{}, prefixCode...)
	end[len(end)-1]++ // prefixCode ends in '/', so bumping the slash walks the whole sub-range

	it, err := s.store.Iterator(prefixCode, end, false)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out [][32]byte
	for ; it.Valid(); it.Next() {
		var rec CodeRecord
		if err := decode(it.Value(), &rec); err != nil {
			return nil, err
		}
		if rec.Status == CodeOrphaned && rec.OrphanedSinceNanos <= cutoffNanos {
			var h [32]byte
			copy(h[:], it.Key()[len(prefixCode):])
			out = append(out, h)
		}
	}
	return out, nil
}

// ListCodes returns every uploaded code's hash and record in key order, for
// the query router's code-listing query (§4.9).
func (s *State) ListCodes() ([][32]byte, []*CodeRecord, error) {
	end := append([]byte{}, prefixCode...)
	end[len(end)-1]++

	it, err := s.store.Iterator(prefixCode, end, false)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()

	var hashes [][32]byte
	var recs []*CodeRecord
	for ; it.Valid(); it.Next() {
		var rec CodeRecord
		if err := decode(it.Value(), &rec); err != nil {
			return nil, nil, err
		}
		var h [32]byte
		copy(h[:], it.Key()[len(prefixCode):])
		hashes = append(hashes, h)
		recs = append(recs, &rec)
	}
	return hashes, recs, nil
}

// ListContracts returns every instantiated contract's address and record in
// key order, for the query router's contract-listing query (§4.9).
func (s *State) ListContracts() ([]Address, []*ContractRecord, error) {
	end := append([]byte{}, prefixContract...)
	end[len(end)-1]++

	it, err := s.store.Iterator(prefixContract, end, false)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()

	var addrs []Address
	var recs []*ContractRecord
	for ; it.Valid(); it.Next() {
		var rec ContractRecord
		if err := decode(it.Value(), &rec); err != nil {
			return nil, nil, err
		}
		var a Address
		copy(a[:], it.Key()[len(prefixContract):])
		addrs = append(addrs, a)
		recs = append(recs, &rec)
	}
	return addrs, recs, nil
}

func contractKey(addr Address) []byte {
	return append(append([]byte{}, prefixContract...), addr[:]...)
}

// GetContract loads the contract record at addr.
func (s *State) GetContract(addr Address) (*ContractRecord, error) {
	raw, err := s.store.Get(contractKey(addr))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrContractNotFound
	}
	var rec ContractRecord
	if err := decode(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutContract persists rec at addr.
func (s *State) PutContract(addr Address, rec *ContractRecord) error {
	raw, err := encode(rec)
	if err != nil {
		return err
	}
	s.store.Set(contractKey(addr), raw)
	return nil
}

// ContractExists reports whether a contract record exists at addr.
func (s *State) ContractExists(addr Address) (bool, error) {
	raw, err := s.store.Get(contractKey(addr))
	if err == buffer.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

func cronKey(e CronEntry) []byte {
	out := make([]byte, 0, len(prefixCronNext)+8+AddressLength)
	out = append(out, prefixCronNext...)
	out = append(out, beInt64(e.DueNanos)...)
	out = append(out, e.Contract[:]...)
	return out
}

func beInt64(v int64) []byte {
	u := uint64(v) ^ (1 << 63) // flip sign bit so byte order matches numeric order for negatives too
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	return b
}

// PutCronEntry schedules e in the next-cronjob set.
func (s *State) PutCronEntry(e CronEntry) { s.store.Set(cronKey(e), []byte{1}) }

// DeleteCronEntry removes e from the next-cronjob set.
func (s *State) DeleteCronEntry(e CronEntry) { s.store.Delete(cronKey(e)) }

// DueCronEntries returns every cronjob entry with due_time ≤ cutoffNanos,
// in ascending (due_time, contract) order, for §4.8 step 3.
func (s *State) DueCronEntries(cutoffNanos int64) ([]CronEntry, error) {
	rangeEnd := append([]byte{}, prefixCronNext...)
	rangeEnd[len(rangeEnd)-1]++

	it, err := s.store.Iterator(prefixCronNext, rangeEnd, false)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []CronEntry
	for ; it.Valid(); it.Next() {
		key := it.Key()[len(prefixCronNext):]
		due := int64(beUint64(key[:8]) ^ (1 << 63))
		if due > cutoffNanos {
			break
		}
		var addr Address
		copy(addr[:], key[8:])
		out = append(out, CronEntry{DueNanos: due, Contract: addr})
	}
	return out, nil
}

// AllCronEntries returns the entire next-cronjob set in ascending
// (due_time, contract) order, used when the schedule must be rebuilt from
// scratch on a Configure change.
func (s *State) AllCronEntries() ([]CronEntry, error) {
	return s.DueCronEntries(1<<63 - 1)
}

func beUint64(b []byte) uint64 {
	var u uint64
	for _, x := range b {
		u = u<<8 | uint64(x)
	}
	return u
}
