package kvstore

import (
	"bytes"

	dbm "github.com/cometbft/cometbft-db"
)

// Entry is one key/value pair returned by Scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Scan returns every live key in [min, max) as of version, in ascending or
// descending key order. In archival mode this walks the full versioned
// storage family and decodes each candidate key rather than relying on a
// DB-level range (the trailing 8-byte version suffix makes a raw byte-range
// bound ambiguous for keys that are prefixes of one another); ephemeral
// mode has no such history to wade through and scans the range directly.
func (s *Store) Scan(min, max []byte, version uint64, reverse bool) ([]Entry, error) {
	if err := s.checkVersion(version); err != nil {
		return nil, err
	}
	if s.mode == Ephemeral {
		return s.scanEphemeral(min, max, reverse)
	}
	return s.scanArchival(min, max, version, reverse)
}

func (s *Store) scanEphemeral(min, max []byte, reverse bool) ([]Entry, error) {
	start := storageKeyEphemeral(min)
	end := storageKeyEphemeral(max)
	var it dbm.Iterator
	var err error
	if reverse {
		it, err = s.db.ReverseIterator(start, end)
	} else {
		it, err = s.db.Iterator(start, end)
	}
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Entry
	for ; it.Valid(); it.Next() {
		k := it.Key()[len(prefixStorage):]
		out = append(out, Entry{Key: append([]byte{}, k...), Value: append([]byte{}, it.Value()...)})
	}
	return out, it.Error()
}

func (s *Store) scanArchival(min, max []byte, version uint64, reverse bool) ([]Entry, error) {
	end := append(append([]byte{}, prefixStorage...), 0xFF)
	it, err := s.db.Iterator(prefixStorage, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	best := make(map[string][]byte)
	seen := make(map[string]bool)
	var order []string
	for ; it.Valid(); it.Next() {
		rawKey, v, ok := splitVersionedKey(prefixStorage, it.Key())
		if !ok || v > version {
			continue
		}
		if bytes.Compare(rawKey, min) < 0 || (len(max) > 0 && bytes.Compare(rawKey, max) >= 0) {
			continue
		}
		ks := string(rawKey)
		if seen[ks] {
			continue // newest-first group order: first hit at/under version wins
		}
		seen[ks] = true
		order = append(order, ks)
		value := it.Value()
		if len(value) > 0 && value[0] == valueMarker {
			best[ks] = append([]byte{}, value[1:]...)
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	var out []Entry
	for _, ks := range order {
		v, ok := best[ks]
		if !ok {
			continue // tombstoned as of version
		}
		out = append(out, Entry{Key: []byte(ks), Value: v})
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// DeleteRange returns every live key in [min, max) as of version. It stages
// no write itself; the caller folds the returned keys into the next batch
// as delete ops, alongside their Merkle ops.
func (s *Store) DeleteRange(min, max []byte, version uint64) ([][]byte, error) {
	entries, err := s.Scan(min, max, version, false)
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}
