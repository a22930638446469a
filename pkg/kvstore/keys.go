package kvstore

import "encoding/binary"

// Archival-mode versioned entries carry a leading marker byte so a
// zero-length live value can never be confused with a tombstone.
const (
	tombstoneMarker byte = 0x00
	valueMarker     byte = 0x01
)

// Column family prefixes, multiplexed over the single dbm.DB handle
// pkg/kvdb opens.
var (
	prefixMeta       = []byte{0x00} // scalars: latest_version, oldest_version
	prefixCommitment = []byte{0x01} // Merkle nodes, keyed by (version, bit-path)
	prefixOrphan     = []byte{0x02} // Merkle orphan records
	prefixStorage    = []byte{0x03} // raw prehash key-value pairs
	prefixPreimage   = []byte{0x04} // key_hash -> key
)

var (
	metaKeyLatestVersion = append(append([]byte{}, prefixMeta...), []byte("latest_version")...)
	metaKeyOldestVersion = append(append([]byte{}, prefixMeta...), []byte("oldest_version")...)
)

// encodeLE encodes v as little-endian, matching the default family's scalar
// encoding.
func encodeLE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func decodeLE(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// encodeBE encodes v as big-endian, matching the commitment family's
// version component.
func encodeBE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeBE(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// commitmentKey builds the (version, bit-path) storage key for a Merkle
// node, per §4.1/§6.
func commitmentKey(version uint64, path []byte) []byte {
	key := make([]byte, 0, len(prefixCommitment)+8+len(path))
	key = append(key, prefixCommitment...)
	key = append(key, encodeBE(version)...)
	key = append(key, path...)
	return key
}

func orphanKey(orphanedSince, version uint64, path []byte) []byte {
	key := make([]byte, 0, len(prefixOrphan)+16+len(path))
	key = append(key, prefixOrphan...)
	key = append(key, encodeBE(orphanedSince)...)
	key = append(key, encodeBE(version)...)
	key = append(key, path...)
	return key
}

// versionedKey appends rawKey with a trailing 8-byte version marker (the
// bitwise complement of version, big-endian): iterating a raw key's group
// in ascending byte order visits its newest version first. The marker is
// always the last 8 bytes, so splitVersionedKey can recover rawKey exactly
// by trimming from the end regardless of its own content. Assumes a
// prefix-free keyspace (no stored key is a byte-prefix of another); under
// that assumption cross-key ascending order is preserved too.
func versionedKey(prefix, rawKey []byte, version uint64) []byte {
	key := make([]byte, 0, len(prefix)+len(rawKey)+8)
	key = append(key, prefix...)
	key = append(key, rawKey...)
	key = append(key, encodeBE(^version)...)
	return key
}

func storageKeyEphemeral(key []byte) []byte {
	return append(append([]byte{}, prefixStorage...), key...)
}

func preimageKeyEphemeral(keyHash []byte) []byte {
	return append(append([]byte{}, prefixPreimage...), keyHash...)
}

// splitVersionedKey decodes a key built by versionedKey, returning the raw
// key, the real version, and whether decoding succeeded. The version
// marker is always the trailing 8 bytes, so this works regardless of
// rawKey's own content.
func splitVersionedKey(prefix, encoded []byte) (rawKey []byte, version uint64, ok bool) {
	rest := encoded[len(prefix):]
	if len(rest) < 8 {
		return nil, 0, false
	}
	rawKey = rest[:len(rest)-8]
	version = ^decodeBE(rest[len(rest)-8:])
	return rawKey, version, true
}
