// Copyright 2025 Certen Protocol
//
// Canonical Commitment Package - RFC8785-like deterministic JSON
// Shared canonical-encoding and hashing helpers for the engine's event
// commitments.

package commitment

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalizeJSON takes arbitrary JSON bytes and returns a canonical encoding
// (deterministic key order, stable formatting). This is a simplified RFC8785-like approach.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	canonical := canonicalizeValue(v)
	return json.Marshal(canonical)
}

// canonicalizeValue recursively sorts map keys; arrays retain order.
func canonicalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalizeValue(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// HashConcat returns SHA256 of concatenated byte slices.
func HashConcat(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// MarshalCanonical performs the simplified RFC8785-like canonical JSON
// encoding of CanonicalizeJSON (sorted keys, encoding/json formatting).
func MarshalCanonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(raw)
}

// EventDigest computes the digest of one node in a dispatch's tree-shaped
// event record: the event's type and attributes, folded together with the
// digests of its already-hashed child nodes in order. Folding children by
// digest rather than by re-serializing their full subtree keeps the cost of
// hashing a deep dispatch tree linear in its node count.
func EventDigest(eventType string, attrs map[string]string, childDigests [][]byte) ([]byte, error) {
	ordered := make(map[string]interface{}, len(attrs)+1)
	ordered["type"] = eventType
	attrMap := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		attrMap[k] = v
	}
	ordered["attrs"] = attrMap

	canon, err := MarshalCanonical(ordered)
	if err != nil {
		return nil, fmt.Errorf("canonicalize event: %w", err)
	}

	parts := make([][]byte, 0, len(childDigests)+1)
	parts = append(parts, canon)
	parts = append(parts, childDigests...)
	return HashConcat(parts...), nil
}
