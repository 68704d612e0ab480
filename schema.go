package vetz

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"
)

// canonicalBytes returns the deterministic JSON serialization of a record.
// go-json sorts map keys during marshal, so identical records always produce
// identical bytes regardless of insertion order. Records that cannot be
// marshaled return an error; callers treat that as a validation-path failure
// rather than panicking.
func canonicalBytes(record any) ([]byte, error) {
	return json.Marshal(record)
}

// recordKey hashes a record's canonical serialization. Used as the cache key
// for memoized validation and as the dedup fingerprint when no keyFields are
// configured.
func recordKey(record any) (string, error) {
	raw, err := canonicalBytes(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// SchemaFingerprint derives a stable identity for a schema from its name and
// an optional caller-supplied descriptor (typically the schema definition
// itself). The fingerprint is recorded in provenance so downstream tooling
// can tell which contract a record was validated against. Two schemas with
// the same name and descriptor share a fingerprint; a changed schema
// requires a fresh CachedValidator.
func SchemaFingerprint(name Name, descriptor any) string {
	h := sha256.New()
	h.Write([]byte(name))
	if descriptor != nil {
		if raw, err := canonicalBytes(descriptor); err == nil {
			h.Write(raw)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
