// Package canonicalization provides name normalization for taxonomy lookups and dimension keys.
//
// This package provides pure utility functions that operate on primitives (strings)
// rather than domain types, making it reusable from the taxonomy, the resolver and the
// storage backends alike.
//
// Key functions:
//   - NormalizeLookupKey: Folds theme/topic names for allow-list lookups
//   - DimensionCacheKey: Builds per-batch memo keys for dimension resolution
//   - GenerateBatchFingerprint: Identifies a logical fact batch (SHA256 hash)
package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// GenerateBatchFingerprint returns a deterministic identifier for a logical fact batch.
//
// Formula: SHA256(join(parts, US)) where US is the ASCII unit separator.
//
// Purpose: Log and trace correlation. Two payloads with the same supersession key and
// refresh date produce the same fingerprint, so replays are easy to spot in logs.
//
// Parameters (IN ORDER): the logical key parts followed by the refresh date in
// RFC3339Nano format.
//
// Examples:
//   - Same parts → same fingerprint
//   - Different refresh date → different fingerprint
//
// Returns: 64-character lowercase hex string (SHA256 output).
func GenerateBatchFingerprint(parts ...string) string {
	return hashSHA256(strings.Join(parts, keySeparator))
}

// hashSHA256 computes the SHA256 hash of the input string.
//
// Returns: 64-character lowercase hex string (SHA256 output).
func hashSHA256(input string) string {
	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}
