// Package sha256 provides SHA-256 hashing utilities for content-addressed
// identifiers (resolution hashes, cluster IDs, cache keys).
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortLen is the hex length of truncated identifiers.
const ShortLen = 16

// Short returns the first ShortLen hex characters of the digest of s.
// Identifiers derived from it are deterministic over their inputs.
func Short(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:ShortLen]
}
