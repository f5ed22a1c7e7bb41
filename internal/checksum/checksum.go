// Package checksum computes the content hashes stored in the index and
// compared during reconciliation. Hashes only settle whether a file changed;
// modification times are the cheap first-tier filter.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
