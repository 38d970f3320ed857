// Package checksum computes content hashes used for change detection.
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

// Strings hashes an ordered list of fields. Each field is terminated by a
// NUL byte so that ["ab","c"] and ["a","bc"] produce different digests.
func Strings(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}
