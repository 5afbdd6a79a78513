// Package fingerprint computes the content identifiers used as verification
// keys. Digests are unsalted lowercase hex SHA-256: the same input always
// yields the same digest, on any host and across restarts.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the length of a hex digest.
const Size = sha256.Size * 2

// Bytes fingerprints the exact bytes of an artifact.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Text fingerprints extracted text as UTF-8 bytes, without normalization.
func Text(s string) string {
	return Bytes([]byte(s))
}

// Reader fingerprints everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash reader: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Valid reports whether s looks like a digest produced by this package.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
