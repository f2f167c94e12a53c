// Package checksum computes SHA-256 content fingerprints. The moderation
// queue digests flagged content snapshots with it so repeated automated
// scans of the same content collapse onto one open queue item, and the
// audit shippers can use it to fingerprint exported batches. Centralising
// the hashing keeps every fingerprint in the same lowercase-hex form.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// SumBytes returns the lowercase hex SHA-256 digest of data.
func SumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CalculateSHA256 returns the lowercase hex SHA-256 digest of everything
// read from reader. Use it for streams too large to hold in memory.
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
