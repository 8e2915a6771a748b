// Package checksum provides SHA-256 checksum utilities for archive integrity.
// Every archived artifact gets a checksum at write time so a reviewer can
// later prove the retained copy was not altered after archival. Keeping this
// in one package applies consistent hashing across the archive backends
// without duplicating crypto/sha256 wiring.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// CalculateSHA256 calculates the SHA-256 checksum of data from a reader.
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CopySHA256 copies reader to w, returning the SHA-256 checksum and byte
// count of everything copied. The data is hashed in the same pass as the
// write, so large artifacts are never read twice.
func CopySHA256(w io.Writer, reader io.Reader) (string, int64, error) {
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(w, hasher), reader)
	if err != nil {
		return "", written, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), written, nil
}

// VerifySHA256 reports whether the data's checksum matches the expected one.
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	actual, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}
	return actual == expectedChecksum, nil
}
