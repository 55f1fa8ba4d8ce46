package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// computeChecksum returns the hex SHA-256 of data.
func computeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fileChecksum returns the hex SHA-256 of the file at path without loading
// it into memory.
func fileChecksum(path string) (string, error) {
	//nolint:gosec // G304: path is an artifact inside the cache directory
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// validateChecksum compares an artifact against its recorded checksum.
// Entries written without checksums are accepted.
func validateChecksum(path, stored string) error {
	if stored == "" {
		return nil
	}
	computed, err := fileChecksum(path)
	if err != nil {
		return err
	}
	if computed != stored {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, path)
	}
	return nil
}
