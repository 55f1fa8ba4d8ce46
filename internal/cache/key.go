package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Key identifies a cache entry: the hex SHA-256 digest of a module name and
// its generated sources.
type Key string

// String returns the key as hex.
func (k Key) String() string {
	return string(k)
}

// Short returns the first 12 hex digits, for logs.
func (k Key) Short() string {
	if len(k) < 12 {
		return string(k)
	}
	return string(k[:12])
}

// Validate checks that k is a 64 digit lowercase hex string.
func (k Key) Validate() error {
	if len(k) != sha256.Size*2 {
		return fmt.Errorf("%w: %q", ErrInvalidKey, string(k))
	}
	for _, c := range k {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: %q", ErrInvalidKey, string(k))
		}
	}
	return nil
}

// KeyFor computes the key of a module built from the given source files.
// File contents are hashed in order, each preceded by its length so that
// moving bytes between files changes the key.
func KeyFor(module string, sources ...string) (Key, error) {
	h := sha256.New()
	writeField(h, []byte(module))

	for _, src := range sources {
		//nolint:gosec // G304: source paths come from the compiler output
		f, err := os.Open(src)
		if err != nil {
			return "", fmt.Errorf("cache: hash source: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return "", fmt.Errorf("cache: hash source: %w", err)
		}
		writeLength(h, uint64(info.Size()))
		_, err = io.Copy(h, f)
		_ = f.Close()
		if err != nil {
			return "", fmt.Errorf("cache: hash source %s: %w", src, err)
		}
	}

	return Key(hex.EncodeToString(h.Sum(nil))), nil
}

func writeField(w io.Writer, data []byte) {
	writeLength(w, uint64(len(data)))
	_, _ = w.Write(data)
}

func writeLength(w io.Writer, n uint64) {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(n >> (8 * i))
	}
	_, _ = w.Write(buf[:])
}
