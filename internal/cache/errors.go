package cache

import "errors"

// Common errors.
var (
	ErrMiss             = errors.New("cache: entry not found")
	ErrInvalidKey       = errors.New("cache: invalid key")
	ErrCorruptManifest  = errors.New("cache: corrupt manifest")
	ErrInvalidArtifact  = errors.New("cache: invalid artifact name")
	ErrChecksumMismatch = errors.New("cache: checksum mismatch: artifact may be corrupted")
)
