// Package cache stores build-and-load artifacts keyed by the content of the
// sources they were built from.
//
// Layout on disk:
//
//	<dir>/<key>/manifest.json
//	<dir>/<key>/<artifact>...
//
// An entry is visible only once its manifest has been written, so a build
// interrupted halfway leaves a directory that Lookup reports as a miss and
// the next Store overwrites.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/born-ml/diffrast/internal/logging"
)

const manifestName = "manifest.json"

// Entry describes a cached module build.
type Entry struct {
	Key       Key               `json:"key"`
	Module    string            `json:"module"`              // Module name
	Backend   string            `json:"backend"`             // Kernel backend that produced the artifacts
	Sources   []string          `json:"sources"`             // Generated sources the key was computed from
	Artifacts []string          `json:"artifacts"`           // Artifact file names inside the entry directory
	Checksums map[string]string `json:"checksums,omitempty"` // Hex SHA-256 per artifact
	CreatedAt time.Time         `json:"created_at"`
}

// Cache is a directory of content-addressed entries.
type Cache struct {
	dir string
}

// DefaultDir returns <user cache dir>/diffrast.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cache: %w", err)
	}
	return filepath.Join(base, "diffrast"), nil
}

// Open opens (creating if necessary) the cache rooted at dir.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// EntryDir returns the directory holding the artifacts of key.
func (c *Cache) EntryDir(key Key) string {
	return filepath.Join(c.dir, string(key))
}

// ArtifactPath returns the path of a named artifact of key.
func (c *Cache) ArtifactPath(key Key, artifact string) string {
	return filepath.Join(c.EntryDir(key), artifact)
}

// Lookup returns the entry for key or ErrMiss.
func (c *Cache) Lookup(key Key) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	entry, err := c.readManifest(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.Logger().Debug("cache: miss", "key", key.Short())
			return nil, fmt.Errorf("%w: %s", ErrMiss, key.Short())
		}
		return nil, err
	}
	for _, a := range entry.Artifacts {
		path := c.ArtifactPath(key, a)
		if _, err := os.Stat(path); err != nil {
			logging.Logger().Debug("cache: artifact missing", "key", key.Short(), "artifact", a)
			return nil, fmt.Errorf("%w: %s: artifact %s missing", ErrMiss, key.Short(), a)
		}
		if err := validateChecksum(path, entry.Checksums[a]); err != nil {
			logging.Logger().Warn("cache: discarding corrupted entry", "key", key.Short(), "artifact", a, "err", err)
			return nil, fmt.Errorf("%w: %s: %w", ErrMiss, key.Short(), err)
		}
	}
	logging.Logger().Info("cache: hit", "key", key.Short(), "module", entry.Module)
	return entry, nil
}

// Store writes artifacts and the manifest for entry.Key and returns the
// stored entry. An existing entry for the key is replaced.
func (c *Cache) Store(entry Entry, artifacts map[string][]byte) (*Entry, error) {
	if err := entry.Key.Validate(); err != nil {
		return nil, err
	}

	dir := c.EntryDir(entry.Key)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("cache: store: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("cache: store: %w", err)
	}

	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		if name == manifestName || name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidArtifact, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	checksums := make(map[string]string, len(names))
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), artifacts[name], 0o600); err != nil {
			return nil, fmt.Errorf("cache: store %s: %w", name, err)
		}
		checksums[name] = computeChecksum(artifacts[name])
	}

	entry.Artifacts = names
	entry.Checksums = checksums
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := c.writeManifest(entry); err != nil {
		return nil, err
	}

	logging.Logger().Info("cache: stored", "key", entry.Key.Short(), "module", entry.Module, "artifacts", len(names))
	return &entry, nil
}

// Invalidate removes the entry for key. Returns ErrMiss if there is none.
func (c *Cache) Invalidate(key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	dir := c.EntryDir(key)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMiss, key.Short())
		}
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}

// Purge removes every entry and returns how many were removed. Files in the
// cache root that are not entries are left alone.
func (c *Cache) Purge() (int, error) {
	dirs, err := c.entryDirs()
	if err != nil {
		return 0, err
	}
	for i, key := range dirs {
		if err := os.RemoveAll(c.EntryDir(key)); err != nil {
			return i, fmt.Errorf("cache: purge: %w", err)
		}
	}
	logging.Logger().Info("cache: purged", "dir", c.dir, "entries", len(dirs))
	return len(dirs), nil
}

// List returns all complete entries, oldest first.
func (c *Cache) List() ([]Entry, error) {
	dirs, err := c.entryDirs()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirs))
	for _, key := range dirs {
		e, err := c.readManifest(key)
		if err != nil {
			// Incomplete or foreign entries are skipped.
			continue
		}
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// entryDirs returns the keys of all entry directories.
func (c *Cache) entryDirs() ([]Key, error) {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	var keys []Key
	for _, de := range des {
		if !de.IsDir() {
			continue
		}
		key := Key(de.Name())
		if key.Validate() != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (c *Cache) readManifest(key Key) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(c.EntryDir(key), manifestName))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptManifest, key.Short(), err)
	}
	if e.Key != key {
		return nil, fmt.Errorf("%w: %s: manifest key %s", ErrCorruptManifest, key.Short(), e.Key.Short())
	}
	return &e, nil
}

// writeManifest writes the manifest through a temporary file and rename.
func (c *Cache) writeManifest(e Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal manifest: %w", err)
	}
	dir := c.EntryDir(e.Key)
	tmp, err := os.CreateTemp(dir, manifestName+".*")
	if err != nil {
		return fmt.Errorf("cache: write manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cache: write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cache: write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, manifestName)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cache: write manifest: %w", err)
	}
	return nil
}
