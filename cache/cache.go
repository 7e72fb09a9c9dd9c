// Package cache copies attachment sources into a local cache directory so
// they remain available for upload after the test that produced them has
// finished. Filenames are randomized to avoid collisions, so concurrent
// writers need no locking.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DirName is the cache subdirectory under the output directory. Files
// under it are cache-owned and may be deleted after a confirmed upload.
const DirName = ".attachments_cache"

// Cache manages the attachment cache directory under an output directory.
type Cache struct {
	dir string
}

// New returns a cache rooted at <outputDir>/.attachments_cache. The
// directory is created lazily on first write.
func New(outputDir string) *Cache {
	return &Cache{dir: filepath.Join(outputDir, DirName)}
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

// FromPath copies the source file into the cache under a randomized name
// that preserves the original extension. It returns the cached path along
// with the copied size and SHA-256. A missing source is a filesystem
// error; callers fall back to the original path.
func (c *Cache) FromPath(src string) (string, int64, string, error) {
	source, err := os.Open(src)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to open attachment source: %w", err)
	}
	defer source.Close()

	return c.write(source, filepath.Ext(src))
}

// FromBytes writes data to a newly created cache file and returns the
// path, size and SHA-256 hex digest.
func (c *Cache) FromBytes(data []byte, suffix string) (string, int64, string, error) {
	return c.write(bytes.NewReader(data), suffix)
}

// FromStream streams the reader into a newly created cache file in a
// single pass (content is hashed while being written, never buffered
// twice) and returns the path, size and SHA-256 hex digest.
func (c *Cache) FromStream(r io.Reader, suffix string) (string, int64, string, error) {
	return c.write(r, suffix)
}

// IsCachedPath reports whether path lives under a cache directory. Only
// cached paths are safe to delete after upload.
func IsCachedPath(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == DirName {
			return true
		}
	}
	return false
}

// Clear removes all files and subdirectories under the cache directory.
// It is called once per session, before the first test begins, so stale
// caches do not accumulate across runs.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove cached file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (c *Cache) write(r io.Reader, suffix string) (string, int64, string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", 0, "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	name := uuid.New().String()
	name = strings.ReplaceAll(name, "-", "")
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	dest := filepath.Join(c.dir, name+suffix)

	file, err := os.Create(dest)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to create cache file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(file, hash), r)
	if err != nil {
		os.Remove(dest)
		return "", 0, "", fmt.Errorf("failed to write cache file: %w", err)
	}

	return dest, size, hex.EncodeToString(hash.Sum(nil)), nil
}
