package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/spboyer/kinetic/internal/models"
)

// Cache stores performance profiles on disk so unchanged code is never
// analyzed twice with the same ruleset.
type Cache struct {
	dir string
	mu  sync.Mutex
}

// New creates a new cache instance with the specified directory. An empty
// dir disables caching.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Key generates the cache key for analyzing contentHash with the analyzer
// identified by analyzerKey. The key is based on:
// - the analyzer ruleset version and thresholds
// - the sha256 of the source code
func Key(analyzerKey, contentHash string) string {
	h := sha256.New()
	// errors from a hash.Hash writer are always nil
	_ = writeString(h, analyzerKey)
	_ = writeString(h, contentHash)
	return hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a cached profile if it exists
func (c *Cache) Get(key string) (models.PerformanceProfile, bool) {
	if c.dir == "" {
		return models.PerformanceProfile{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.cachePath(key))
	if err != nil {
		// Cache miss
		return models.PerformanceProfile{}, false
	}

	var p models.PerformanceProfile
	if err := json.Unmarshal(data, &p); err != nil {
		// Invalid cache entry, treat as miss
		return models.PerformanceProfile{}, false
	}
	if !p.Analyzed() {
		return models.PerformanceProfile{}, false
	}
	return p, true
}

// Put stores a profile in the cache
func (c *Cache) Put(key string, p models.PerformanceProfile) error {
	if c.dir == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}

	// Write then rename so a concurrent reader never sees a torn entry.
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.cachePath(key)); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("writing cache file: %w", err)
	}
	return nil
}

// Clear removes all cached profiles
func (c *Cache) Clear() error {
	if c.dir == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(c.dir); os.IsNotExist(err) {
		return nil
	}

	// Safety check: verify this is a profile cache directory before removing
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return fmt.Errorf("cache directory contains subdirectories - refusing to delete for safety")
		}
		if filepath.Ext(entry.Name()) != ".json" {
			return fmt.Errorf("cache directory contains non-cache files - refusing to delete for safety")
		}
	}

	return os.RemoveAll(c.dir)
}

// cachePath returns the file path for a cache key
func (c *Cache) cachePath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func writeString(w io.Writer, s string) error {
	// Write string with null byte delimiter to prevent hash collisions
	_, err := w.Write([]byte(s + "\x00"))
	return err
}
