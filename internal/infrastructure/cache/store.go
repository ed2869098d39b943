package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Store is a flat-directory string store: one file per key, immutable once
// written. Keys are caller-derived (URL hash or entry ID), so concurrent
// writers for different entries never contend on the same file.
type Store struct {
	dir    string
	prefix string
	ext    string
}

// NewStore roots a store at dir; files are named prefix+key+ext.
func NewStore(dir, prefix, ext string) *Store {
	return &Store{dir: dir, prefix: prefix, ext: ext}
}

// URLKey derives the content-addressed key for a URL.
func URLKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, s.prefix+key+s.ext)
}

// Get returns the stored value for key, or ok=false on a miss.
func (s *Store) Get(key string) (string, bool) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Put writes the value for key, creating the directory on first use.
func (s *Store) Put(key, value string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", s.dir, err)
	}
	if err := os.WriteFile(s.path(key), []byte(value), 0o644); err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}
