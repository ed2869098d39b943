package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ClassificationCache memoizes raw classification results on disk.
// The key covers text, model, and prompt version, so bumping the version
// invalidates every prior entry without touching stored files.
type ClassificationCache struct {
	dir     string
	version string
	logger  *slog.Logger
}

// NewClassificationCache roots the cache at dir for the given prompt version.
func NewClassificationCache(dir, promptVersion string, logger *slog.Logger) *ClassificationCache {
	return &ClassificationCache{dir: dir, version: promptVersion, logger: logger}
}

// Key is a pure function of its inputs: identical inputs always produce the
// identical key, and changing any one input changes it.
func Key(text, model, version string) string {
	payload := text + "||" + model + "||" + version
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:24]
}

func (c *ClassificationCache) path(text, model string) string {
	return filepath.Join(c.dir, Key(text, model, c.version)+".json")
}

// Lookup returns the cached raw result list, or ok=false on a miss.
// A record that fails to parse is deleted immediately and reported as a miss.
func (c *ClassificationCache) Lookup(text, model string) ([]map[string]any, bool) {
	file := c.path(text, model)
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, false
	}

	var result []map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		c.warn("corrupt cache entry, deleting", "file", file, "error", err)
		_ = os.Remove(file)
		return nil, false
	}

	c.debug("classification cache hit", "file", file)
	return result, true
}

// Store writes a raw result list under the content-addressed key.
func (c *ClassificationCache) Store(text, model string, result []map[string]any) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create classification cache dir: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal classification result: %w", err)
	}
	file := c.path(text, model)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("write classification cache: %w", err)
	}
	c.debug("classification cache write", "file", file)
	return nil
}

// Clear deletes all cached classifications and returns the count removed.
// A missing cache directory is a no-op returning zero.
func (c *ClassificationCache) Clear() (int, error) {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("list classification cache: %w", err)
	}

	count := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return count, fmt.Errorf("remove %s: %w", f, err)
		}
		count++
	}
	return count, nil
}

func (c *ClassificationCache) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *ClassificationCache) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
