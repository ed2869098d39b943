package cache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"TradeScanner/internal/infrastructure/cache"
)

func TestKeyDeterministic(t *testing.T) {
	t.Parallel()

	k := cache.Key("bulletin text", "claude-haiku-4-5-20251001", "v1")
	require.Len(t, k, 24)
	require.Equal(t, k, cache.Key("bulletin text", "claude-haiku-4-5-20251001", "v1"))

	require.NotEqual(t, k, cache.Key("other text", "claude-haiku-4-5-20251001", "v1"))
	require.NotEqual(t, k, cache.Key("bulletin text", "claude-sonnet-4-20250514", "v1"))
	require.NotEqual(t, k, cache.Key("bulletin text", "claude-haiku-4-5-20251001", "v2"))
}

func TestClassificationCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c := cache.NewClassificationCache(t.TempDir(), "v1", nil)
	result := []map[string]any{
		{"title": "Aluminum duties", "action_type": "tariff", "status": "active"},
	}

	require.NoError(t, c.Store("bulletin text", "model-a", result))

	got, ok := c.Lookup("bulletin text", "model-a")
	require.True(t, ok)
	require.Equal(t, result, got)

	// A different model keys a different record.
	_, ok = c.Lookup("bulletin text", "model-b")
	require.False(t, ok)
}

func TestClassificationCacheEmptyResultIsAHit(t *testing.T) {
	t.Parallel()

	c := cache.NewClassificationCache(t.TempDir(), "v1", nil)
	require.NoError(t, c.Store("nothing relevant here", "model-a", []map[string]any{}))

	got, ok := c.Lookup("nothing relevant here", "model-a")
	require.True(t, ok)
	require.Empty(t, got)
}

func TestClassificationCacheSelfHeals(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := cache.NewClassificationCache(dir, "v1", nil)

	file := filepath.Join(dir, cache.Key("bulletin text", "model-a", "v1")+".json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o644))

	_, ok := c.Lookup("bulletin text", "model-a")
	require.False(t, ok)

	_, err := os.Stat(file)
	require.True(t, os.IsNotExist(err), "corrupt record must be deleted")

	_, ok = c.Lookup("bulletin text", "model-a")
	require.False(t, ok)
}

func TestClassificationCacheClear(t *testing.T) {
	t.Parallel()

	c := cache.NewClassificationCache(t.TempDir(), "v1", nil)
	require.NoError(t, c.Store("text one", "model-a", nil))
	require.NoError(t, c.Store("text two", "model-a", nil))

	count, err := c.Clear()
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, ok := c.Lookup("text one", "model-a")
	require.False(t, ok)
}

func TestClassificationCacheClearMissingDir(t *testing.T) {
	t.Parallel()

	c := cache.NewClassificationCache(filepath.Join(t.TempDir(), "never-created"), "v1", nil)
	count, err := c.Clear()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := cache.NewStore(filepath.Join(t.TempDir(), "raw"), "bulletin_", ".html")

	_, ok := s.Get("abc")
	require.False(t, ok)

	require.NoError(t, s.Put("abc", "<html>page</html>"))
	got, ok := s.Get("abc")
	require.True(t, ok)
	require.Equal(t, "<html>page</html>", got)
}

func TestURLKey(t *testing.T) {
	t.Parallel()

	k := cache.URLKey("https://lnks.gd/l/abc123")
	require.Len(t, k, 16)
	require.Equal(t, k, cache.URLKey("https://lnks.gd/l/abc123"))
	require.NotEqual(t, k, cache.URLKey("https://lnks.gd/l/abc124"))
}
