package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delegation-cache/internal/cache"
	"delegation-cache/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Cache: config.CacheConfig{
			MaxEntries:        8,
			DefaultTTLSeconds: 120,
			Coalesce:          true,
		},
		Fingerprint: config.FingerprintConfig{MaxDepth: 3, MaxEntries: 100, Exclude: []string{"build/"}},
		Persistence: config.PersistenceConfig{
			Backend:    "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "snapshot.db"),
		},
	}
}

func TestNewWiresResolverFromConfig(t *testing.T) {
	h, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	assert.Equal(t, cache.ResolverOptions{TTL: 2 * time.Minute, Coalesce: true}, h.Resolver.Options())
	assert.Equal(t, 3, h.Fingerprinter.MaxDepth)
	assert.Equal(t, 100, h.Fingerprinter.MaxEntries)
	assert.Equal(t, []string{"build/"}, h.Fingerprinter.Exclude)

	cfg := testConfig(t)
	cfg.Cache.Coalesce = false
	h2, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h2.Close() })
	assert.False(t, h2.Resolver.Options().Coalesce)
}

func TestResolverFillsHostedStore(t *testing.T) {
	ctx := context.Background()
	h, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	params := cache.TaskParams{Task: "review", WorkingDirectory: dir}
	compute := func(context.Context) ([]byte, error) { return []byte("result"), nil }

	first, err := h.Resolver.Resolve(ctx, params, compute)
	require.NoError(t, err)
	assert.False(t, first.Hit)

	second, err := h.Resolver.Resolve(ctx, params, compute)
	require.NoError(t, err)
	assert.True(t, second.Hit)

	st := h.Cache.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, uint64(1), st.Hits)
}

func TestSaveAndRestore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	h, err := New(cfg, nil)
	require.NoError(t, err)
	dir := t.TempDir()
	res, err := h.Resolver.Resolve(ctx, cache.TaskParams{Task: "t", WorkingDirectory: dir},
		func(context.Context) ([]byte, error) { return []byte("v"), nil })
	require.NoError(t, err)

	saved, err := h.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	require.NoError(t, h.Close())

	restarted, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = restarted.Close() })
	assert.Equal(t, 1, restarted.Restore(ctx))

	v, ok := restarted.Cache.Get(ctx, res.Key)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}
