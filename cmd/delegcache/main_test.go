package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"delegation-cache/internal/cache"
	"delegation-cache/internal/fingerprint"
	"delegation-cache/internal/persist"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "delegcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func sqliteConfig(t *testing.T) (string, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "snapshot.db")
	cfg := writeConfig(t, `
log:
  level: error
cache:
  max_entries: 10
persistence:
  backend: sqlite
  sqlite_path: `+dbPath+`
`)
	return cfg, dbPath
}

func makeTree(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		p := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(f), 0o644))
	}
	return dir
}

func TestFingerprintCommand(t *testing.T) {
	cfg := writeConfig(t, "log:\n  level: error\n")
	a := makeTree(t, "main.go")
	b := makeTree(t, "main.go", "pkg/util.go")

	out, err := runCLI(t, "--config", cfg, "fingerprint", a, b)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "1 entries")
	assert.True(t, strings.HasSuffix(lines[0], a))
	assert.Contains(t, lines[1], "3 entries")
	assert.True(t, strings.HasSuffix(lines[1], b))
}

func TestFingerprintCommandReportsMissingDir(t *testing.T) {
	cfg := writeConfig(t, "log:\n  level: error\n")
	ok := makeTree(t, "a.txt")
	missing := filepath.Join(ok, "nope")

	out, err := runCLI(t, "--config", cfg, "fingerprint", ok, missing)
	require.ErrorIs(t, err, fingerprint.ErrNotFound)
	assert.Contains(t, out, ok)
}

func TestKeyCommand(t *testing.T) {
	cfg := writeConfig(t, "log:\n  level: error\n")
	dir := makeTree(t, "main.go")

	out, err := runCLI(t, "--config", cfg, "key", "--task", "explain main.go", "--dir", dir, "--sandbox", "workspace-write")
	require.NoError(t, err)

	res, err := (&fingerprint.Fingerprinter{}).Fingerprint(context.Background(), dir)
	require.NoError(t, err)
	want := cache.BuildKey(cache.TaskParams{
		Task:             "explain main.go",
		WorkingDirectory: dir,
		SandboxMode:      "workspace-write",
	}, res.Fingerprint)
	assert.Equal(t, want.String(), strings.TrimSpace(out))

	_, err = runCLI(t, "--config", cfg, "key", "--dir", dir)
	assert.Error(t, err, "task is required")
}

func TestKeyCommandResolvesRelativeDir(t *testing.T) {
	cfg := writeConfig(t, "log:\n  level: error\n")
	dir, err := filepath.EvalSymlinks(makeTree(t, "main.go"))
	require.NoError(t, err)
	t.Chdir(dir)

	rel, err := runCLI(t, "--config", cfg, "key", "--task", "explain main.go", "--dir", ".")
	require.NoError(t, err)
	abs, err := runCLI(t, "--config", cfg, "key", "--task", "explain main.go", "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, abs, rel)

	wd, err := os.Getwd()
	require.NoError(t, err)
	res, err := (&fingerprint.Fingerprinter{}).Fingerprint(context.Background(), wd)
	require.NoError(t, err)
	want := cache.BuildKey(cache.TaskParams{Task: "explain main.go", WorkingDirectory: wd}, res.Fingerprint)
	assert.Equal(t, want.String(), strings.TrimSpace(rel))
}

func seedSnapshot(t *testing.T, dbPath string) {
	t.Helper()
	s, err := persist.NewSQLite(dbPath, nil)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	var records []cache.Record
	for i, v := range []string{"one", "two", "three"} {
		records = append(records, cache.Record{
			Key:        cache.Key(sha256.Sum256([]byte(v))),
			Value:      []byte(v),
			CreatedAt:  now.Add(-time.Minute),
			LastAccess: now.Add(time.Duration(i) * time.Millisecond),
			ExpiresAt:  now.Add(time.Hour),
			Size:       int64(len(v)),
		})
	}
	require.NoError(t, s.Save(context.Background(), records))
}

func TestStatsCommand(t *testing.T) {
	cfg, dbPath := sqliteConfig(t)
	seedSnapshot(t, dbPath)

	out, err := runCLI(t, "--config", cfg, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshot contents")
	assert.Contains(t, out, "Entries:  3 / 10")
	assert.Contains(t, out, "Bytes:    11 B / 64 MiB")
	// Counters of a freshly restored store are always zero; they are not shown.
	assert.NotContains(t, out, "Hits")
	assert.NotContains(t, out, "Misses")
	assert.NotContains(t, out, "Evictions")

	out, err = runCLI(t, "--config", cfg, "stats", "--format", "yaml")
	require.NoError(t, err)
	var st snapshotStats
	require.NoError(t, yaml.Unmarshal([]byte(out), &st))
	assert.Equal(t, snapshotStats{Entries: 3, Bytes: 11, MaxEntries: 10, MaxBytes: 64 << 20}, st)
	assert.NotContains(t, out, "hits")

	out, err = runCLI(t, "--config", cfg, "stats", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"entries": 3`)
	assert.NotContains(t, out, `"misses"`)

	_, err = runCLI(t, "--config", cfg, "stats", "--format", "xml")
	assert.Error(t, err)
}

func TestSweepAndClearCommands(t *testing.T) {
	cfg, dbPath := sqliteConfig(t)
	seedSnapshot(t, dbPath)

	out, err := runCLI(t, "--config", cfg, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "3 live entries kept")

	out, err = runCLI(t, "--config", cfg, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")

	out, err = runCLI(t, "--config", cfg, "stats", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"entries": 0`)
}

func TestSnapshotCommandsNeedPersistence(t *testing.T) {
	cfg := writeConfig(t, "log:\n  level: error\n")
	for _, sub := range []string{"stats", "sweep", "clear"} {
		_, err := runCLI(t, "--config", cfg, sub)
		assert.ErrorIs(t, err, errNoPersistence, sub)
	}
}
