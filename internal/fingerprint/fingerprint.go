// Package fingerprint summarizes the metadata of a directory tree into a
// fixed-size digest. File contents are never read; paths, sizes and
// modification times are enough to notice that a project changed.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"
)

const (
	DefaultMaxDepth   = 6
	DefaultMaxEntries = 5000
)

var (
	ErrNotFound     = errors.New("fingerprint: directory not found")
	ErrPermission   = errors.New("fingerprint: directory not readable")
	ErrNotDirectory = errors.New("fingerprint: not a directory")
)

// Fingerprint is a SHA-256 digest over the sorted entry list of a tree.
type Fingerprint [sha256.Size]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Result carries the digest plus walk bookkeeping.
type Result struct {
	Fingerprint Fingerprint
	Entries     int
	// Truncated is set when the depth or entry cap cut the walk short.
	Truncated bool
	Duration  time.Duration
}

// Fingerprinter walks directories with bounded cost.
// The zero value is usable and applies the default caps.
type Fingerprinter struct {
	MaxDepth   int
	MaxEntries int
	// Exclude holds .gitignore-style patterns matched against relative paths.
	Exclude []string
	Logger  *zap.Logger

	matcher *ignore.GitIgnore
}

// New returns a Fingerprinter with the given caps and exclusion patterns.
// Non-positive caps fall back to the defaults.
func New(maxDepth, maxEntries int, exclude []string, logger *zap.Logger) *Fingerprinter {
	f := &Fingerprinter{
		MaxDepth:   maxDepth,
		MaxEntries: maxEntries,
		Exclude:    exclude,
		Logger:     logger,
	}
	if len(exclude) > 0 {
		f.matcher = ignore.CompileIgnoreLines(exclude...)
	}
	return f
}

type entry struct {
	rel     string
	kind    byte
	size    int64
	modTime int64
}

// Fingerprint digests the tree rooted at root.
func (f *Fingerprinter) Fingerprint(ctx context.Context, root string) (Result, error) {
	start := time.Now()
	maxDepth, maxEntries := f.limits()
	logger := f.logger()

	if err := checkRoot(root); err != nil {
		return Result{}, err
	}
	// WalkDir does not descend through a symlinked root.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	matcher := f.matcher
	if matcher == nil && len(f.Exclude) > 0 {
		matcher = ignore.CompileIgnoreLines(f.Exclude...)
	}

	var (
		entries   []entry
		truncated bool
	)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return classify(root, err)
			}
			logger.Debug("fingerprint: skipping unreadable entry",
				zap.String("path", path),
				zap.Error(err),
			)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher != nil && matcher.MatchesPath(matchPath(rel, d.IsDir())) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if len(entries) >= maxEntries {
			truncated = true
			return filepath.SkipAll
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			// Raced with a delete or lost permission between readdir and lstat.
			logger.Debug("fingerprint: skipping entry without metadata",
				zap.String("path", path),
				zap.Error(infoErr),
			)
			return nil
		}

		e := entry{rel: rel, kind: kindOf(info.Mode()), modTime: info.ModTime().UnixNano()}
		if e.kind == 'f' {
			e.size = info.Size()
		}
		entries = append(entries, e)

		depth := strings.Count(rel, "/") + 1
		if d.IsDir() && depth >= maxDepth {
			if hasChildren(path) {
				truncated = true
			}
			return filepath.SkipDir
		}
		return nil
	})
	if walkErr != nil {
		return Result{}, walkErr
	}

	if truncated {
		logger.Warn("fingerprint: walk truncated by caps",
			zap.String("root", root),
			zap.Int("max_depth", maxDepth),
			zap.Int("max_entries", maxEntries),
		)
	}

	return Result{
		Fingerprint: digest(entries),
		Entries:     len(entries),
		Truncated:   truncated,
		Duration:    time.Since(start),
	}, nil
}

func (f *Fingerprinter) limits() (int, int) {
	maxDepth, maxEntries := f.MaxDepth, f.MaxEntries
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return maxDepth, maxEntries
}

func (f *Fingerprinter) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// checkRoot maps the root's own failure modes onto the package sentinels.
func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return classify(root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	dir, err := os.Open(root)
	if err != nil {
		return classify(root, err)
	}
	defer dir.Close()
	if _, err := dir.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		return classify(root, err)
	}
	return nil
}

func classify(root string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, root)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermission, root)
	default:
		return fmt.Errorf("fingerprint %s: %w", root, err)
	}
}

func hasChildren(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	defer f.Close()
	names, _ := f.Readdirnames(1)
	return len(names) > 0
}

func matchPath(rel string, isDir bool) string {
	if isDir {
		return rel + "/"
	}
	return rel
}

func kindOf(mode fs.FileMode) byte {
	switch {
	case mode.IsRegular():
		return 'f'
	case mode.IsDir():
		return 'd'
	case mode&fs.ModeSymlink != 0:
		return 'l'
	default:
		return 'o'
	}
}

func digest(entries []entry) Fingerprint {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].rel < entries[j].rel
	})

	h := sha256.New()
	buf := make([]byte, 0, 256)
	for _, e := range entries {
		buf = buf[:0]
		buf = append(buf, e.rel...)
		buf = append(buf, 0, e.kind, 0)
		buf = strconv.AppendInt(buf, e.size, 10)
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, e.modTime, 10)
		buf = append(buf, '\n')
		h.Write(buf)
	}

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
