package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"delegation-cache/internal/cache"
)

// Snapshotter persists the live contents of a cache.Store between runs.
// Save replaces whatever was stored before; Load returns records ordered
// from least to most recently used and never returns expired ones.
type Snapshotter interface {
	Save(ctx context.Context, records []cache.Record) error
	Load(ctx context.Context) ([]cache.Record, error)
	Close() error
}

const (
	BackendNone   = "none"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

var ErrUnknownBackend = errors.New("persist: unknown backend")

type Config struct {
	Backend     string
	SQLitePath  string
	RedisAddr   string
	RedisPrefix string
	Logger      *zap.Logger
}

// New returns the Snapshotter selected by cfg.Backend. The "none" backend
// (and an empty one) yields a Snapshotter that stores nothing.
func New(cfg Config) (Snapshotter, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("persist")

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return Nop{}, nil
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("persist: sqlite backend requires a path")
		}
		return NewSQLite(cfg.SQLitePath, logger)
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("persist: redis backend requires an address")
		}
		return NewRedis(RedisConfig{Addr: cfg.RedisAddr, Prefix: cfg.RedisPrefix}, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Nop is the Snapshotter for the in-memory-only deployment.
type Nop struct{}

func (Nop) Save(context.Context, []cache.Record) error   { return nil }
func (Nop) Load(context.Context) ([]cache.Record, error) { return nil, nil }
func (Nop) Close() error                                 { return nil }
