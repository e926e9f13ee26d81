package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"delegation-cache/internal/cache"
	"delegation-cache/internal/config"
	"delegation-cache/internal/fingerprint"
	"delegation-cache/internal/persist"
)

// Host owns one cache instance and everything built around it. A request
// handler embedding the cache receives the Host and serves delegations
// through Resolver; the admin API and janitor work on Cache.
type Host struct {
	Store         *cache.Store
	Cache         cache.Cache
	Fingerprinter *fingerprint.Fingerprinter
	Resolver      *cache.Resolver
	Snapshots     persist.Snapshotter

	logger *zap.Logger
}

// New builds a Host from cfg. Nothing is restored yet; call Restore.
func New(cfg *config.Config, logger *zap.Logger) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := cache.NewStore(cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
		DefaultTTL: cfg.Cache.DefaultTTL(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	persistCfg := cfg.Persistence.Persist()
	persistCfg.Logger = logger
	snaps, err := persist.New(persistCfg)
	if err != nil {
		return nil, err
	}

	c := cache.NewLoggingCache(store)
	fp := fingerprint.New(cfg.Fingerprint.MaxDepth, cfg.Fingerprint.MaxEntries, cfg.Fingerprint.Exclude, logger)

	return &Host{
		Store:         store,
		Cache:         c,
		Fingerprinter: fp,
		Resolver: cache.NewResolver(c, fp, cache.ResolverOptions{
			TTL:      cfg.Cache.DefaultTTL(),
			Coalesce: cfg.Cache.Coalesce,
		}),
		Snapshots: snaps,
		logger:    logger,
	}, nil
}

// Restore loads the persisted snapshot into the store. A failed load is
// logged and the cache starts empty.
func (h *Host) Restore(ctx context.Context) int {
	records, err := h.Snapshots.Load(ctx)
	if err != nil {
		h.logger.Warn("snapshot load failed, starting empty", zap.Error(err))
		return 0
	}
	if len(records) == 0 {
		return 0
	}
	restored := h.Store.Restore(records)
	h.logger.Info("snapshot restored",
		zap.Int("records", len(records)),
		zap.Int("restored", restored),
	)
	return restored
}

// Save writes the live entries to the snapshot backend.
func (h *Host) Save(ctx context.Context) (int, error) {
	records := h.Store.Snapshot()
	if err := h.Snapshots.Save(ctx, records); err != nil {
		return 0, fmt.Errorf("snapshot save: %w", err)
	}
	return len(records), nil
}

func (h *Host) Close() error {
	return h.Snapshots.Close()
}
