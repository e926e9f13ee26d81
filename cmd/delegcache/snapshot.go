package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"delegation-cache/internal/cache"
	"delegation-cache/internal/config"
	"delegation-cache/internal/persist"
)

var errNoPersistence = errors.New("persistence.backend is none: there is no snapshot to operate on")

// openSnapshot loads the persisted snapshot into a store built with the
// configured bounds, so the numbers match what serve would restore.
func openSnapshot(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persist.Snapshotter, *cache.Store, error) {
	snap, err := openPersist(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := cache.NewStore(cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
		DefaultTTL: cfg.Cache.DefaultTTL(),
		Logger:     logger,
	})
	if err != nil {
		snap.Close()
		return nil, nil, err
	}

	records, err := snap.Load(ctx)
	if err != nil {
		snap.Close()
		return nil, nil, err
	}
	store.Restore(records)
	return snap, store, nil
}

func openPersist(cfg *config.Config, logger *zap.Logger) (persist.Snapshotter, error) {
	pc := cfg.Persistence.Persist()
	if pc.Backend == "" || strings.EqualFold(pc.Backend, persist.BackendNone) {
		return nil, errNoPersistence
	}
	pc.Logger = logger
	return persist.New(pc)
}

// snapshotStats describes what a persisted snapshot holds. Lifetime
// hit/miss/eviction counters belong to a running store and are not persisted.
type snapshotStats struct {
	Entries    int   `json:"entries" yaml:"entries"`
	Bytes      int64 `json:"bytes" yaml:"bytes"`
	MaxEntries int   `json:"max_entries" yaml:"max_entries"`
	MaxBytes   int64 `json:"max_bytes" yaml:"max_bytes"`
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show what the persisted snapshot contains",
		Long: "Show entry count and size of the persisted snapshot. Hit, miss and eviction\n" +
			"counters live in the running server; read them from /v1/cache/stats or /metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			snap, store, err := openSnapshot(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer snap.Close()

			s := store.Stats()
			return writeSnapshotStats(cmd.OutOrStdout(), snapshotStats{
				Entries:    s.Entries,
				Bytes:      s.Bytes,
				MaxEntries: s.MaxEntries,
				MaxBytes:   s.MaxBytes,
			}, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	return cmd
}

func writeSnapshotStats(w io.Writer, s snapshotStats, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(s)
	case "text", "":
		fmt.Fprintln(w, "Snapshot contents")
		fmt.Fprintf(w, "  Entries:  %s / %s\n", humanize.Comma(int64(s.Entries)), bound(int64(s.MaxEntries), humanize.Comma))
		fmt.Fprintf(w, "  Bytes:    %s / %s\n", humanize.IBytes(uint64(s.Bytes)), bound(s.MaxBytes, func(n int64) string { return humanize.IBytes(uint64(n)) }))
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func bound(n int64, render func(int64) string) string {
	if n <= 0 {
		return "unbounded"
	}
	return render(n)
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Drop expired entries from the persisted snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			snap, store, err := openSnapshot(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer snap.Close()

			// Load already skipped expired rows; sweep catches the ones that
			// lapsed since.
			store.SweepExpired(cmd.Context())
			records := store.Snapshot()
			if err := snap.Save(cmd.Context(), records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot swept: %d live entries kept.\n", len(records))
			return nil
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the persisted snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			snap, err := openPersist(cfg, logger)
			if err != nil {
				return err
			}
			defer snap.Close()

			if err := snap.Save(cmd.Context(), nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Snapshot cleared.")
			return nil
		},
	}
}
