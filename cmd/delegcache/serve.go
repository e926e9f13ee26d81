package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"delegation-cache/internal/app"
	"delegation-cache/internal/cache"
	"delegation-cache/internal/config"
	"delegation-cache/internal/handlers"
	"delegation-cache/internal/httpserver"
	"delegation-cache/internal/metrics"
	"delegation-cache/pkg/logging/logging"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cache with its admin API, janitor and snapshot persistence",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(logging.WithLogger(ctx, logger), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("loaded config",
		zap.Int("max_entries", cfg.Cache.MaxEntries),
		zap.Int64("max_bytes", cfg.Cache.MaxBytes),
		zap.Duration("default_ttl", cfg.Cache.DefaultTTL()),
		zap.Duration("sweep_interval", cfg.Cache.SweepInterval),
		zap.String("persistence", cfg.Persistence.Backend),
		zap.String("admin_addr", cfg.Admin.Addr),
		zap.Bool("coalesce", cfg.Cache.Coalesce),
	)

	// ----- Cache host -----
	host, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	// ----- Metrics -----
	metrics.Register(cache.NewCollector(host.Store))

	// ----- Snapshot -----
	host.Restore(ctx)

	// ----- Janitor -----
	if cfg.Cache.SweepInterval > 0 {
		janitor := cache.NewJanitor(host.Cache, cfg.Cache.SweepInterval, logger)
		janitor.Start(ctx)
		defer janitor.Stop()
	}

	// ----- Router + server -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, handlers.NewAdminHandler(host.Cache), cfg.Admin.RequestTimeout)

	srv := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting admin server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	saved, err := host.Save(shutdownCtx)
	if err != nil {
		logger.Error("snapshot save failed", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete", zap.Int("snapshot_records", saved))
	return nil
}
