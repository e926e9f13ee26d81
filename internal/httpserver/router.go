package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"delegation-cache/internal/handlers"
	"delegation-cache/internal/metrics"
	"delegation-cache/internal/middleware"
)

const DefaultRequestTimeout = 10 * time.Second

// SetupRouter mounts the admin API, health check and metrics endpoint.
func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, admin *handlers.AdminHandler, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(timeout))

	r.Route("/v1/cache", func(r chi.Router) {
		r.Get("/stats", admin.Stats)
		r.Post("/sweep", admin.Sweep)
		r.Delete("/entries", admin.Clear)
		r.Delete("/entries/{key}", admin.Invalidate)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
