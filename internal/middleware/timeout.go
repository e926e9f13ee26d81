package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"delegation-cache/pkg/logging/logging"
)

// Timeout cancels the request context after d. If the handler has not
// written anything by the time it returns on an expired context, the
// client gets a 504.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			tw := &trackingWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !tw.written() {
				logging.L(ctx).Warn("request timeout", zap.Duration("timeout", d))
				writeError(w, http.StatusGatewayTimeout, "gateway_timeout")
			}
		})
	}
}

type trackingWriter struct {
	http.ResponseWriter
	mu      sync.Mutex
	started bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) written() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}
