package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: cache lookups by outcome (hit | miss).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegation_cache_lookups_total",
			Help: "Total number of delegation cache lookups by result.",
		},
		[]string{"result"},
	)

	// Histogram: time spent inside cache Get, lock wait included.
	CacheLookupLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delegation_cache_lookup_latency_seconds",
			Help:    "Latency of delegation cache lookups in seconds.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	// Histogram: working-directory fingerprint duration.
	FingerprintDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delegation_cache_fingerprint_duration_seconds",
			Help:    "Time spent fingerprinting working directories in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	// Counter: lookups that skipped the cache because no key could be built.
	CacheBypassTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegation_cache_bypass_total",
			Help: "Delegations computed without the cache, by reason.",
		},
		[]string{"reason"},
	)

	// Histogram: admin HTTP latency in seconds.
	AdminLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delegation_cache_admin_latency_seconds",
			Help:    "HTTP request latency for the cache admin API in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics, plus any extra
// collectors such as the store collector.
func Register(extra ...prometheus.Collector) {
	prometheus.MustRegister(
		CacheLookupsTotal,
		CacheLookupLatencySeconds,
		FingerprintDurationSeconds,
		CacheBypassTotal,
		AdminLatencySeconds,
	)
	prometheus.MustRegister(extra...)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures admin API latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		// Label by route pattern; raw paths carry cache keys.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		AdminLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
