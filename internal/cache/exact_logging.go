package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"delegation-cache/internal/metrics"
	"delegation-cache/pkg/logging/logging"
)

// LoggingCache wraps a Cache with logging + metrics.
type LoggingCache struct {
	inner Cache
}

// NewLoggingCache returns a cache that logs and records metrics.
func NewLoggingCache(inner Cache) Cache {
	return &LoggingCache{inner: inner}
}

func (c *LoggingCache) Get(ctx context.Context, key Key) ([]byte, bool) {
	start := time.Now()
	value, ok := c.inner.Get(ctx, key)
	elapsed := time.Since(start)

	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(result).Inc()
	metrics.CacheLookupLatencySeconds.Observe(elapsed.Seconds())

	logging.L(ctx).Info("cache_get",
		zap.String("cache_key", key.String()),
		zap.String("cache_result", result), // hit | miss
		zap.Int("value_bytes", len(value)),
		zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
	)

	return value, ok
}

func (c *LoggingCache) Set(ctx context.Context, key Key, value []byte) {
	c.SetWithTTL(ctx, key, value, 0)
}

func (c *LoggingCache) SetWithTTL(ctx context.Context, key Key, value []byte, ttl time.Duration) {
	start := time.Now()
	c.inner.SetWithTTL(ctx, key, value, ttl)
	after := c.inner.Stats()

	logging.L(ctx).Info("cache_set",
		zap.String("cache_key", key.String()),
		zap.Int("value_bytes", len(value)),
		zap.Duration("ttl", ttl),
		zap.Uint64("lru_evictions_total", after.LRUEvictions),
		zap.Int("entries", after.Entries),
		zap.Int64("bytes", after.Bytes),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	)
}

func (c *LoggingCache) Invalidate(ctx context.Context, key Key) {
	c.inner.Invalidate(ctx, key)
	logging.L(ctx).Info("cache_invalidate", zap.String("cache_key", key.String()))
}

func (c *LoggingCache) Clear(ctx context.Context) {
	before := c.inner.Stats()
	c.inner.Clear(ctx)
	logging.L(ctx).Info("cache_clear",
		zap.Int("entries_removed", before.Entries),
		zap.Int64("bytes_released", before.Bytes),
	)
}

func (c *LoggingCache) SweepExpired(ctx context.Context) int {
	n := c.inner.SweepExpired(ctx)
	logging.L(ctx).Debug("cache_sweep", zap.Int("removed", n))
	return n
}

func (c *LoggingCache) Stats() Stats {
	return c.inner.Stats()
}
