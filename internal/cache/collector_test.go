package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricValue(m *dto.Metric) float64 {
	if g := m.GetGauge(); g != nil {
		return g.GetValue()
	}
	return m.GetCounter().GetValue()
}

func TestCollectorExportsStats(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, Options{MaxEntries: 2, MaxBytes: 100})

	s.Set(ctx, testKey("a"), []byte("aaaa"))
	s.SetWithTTL(ctx, testKey("b"), []byte("bb"), time.Second)
	s.Get(ctx, testKey("a"))
	s.Set(ctx, testKey("c"), []byte("c")) // evicts b
	s.Get(ctx, testKey("b"))
	clock.Advance(2 * time.Hour)
	s.Get(ctx, testKey("a")) // expired

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(s)))

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		require.Len(t, mf.GetMetric(), 1)
		got[mf.GetName()] = metricValue(mf.GetMetric()[0])
	}

	assert.Equal(t, map[string]float64{
		"delegation_cache_entries":             1,
		"delegation_cache_bytes":               1,
		"delegation_cache_max_entries":         2,
		"delegation_cache_max_bytes":           100,
		"delegation_cache_hits_total":          1,
		"delegation_cache_misses_total":        2,
		"delegation_cache_ttl_evictions_total": 1,
		"delegation_cache_lru_evictions_total": 1,
	}, got)
}
