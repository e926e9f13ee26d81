package cache

import "github.com/prometheus/client_golang/prometheus"

// StatsSource is satisfied by Store and LoggingCache.
type StatsSource interface {
	Stats() Stats
}

// Collector exports a store's Stats on every scrape, so the numbers come
// from the same critical section as the store's own accounting.
type Collector struct {
	source StatsSource

	entries      *prometheus.Desc
	bytes        *prometheus.Desc
	maxEntries   *prometheus.Desc
	maxBytes     *prometheus.Desc
	hits         *prometheus.Desc
	misses       *prometheus.Desc
	ttlEvictions *prometheus.Desc
	lruEvictions *prometheus.Desc
}

func NewCollector(source StatsSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("delegation_cache_"+name, help, nil, nil)
	}
	return &Collector{
		source:       source,
		entries:      desc("entries", "Entries currently stored."),
		bytes:        desc("bytes", "Approximate payload bytes currently stored."),
		maxEntries:   desc("max_entries", "Configured entry bound, 0 when unbounded."),
		maxBytes:     desc("max_bytes", "Configured byte bound, 0 when unbounded."),
		hits:         desc("hits_total", "Lifetime cache hits."),
		misses:       desc("misses_total", "Lifetime cache misses."),
		ttlEvictions: desc("ttl_evictions_total", "Entries removed because their TTL passed."),
		lruEvictions: desc("lru_evictions_total", "Entries evicted to stay within capacity."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.bytes
	ch <- c.maxEntries
	ch <- c.maxBytes
	ch <- c.hits
	ch <- c.misses
	ch <- c.ttlEvictions
	ch <- c.lruEvictions
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.Bytes))
	ch <- prometheus.MustNewConstMetric(c.maxEntries, prometheus.GaugeValue, float64(s.MaxEntries))
	ch <- prometheus.MustNewConstMetric(c.maxBytes, prometheus.GaugeValue, float64(s.MaxBytes))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.ttlEvictions, prometheus.CounterValue, float64(s.TTLEvictions))
	ch <- prometheus.MustNewConstMetric(c.lruEvictions, prometheus.CounterValue, float64(s.LRUEvictions))
}

var _ prometheus.Collector = (*Collector)(nil)
