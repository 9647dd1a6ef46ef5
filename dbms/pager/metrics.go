package pager

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CacheCollector exports a Cache's counters to Prometheus.
type CacheCollector struct {
	cache *Cache

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	resident  *prometheus.Desc
	indexed   *prometheus.Desc
	capacity  *prometheus.Desc
}

var _ prometheus.Collector = (*CacheCollector)(nil)

// NewCacheCollector returns a collector for c. constLabels are attached to
// every series, e.g. the file the cache belongs to.
func NewCacheCollector(c *Cache, constLabels prometheus.Labels) *CacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("pagetree", "cache", name), help, nil, constLabels)
	}
	return &CacheCollector{
		cache:     c,
		hits:      desc("hits_total", "Page lookups served from memory."),
		misses:    desc("misses_total", "Page lookups that read the page file."),
		evictions: desc("evictions_total", "Pages removed from the LRU list."),
		resident:  desc("resident_pages", "Pages on the LRU list."),
		indexed:   desc("indexed_pages", "Resident pages plus evicted pages still pinned."),
		capacity:  desc("capacity_pages", "Maximum number of resident pages."),
	}
}

func (cc *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cc.hits
	ch <- cc.misses
	ch <- cc.evictions
	ch <- cc.resident
	ch <- cc.indexed
	ch <- cc.capacity
}

func (cc *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := cc.cache.Stats()
	ch <- prometheus.MustNewConstMetric(cc.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(cc.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(cc.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(cc.resident, prometheus.GaugeValue, float64(s.Resident))
	ch <- prometheus.MustNewConstMetric(cc.indexed, prometheus.GaugeValue, float64(s.Indexed))
	ch <- prometheus.MustNewConstMetric(cc.capacity, prometheus.GaugeValue, float64(s.Capacity))
}
