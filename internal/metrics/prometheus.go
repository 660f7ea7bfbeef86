package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	descRequests = prometheus.NewDesc(
		"marketdata_provider_requests_total",
		"Provider calls by outcome",
		[]string{"provider", "outcome"}, nil)
	descSuccessRate = prometheus.NewDesc(
		"marketdata_provider_success_rate",
		"Provider success rate in percent",
		[]string{"provider"}, nil)
	descP95 = prometheus.NewDesc(
		"marketdata_provider_latency_p95_ms",
		"p95 over the recent latency window",
		[]string{"provider"}, nil)
	descHealthy = prometheus.NewDesc(
		"marketdata_provider_healthy",
		"1 when the provider circuit is not open",
		[]string{"provider"}, nil)
	descCacheHits = prometheus.NewDesc(
		"marketdata_cache_hits_total",
		"Cache hits by cache name",
		[]string{"cache"}, nil)
	descCacheMisses = prometheus.NewDesc(
		"marketdata_cache_misses_total",
		"Cache misses by cache name",
		[]string{"cache"}, nil)
	descCacheSize = prometheus.NewDesc(
		"marketdata_cache_entries",
		"Entries currently held by each cache",
		[]string{"cache"}, nil)
	descRPM = prometheus.NewDesc(
		"marketdata_requests_per_minute",
		"Requests seen over the last minute",
		nil, nil)
	descUptime = prometheus.NewDesc(
		"marketdata_uptime_seconds",
		"Seconds since the collector started",
		nil, nil)
)

// Register adds the collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	return reg.Register(c)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descRequests, descSuccessRate, descP95, descHealthy,
		descCacheHits, descCacheMisses, descCacheSize, descRPM, descUptime,
	} {
		ch <- d
	}
	c.latency.Describe(ch)
}

// Collect implements prometheus.Collector. Values are derived from the
// same snapshot AllStats serves.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.AllStats()
	for name, p := range snap.Providers {
		ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(p.Successes), name, "success")
		ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(p.Errors), name, "error")
		ch <- prometheus.MustNewConstMetric(descSuccessRate, prometheus.GaugeValue, p.SuccessRate, name)
		ch <- prometheus.MustNewConstMetric(descP95, prometheus.GaugeValue, p.P95LatencyMs, name)
		healthy := 0.0
		if p.Healthy {
			healthy = 1
		}
		ch <- prometheus.MustNewConstMetric(descHealthy, prometheus.GaugeValue, healthy, name)
	}
	for name, st := range snap.Cache.Caches {
		ch <- prometheus.MustNewConstMetric(descCacheHits, prometheus.CounterValue, float64(st.Hits), name)
		ch <- prometheus.MustNewConstMetric(descCacheMisses, prometheus.CounterValue, float64(st.Misses), name)
		ch <- prometheus.MustNewConstMetric(descCacheSize, prometheus.GaugeValue, float64(st.Size), name)
	}
	ch <- prometheus.MustNewConstMetric(descRPM, prometheus.GaugeValue, float64(snap.RequestsPerMinute))
	ch <- prometheus.MustNewConstMetric(descUptime, prometheus.GaugeValue, snap.UptimeSeconds)
	c.latency.Collect(ch)
}
