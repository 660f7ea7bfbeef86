// Package metrics records per-provider call outcomes, request rate and
// cache hit rates. It observes the gate and the caches but never changes
// them.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketdata/internal/cache"
	"marketdata/internal/provider"
)

const (
	latencyWindow = 100
	requestWindow = 1000
)

// CircuitReader exposes circuit state by provider name.
type CircuitReader interface {
	CircuitState(name string) string
}

type Option func(*Collector)

func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCircuits lets snapshots report circuit state and health.
func WithCircuits(r CircuitReader) Option {
	return func(c *Collector) { c.circuits = r }
}

type providerRecord struct {
	requests     uint64
	successes    uint64
	errors       uint64
	totalLatency time.Duration
	latencies    *ring[time.Duration]
	lastError    string
	lastErrorAt  time.Time
}

// ProviderStats is the derived view of one provider's record.
type ProviderStats struct {
	Name         string     `json:"name"`
	Requests     uint64     `json:"requests"`
	Successes    uint64     `json:"successes"`
	Errors       uint64     `json:"errors"`
	SuccessRate  float64    `json:"success_rate"`
	AvgLatencyMs float64    `json:"avg_latency_ms"`
	P95LatencyMs float64    `json:"p95_latency_ms"`
	LastError    string     `json:"last_error,omitempty"`
	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`
	Circuit      string     `json:"circuit,omitempty"`
	Healthy      bool       `json:"healthy"`
}

// CacheSummary aggregates the registered caches.
type CacheSummary struct {
	OverallHitRate float64                `json:"overall_hit_rate"`
	Caches         map[string]cache.Stats `json:"caches"`
}

// Snapshot is the full stats view served to operators.
type Snapshot struct {
	UptimeSeconds     float64                  `json:"uptime_seconds"`
	RequestsPerMinute int                      `json:"requests_per_minute"`
	Cache             CacheSummary             `json:"cache"`
	Providers         map[string]ProviderStats `json:"providers"`
}

// Collector is safe for concurrent use.
type Collector struct {
	now      func() time.Time
	circuits CircuitReader
	started  time.Time

	mu        sync.Mutex
	providers map[string]*providerRecord
	requests  *ring[time.Time]
	caches    map[string]cache.StatsSource

	latency *prometheus.HistogramVec
}

func New(opts ...Option) *Collector {
	c := &Collector{
		now:       time.Now,
		providers: make(map[string]*providerRecord),
		requests:  newRing[time.Time](requestWindow),
		caches:    make(map[string]cache.StatsSource),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdata_provider_latency_seconds",
			Help:    "Latency of successful provider calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.now()
	return c
}

// RegisterCache adds a named cache to the hit-rate report.
func (c *Collector) RegisterCache(name string, src cache.StatsSource) {
	c.mu.Lock()
	c.caches[name] = src
	c.mu.Unlock()
}

// RecordRequest stamps one incoming request for the rate window.
func (c *Collector) RecordRequest() {
	c.mu.Lock()
	c.requests.push(c.now())
	c.mu.Unlock()
}

// record returns the record for name, creating it on first use. Callers
// hold c.mu.
func (c *Collector) record(name string) *providerRecord {
	r, ok := c.providers[name]
	if !ok {
		r = &providerRecord{latencies: newRing[time.Duration](latencyWindow)}
		c.providers[name] = r
	}
	return r
}

func (c *Collector) RecordSuccess(name string, latency time.Duration) {
	c.mu.Lock()
	r := c.record(name)
	r.requests++
	r.successes++
	r.totalLatency += latency
	r.latencies.push(latency)
	c.mu.Unlock()
	c.latency.WithLabelValues(name).Observe(latency.Seconds())
}

func (c *Collector) RecordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.record(name)
	r.requests++
	r.errors++
	r.lastErrorAt = c.now()
	r.lastError = provider.Message(err)
}

// Provider returns the stats for name. ok is false if nothing has been
// recorded for it yet.
func (c *Collector) Provider(name string) (ProviderStats, bool) {
	c.mu.Lock()
	r, ok := c.providers[name]
	var st ProviderStats
	if ok {
		st = r.stats(name)
	}
	c.mu.Unlock()
	if ok {
		c.decorate(&st)
	}
	return st, ok
}

// RequestsPerMinute counts stamped requests newer than one minute ago.
func (c *Collector) RequestsPerMinute() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsPerMinuteLocked(c.now())
}

func (c *Collector) requestsPerMinuteLocked(now time.Time) int {
	cutoff := now.Add(-time.Minute)
	n := 0
	for _, ts := range c.requests.snapshot() {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Uptime is the time since the collector was built.
func (c *Collector) Uptime() time.Duration {
	return c.now().Sub(c.started)
}

// AllStats returns the full snapshot.
func (c *Collector) AllStats() Snapshot {
	c.mu.Lock()
	now := c.now()
	snap := Snapshot{
		UptimeSeconds:     now.Sub(c.started).Seconds(),
		RequestsPerMinute: c.requestsPerMinuteLocked(now),
		Cache:             CacheSummary{Caches: make(map[string]cache.Stats, len(c.caches))},
		Providers:         make(map[string]ProviderStats, len(c.providers)),
	}
	sources := make(map[string]cache.StatsSource, len(c.caches))
	for name, src := range c.caches {
		sources[name] = src
	}
	for name, r := range c.providers {
		snap.Providers[name] = r.stats(name)
	}
	c.mu.Unlock()

	var hits, misses uint64
	for name, src := range sources {
		st := src.Stats()
		snap.Cache.Caches[name] = st
		hits += st.Hits
		misses += st.Misses
	}
	snap.Cache.OverallHitRate = cache.HitRate(hits, misses)
	for name, st := range snap.Providers {
		c.decorate(&st)
		snap.Providers[name] = st
	}
	return snap
}

// ProviderNames returns every provider with a record, sorted.
func (c *Collector) ProviderNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.providers))
	for n := range c.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Collector) decorate(st *ProviderStats) {
	st.Healthy = true
	if c.circuits == nil {
		return
	}
	st.Circuit = c.circuits.CircuitState(st.Name)
	st.Healthy = st.Circuit != "open"
}

func (r *providerRecord) stats(name string) ProviderStats {
	st := ProviderStats{
		Name:        name,
		Requests:    r.requests,
		Successes:   r.successes,
		Errors:      r.errors,
		SuccessRate: 100,
		LastError:   r.lastError,
	}
	if r.requests > 0 {
		st.SuccessRate = float64(r.successes) / float64(r.requests) * 100
	}
	if r.successes > 0 {
		st.AvgLatencyMs = ms(r.totalLatency) / float64(r.successes)
	}
	if r.latencies.len() > 0 {
		sorted := r.latencies.snapshot()
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		idx := int(float64(len(sorted)) * 0.95)
		if idx > len(sorted)-1 {
			idx = len(sorted) - 1
		}
		st.P95LatencyMs = ms(sorted[idx])
	}
	if !r.lastErrorAt.IsZero() {
		at := r.lastErrorAt
		st.LastErrorAt = &at
	}
	return st
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
