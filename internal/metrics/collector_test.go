package metrics_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/cache"
	"marketdata/internal/metrics"
	"marketdata/internal/provider"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticCircuits map[string]string

func (s staticCircuits) CircuitState(name string) string {
	if st, ok := s[name]; ok {
		return st
	}
	return "closed"
}

func TestProviderStats_DefaultsWithNoRequests(t *testing.T) {
	t.Parallel()

	c := metrics.New()
	_, ok := c.Provider("finnhub")
	require.False(t, ok)

	c.RecordFailure("finnhub", provider.NotFound("finnhub", "ZZZZ"))
	st, ok := c.Provider("finnhub")
	require.True(t, ok)
	require.EqualValues(t, 1, st.Requests)
	require.Zero(t, st.SuccessRate)
	require.Zero(t, st.AvgLatencyMs, "no successes means no average")
	require.Equal(t, "no data for ZZZZ", st.LastError)
	require.NotNil(t, st.LastErrorAt)
}

func TestProviderStats_SuccessRateAndLatency(t *testing.T) {
	t.Parallel()

	c := metrics.New()
	c.RecordSuccess("yahoo", 100*time.Millisecond)
	c.RecordSuccess("yahoo", 300*time.Millisecond)
	c.RecordFailure("yahoo", errors.New("boom"))

	st, _ := c.Provider("yahoo")
	assert.InDelta(t, 66.666, st.SuccessRate, 0.01)
	assert.InDelta(t, 200, st.AvgLatencyMs, 0.001)
	assert.InDelta(t, 300, st.P95LatencyMs, 0.001)
	require.Equal(t, "boom", st.LastError)
	require.True(t, st.Healthy)
}

func TestProviderStats_P95UsesRecentWindow(t *testing.T) {
	t.Parallel()

	c := metrics.New()
	// 150 samples: only the last 100 (51..150ms) stay in the window.
	for i := 1; i <= 150; i++ {
		c.RecordSuccess("fred", time.Duration(i)*time.Millisecond)
	}

	st, _ := c.Provider("fred")
	// idx = int(100*0.95) = 95 -> 51+95 = 146ms
	assert.InDelta(t, 146, st.P95LatencyMs, 0.001)
	// the average covers every success, not just the window
	assert.InDelta(t, 75.5, st.AvgLatencyMs, 0.001)
}

func TestRequestsPerMinute(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)}
	c := metrics.New(metrics.WithClock(clock.Now))

	c.RecordRequest()
	c.RecordRequest()
	clock.Advance(45 * time.Second)
	c.RecordRequest()
	require.Equal(t, 3, c.RequestsPerMinute())

	clock.Advance(20 * time.Second)
	require.Equal(t, 1, c.RequestsPerMinute())
	require.Equal(t, 65*time.Second, c.Uptime())
}

func TestAllStats_AggregatesCachesAndCircuits(t *testing.T) {
	t.Parallel()

	c := metrics.New(metrics.WithCircuits(staticCircuits{"finnhub": "open"}))
	r := cache.NewRegistry(cache.DefaultTTLs(), c)

	r.Quotes.Set("AAPL", provider.Quote{Symbol: "AAPL"})
	_, _ = r.Quotes.Get("AAPL")
	_, _ = r.Quotes.Get("MSFT")
	_, _ = r.Fundamentals.Get("AAPL")
	_, _ = r.Historical.Get("AAPL:1mo:1d")

	c.RecordSuccess("yahoo", time.Millisecond)
	c.RecordFailure("finnhub", errors.New("boom"))

	snap := c.AllStats()
	require.Len(t, snap.Cache.Caches, 7)
	assert.InDelta(t, 25, snap.Cache.OverallHitRate, 0.001)
	require.Equal(t, "open", snap.Providers["finnhub"].Circuit)
	require.False(t, snap.Providers["finnhub"].Healthy)
	require.True(t, snap.Providers["yahoo"].Healthy)
	require.Equal(t, []string{"finnhub", "yahoo"}, c.ProviderNames())
}

func TestCollector_Prometheus(t *testing.T) {
	t.Parallel()

	c := metrics.New()
	cache.NewRegistry(cache.DefaultTTLs(), c)
	c.RecordSuccess("yahoo", 20*time.Millisecond)
	c.RecordRequest()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, c.Register(reg))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"marketdata_provider_requests_total",
		"marketdata_provider_latency_seconds",
		"marketdata_cache_hits_total",
		"marketdata_requests_per_minute",
		"marketdata_uptime_seconds",
	} {
		require.Truef(t, names[want], "missing %s in %v", want, names)
	}
}
