package manager_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketdata/internal/cache"
	"marketdata/internal/dedup"
	"marketdata/internal/gate"
	"marketdata/internal/manager"
	"marketdata/internal/provider"
	"marketdata/internal/provider/providermock"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// delays records backoff sleeps without waiting.
type delays struct {
	mu  sync.Mutex
	got []time.Duration
}

func (d *delays) sleep(_ context.Context, v time.Duration) error {
	d.mu.Lock()
	d.got = append(d.got, v)
	d.mu.Unlock()
	return nil
}

func quote(sym, provName string, price int64) provider.Quote {
	return provider.Quote{Symbol: sym, Price: decimal.NewFromInt(price), Provider: provName}
}

func desc(name string, prio int, a provider.Adapter, caps ...provider.Capability) manager.Descriptor {
	if len(caps) == 0 {
		caps = []provider.Capability{provider.CapQuote}
	}
	return manager.Descriptor{Name: name, Priority: prio, Capabilities: provider.Capabilities(caps...), Adapter: a}
}

// historicalAdapter serves historical bars on top of a mocked core.
type historicalAdapter struct {
	*providermock.MockAdapter
	bars  []provider.Bar
	err   error
	calls *atomic.Int32
}

func (h historicalAdapter) Historical(context.Context, string, string, string) ([]provider.Bar, error) {
	if h.calls != nil {
		h.calls.Add(1)
	}
	return h.bars, h.err
}

func TestNew_RejectsBadDescriptors(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)

	_, err := manager.New([]manager.Descriptor{{Name: "x"}})
	require.Error(t, err)

	_, err = manager.New([]manager.Descriptor{desc("a", 0, a), desc("a", 1, a)})
	require.ErrorContains(t, err, "duplicate provider")

	_, err = manager.New([]manager.Descriptor{desc("a", 0, a, provider.CapQuote, provider.CapHistorical)})
	require.ErrorContains(t, err, "does not implement")
}

func TestQuote_HighestPriorityWins(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)
	c := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Quote(gomock.Any(), "AAPL").Return(quote("AAPL", "a", 190), nil).Times(1)

	// Registered out of order on purpose.
	m, err := manager.New([]manager.Descriptor{desc("c", 10, c), desc("a", 0, a), desc("b", 5, b)})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, m.Providers())

	got, err := m.Quote(t.Context(), " aapl ")
	require.NoError(t, err)
	require.Equal(t, "a", got.Provider)
}

func TestQuote_ServedFromCache(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Quote(gomock.Any(), "MSFT").Return(quote("MSFT", "a", 410), nil).Times(1)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)})
	require.NoError(t, err)

	for range 3 {
		got, err := m.Quote(t.Context(), "MSFT")
		require.NoError(t, err)
		require.True(t, got.Price.Equal(decimal.NewFromInt(410)))
	}
	require.EqualValues(t, 2, m.Caches().Quotes.Stats().Hits)
}

func TestQuote_RateLimitCoolsDownProvider(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	clock := newClock()
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)

	g := gate.New(gate.WithClock(clock.Now))
	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b)}, manager.WithGate(g))
	require.NoError(t, err)

	// Arrange: a is rate limited once, b picks up the slack.
	a.EXPECT().Quote(gomock.Any(), "AAPL").Return(provider.Quote{}, provider.RateLimited("a", 60*time.Second)).Times(1)
	b.EXPECT().Quote(gomock.Any(), "AAPL").Return(quote("AAPL", "b", 190), nil)

	got, err := m.Quote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, "b", got.Provider)

	st := m.Status()["a"]
	require.True(t, st.RateLimited)
	require.Equal(t, 60, st.RemainingSeconds)
	require.Equal(t, gate.Closed, st.Circuit)
	require.Zero(t, st.Failures)

	// Still cooling down at 59s: a must not be called.
	clock.Advance(59 * time.Second)
	b.EXPECT().Quote(gomock.Any(), "MSFT").Return(quote("MSFT", "b", 410), nil)
	_, err = m.Quote(t.Context(), "MSFT")
	require.NoError(t, err)

	// Selectable again once the full window has passed.
	clock.Advance(time.Second)
	a.EXPECT().Quote(gomock.Any(), "NVDA").Return(quote("NVDA", "a", 120), nil)
	got, err = m.Quote(t.Context(), "NVDA")
	require.NoError(t, err)
	require.Equal(t, "a", got.Provider)
	require.False(t, m.Status()["a"].RateLimited)
}

func TestQuote_RateLimitWithoutHintUsesDefaultCooldown(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Quote(gomock.Any(), "AAPL").Return(provider.Quote{}, provider.RateLimited("a", 0))

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)}, manager.WithDefaultCooldown(90*time.Second))
	require.NoError(t, err)

	_, err = m.Quote(t.Context(), "AAPL")
	require.True(t, provider.IsRateLimited(err))
	require.InDelta(t, 90, m.Status()["a"].RemainingSeconds, 1)

	// Cooling down and alone: nothing left to try.
	_, err = m.Quote(t.Context(), "MSFT")
	require.True(t, provider.IsUnavailable(err))
}

func TestQuote_CircuitOpensAndRecovers(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	clock := newClock()
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)

	g := gate.New(gate.WithClock(clock.Now), gate.WithFailureThreshold(3), gate.WithRecoveryTimeout(30*time.Second))
	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b)}, manager.WithGate(g))
	require.NoError(t, err)

	b.EXPECT().Quote(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, sym string) (provider.Quote, error) {
		return quote(sym, "b", 1), nil
	}).AnyTimes()

	// Three definitive failures open a's circuit.
	a.EXPECT().Quote(gomock.Any(), gomock.Any()).Return(provider.Quote{}, provider.Failed("a", "bad payload")).Times(3)
	for i, sym := range []string{"S1", "S2", "S3"} {
		_, err := m.Quote(t.Context(), sym)
		require.NoError(t, err)
		if i < 2 {
			require.Equal(t, gate.Closed, m.Status()["a"].Circuit)
		}
	}
	require.Equal(t, gate.Open, m.Status()["a"].Circuit)

	// Open: a is skipped entirely.
	got, err := m.Quote(t.Context(), "S4")
	require.NoError(t, err)
	require.Equal(t, "b", got.Provider)

	// After the recovery timeout one trial goes through and closes it.
	clock.Advance(31 * time.Second)
	a.EXPECT().Quote(gomock.Any(), "S5").Return(quote("S5", "a", 5), nil).Times(1)
	got, err = m.Quote(t.Context(), "S5")
	require.NoError(t, err)
	require.Equal(t, "a", got.Provider)

	st := m.Status()["a"]
	require.Equal(t, gate.Closed, st.Circuit)
	require.Zero(t, st.Failures)
}

func TestQuote_FailedTrialReopensCircuit(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	clock := newClock()
	a := providermock.NewMockAdapter(ctrl)

	g := gate.New(gate.WithClock(clock.Now), gate.WithFailureThreshold(1), gate.WithRecoveryTimeout(30*time.Second))
	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)}, manager.WithGate(g))
	require.NoError(t, err)

	a.EXPECT().Quote(gomock.Any(), gomock.Any()).Return(provider.Quote{}, provider.Failed("a", "boom")).Times(2)

	_, err = m.Quote(t.Context(), "AAPL")
	require.Error(t, err)
	require.Equal(t, gate.Open, m.Status()["a"].Circuit)

	clock.Advance(31 * time.Second)
	_, err = m.Quote(t.Context(), "AAPL")
	require.Error(t, err)
	require.Equal(t, gate.Open, m.Status()["a"].Circuit)

	_, err = m.Quote(t.Context(), "AAPL")
	require.True(t, provider.IsUnavailable(err))
}

func TestQuote_RetriesTransientWithBackoff(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)
	var slept delays

	gomock.InOrder(
		a.EXPECT().Quote(gomock.Any(), "AAPL").Return(provider.Quote{}, errors.New("connection reset")).Times(3),
		b.EXPECT().Quote(gomock.Any(), "AAPL").Return(quote("AAPL", "b", 190), nil),
	)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b)}, manager.WithSleep(slept.sleep))
	require.NoError(t, err)

	got, err := m.Quote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, "b", got.Provider)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, slept.got)

	// Exhausted retries count once against the circuit.
	require.Equal(t, 1, m.Status()["a"].Failures)
	st, ok := m.Stats().Providers["a"]
	require.True(t, ok)
	require.EqualValues(t, 3, st.Errors)
}

func TestQuote_TransientRecoversOnRetry(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	var slept delays

	gomock.InOrder(
		a.EXPECT().Quote(gomock.Any(), "AAPL").Return(provider.Quote{}, provider.Transient("a", context.DeadlineExceeded, "timeout")),
		a.EXPECT().Quote(gomock.Any(), "AAPL").Return(quote("AAPL", "a", 190), nil),
	)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)}, manager.WithSleep(slept.sleep))
	require.NoError(t, err)

	_, err = m.Quote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, []time.Duration{500 * time.Millisecond}, slept.got)
	require.Zero(t, m.Status()["a"].Failures)
}

func TestQuote_DefinitiveErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	var slept delays
	a.EXPECT().Quote(gomock.Any(), "AAPL").Return(provider.Quote{}, provider.Failed("a", "unauthorized")).Times(1)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)}, manager.WithSleep(slept.sleep))
	require.NoError(t, err)

	_, err = m.Quote(t.Context(), "AAPL")
	require.ErrorContains(t, err, "unauthorized")
	require.Empty(t, slept.got)
}

func TestQuote_NotFoundWinsOverFailures(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Quote(gomock.Any(), "ZZZZ").Return(provider.Quote{}, provider.NotFound("a", "ZZZZ"))
	b.EXPECT().Quote(gomock.Any(), "ZZZZ").Return(provider.Quote{}, provider.Failed("b", "bad payload"))

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b)})
	require.NoError(t, err)

	_, err = m.Quote(t.Context(), "ZZZZ")
	require.True(t, provider.IsNotFound(err))
	require.Zero(t, m.Status()["a"].Failures)
	require.Equal(t, 1, m.Status()["b"].Failures)
}

func TestOperations_NoProvidersFailsFast(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)})
	require.NoError(t, err)

	_, err = m.Historical(t.Context(), "AAPL", "1mo", "1d")
	require.True(t, provider.IsUnavailable(err))
	require.ErrorContains(t, err, "no providers available")

	_, err = m.EconomyData(t.Context(), "cpi")
	require.True(t, provider.IsUnavailable(err))

	empty, err := manager.New(nil)
	require.NoError(t, err)
	_, err = empty.Quote(t.Context(), "AAPL")
	require.True(t, provider.IsUnavailable(err))
	_, err = empty.Quotes(t.Context(), []string{"AAPL"})
	require.True(t, provider.IsUnavailable(err))
}

func TestQuote_RejectsBlankSymbol(t *testing.T) {
	t.Parallel()
	m, err := manager.New(nil)
	require.NoError(t, err)

	_, err = m.Quote(t.Context(), "   ")
	require.ErrorContains(t, err, "symbol is required")
}

func TestHistorical_UnsupportedIsSkipped(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	bars := []provider.Bar{{Close: decimal.NewFromInt(10)}, {Close: decimal.NewFromInt(11)}}
	a := historicalAdapter{MockAdapter: providermock.NewMockAdapter(ctrl), err: provider.Unsupported("a", provider.CapHistorical)}
	b := historicalAdapter{MockAdapter: providermock.NewMockAdapter(ctrl), bars: bars}

	m, err := manager.New([]manager.Descriptor{
		desc("a", 0, a, provider.CapQuote, provider.CapHistorical),
		desc("b", 5, b, provider.CapQuote, provider.CapHistorical),
	})
	require.NoError(t, err)

	got, err := m.Historical(t.Context(), "aapl", "1MO", "1d")
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, recorded := m.Stats().Providers["a"]
	require.False(t, recorded)
	require.Zero(t, m.Status()["a"].Failures)

	cached, ok := m.Caches().Historical.Get("AAPL:1mo:1d")
	require.True(t, ok)
	require.Len(t, cached, 2)
}

func TestHistorical_IntradayBarsExpireWithIntradayTTL(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	clock := newClock()
	var calls atomic.Int32
	a := historicalAdapter{
		MockAdapter: providermock.NewMockAdapter(ctrl),
		bars:        []provider.Bar{{Timestamp: clock.Now(), Close: decimal.NewFromInt(1)}},
		calls:       &calls,
	}
	caches := cache.NewRegistry(cache.DefaultTTLs(), nil, cache.WithClock(clock.Now))

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a, provider.CapQuote, provider.CapHistorical)},
		manager.WithCaches(caches))
	require.NoError(t, err)

	fetch := func(period, interval string) {
		t.Helper()
		_, err := m.Historical(t.Context(), "AAPL", period, interval)
		require.NoError(t, err)
	}

	fetch("1d", "5m")
	fetch("1d", "5m")
	fetch("1y", "1d")
	require.EqualValues(t, 2, calls.Load())

	// Past the intraday TTL the 5m bars are refetched.
	clock.Advance(61 * time.Second)
	fetch("1d", "5m")
	require.EqualValues(t, 3, calls.Load())

	// Daily bars keep the historical TTL.
	clock.Advance(6 * time.Hour)
	fetch("1y", "1d")
	require.EqualValues(t, 3, calls.Load())
}

func TestQuotes_PartialResultsFallThrough(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)

	gomock.InOrder(
		a.EXPECT().Quotes(gomock.Any(), []string{"AAPL", "MSFT", "GOOGL", "TSLA", "NFLX"}).Return(map[string]provider.Quote{
			"AAPL": quote("AAPL", "a", 1),
			"MSFT": quote("MSFT", "a", 2),
		}, nil),
		b.EXPECT().Quotes(gomock.Any(), []string{"GOOGL", "TSLA", "NFLX"}).Return(map[string]provider.Quote{
			"GOOGL": quote("GOOGL", "b", 3),
			"TSLA":  quote("TSLA", "b", 4),
			"NFLX":  quote("NFLX", "b", 5),
			// Not asked for; must be ignored.
			"AMZN": quote("AMZN", "b", 6),
		}, nil),
	)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b)})
	require.NoError(t, err)

	got, err := m.Quotes(t.Context(), []string{"AAPL", "msft", "GOOGL", "TSLA", "NFLX", "AAPL"})
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, "a", got["AAPL"].Provider)
	require.Equal(t, "a", got["MSFT"].Provider)
	require.Equal(t, "b", got["GOOGL"].Provider)
	require.Equal(t, "b", got["TSLA"].Provider)
	require.Equal(t, "b", got["NFLX"].Provider)

	// Everything is cached now.
	again, err := m.Quotes(t.Context(), []string{"NFLX", "AAPL"})
	require.NoError(t, err)
	require.Len(t, again, 2)
	_, ok := m.Caches().Quotes.Get("AMZN")
	require.False(t, ok)
}

func TestQuotes_IncompleteIsNotAnError(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)
	var slept delays

	a.EXPECT().Quotes(gomock.Any(), []string{"AAPL", "XXXX"}).Return(nil, errors.New("connection reset")).Times(1)
	b.EXPECT().Quotes(gomock.Any(), []string{"AAPL", "XXXX"}).Return(map[string]provider.Quote{
		"AAPL": quote("AAPL", "b", 1),
	}, nil)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b)}, manager.WithSleep(slept.sleep))
	require.NoError(t, err)

	got, err := m.Quotes(t.Context(), []string{"AAPL", "XXXX"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Empty(t, slept.got)
}

func TestQuotes_CachedResultsWhenNoProviderLeft(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Quote(gomock.Any(), "AAPL").Return(quote("AAPL", "a", 1), nil)
	a.EXPECT().Quotes(gomock.Any(), []string{"MSFT"}).Return(nil, provider.RateLimited("a", time.Minute))

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)})
	require.NoError(t, err)
	_, err = m.Quote(t.Context(), "AAPL")
	require.NoError(t, err)

	got, err := m.Quotes(t.Context(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// a is cooling down now; cached data is still served.
	got, err = m.Quotes(t.Context(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Contains(t, got, "AAPL")
}

func TestQuote_CanceledContextStopsChain(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)

	ctx, cancel := context.WithCancel(t.Context())
	a.EXPECT().Quote(gomock.Any(), "AAPL").DoAndReturn(func(ctx context.Context, _ string) (provider.Quote, error) {
		cancel()
		return provider.Quote{}, ctx.Err()
	})

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b)})
	require.NoError(t, err)

	_, err = m.Quote(ctx, "AAPL")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, m.Status()["a"].Failures)
}

func TestQuote_ConcurrentCallsCoalesce(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Quote(gomock.Any(), "AAPL").DoAndReturn(func(context.Context, string) (provider.Quote, error) {
		time.Sleep(50 * time.Millisecond)
		return quote("AAPL", "a", 190), nil
	}).Times(1)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)}, manager.WithDeduplicator(dedup.New(time.Minute)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Quote(context.Background(), "AAPL")
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestQuote_PanickingProviderFailsOver(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Quote(gomock.Any(), "AAPL").DoAndReturn(func(context.Context, string) (provider.Quote, error) {
		panic("index out of range")
	}).Times(1)
	b.EXPECT().Quote(gomock.Any(), "AAPL").Return(quote("AAPL", "b", 190), nil)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b)},
		manager.WithDeduplicator(dedup.New(100*time.Millisecond)))
	require.NoError(t, err)

	got, err := m.Quote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, "b", got.Provider)
	require.Equal(t, 1, m.Status()["a"].Failures)
}

func TestHealthCheck_PanicIsUnhealthy(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)
	a.EXPECT().HealthCheck(gomock.Any()).DoAndReturn(func(context.Context) error { panic("nil client") })
	b.EXPECT().HealthCheck(gomock.Any()).Return(nil)

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b)})
	require.NoError(t, err)

	require.Equal(t, map[string]bool{"a": false, "b": true}, m.HealthCheck(t.Context()))
}

func TestStatus_RemainingSecondsRoundsUp(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	clock := newClock()
	a := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Quote(gomock.Any(), "AAPL").Return(provider.Quote{}, provider.RateLimited("a", time.Minute))

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)}, manager.WithGate(gate.New(gate.WithClock(clock.Now))))
	require.NoError(t, err)
	_, err = m.Quote(t.Context(), "AAPL")
	require.True(t, provider.IsRateLimited(err))

	clock.Advance(59*time.Second + 600*time.Millisecond)
	st := m.Status()["a"]
	require.True(t, st.RateLimited)
	require.Equal(t, 1, st.RemainingSeconds)

	clock.Advance(time.Second)
	st = m.Status()["a"]
	require.False(t, st.RateLimited)
	require.Zero(t, st.RemainingSeconds)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	b := providermock.NewMockAdapter(ctrl)
	c := providermock.NewMockAdapter(ctrl)
	a.EXPECT().HealthCheck(gomock.Any()).Return(nil)
	b.EXPECT().HealthCheck(gomock.Any()).Return(provider.RateLimited("b", time.Minute))
	c.EXPECT().HealthCheck(gomock.Any()).Return(errors.New("dial tcp: refused"))

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a), desc("b", 5, b), desc("c", 10, c)})
	require.NoError(t, err)

	require.Equal(t, map[string]bool{"a": true, "b": true, "c": false}, m.HealthCheck(t.Context()))
}

func TestStats_RecordsOutcomes(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Quote(gomock.Any(), "AAPL").Return(quote("AAPL", "a", 1), nil)
	a.EXPECT().Quote(gomock.Any(), "ZZZZ").Return(provider.Quote{}, provider.NotFound("a", "ZZZZ"))

	m, err := manager.New([]manager.Descriptor{desc("a", 0, a)})
	require.NoError(t, err)

	_, _ = m.Quote(t.Context(), "AAPL")
	_, _ = m.Quote(t.Context(), "ZZZZ")

	snap := m.Stats()
	st := snap.Providers["a"]
	require.EqualValues(t, 2, st.Requests)
	require.EqualValues(t, 1, st.Successes)
	require.Equal(t, "no data for ZZZZ", st.LastError)
	require.True(t, st.Healthy)
	require.Equal(t, 2, snap.RequestsPerMinute)
}
