// Package manager routes data requests across providers in priority order,
// skipping providers the gate excludes, retrying transient failures and
// falling back until one succeeds.
package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketdata/internal/cache"
	"marketdata/internal/dedup"
	"marketdata/internal/gate"
	"marketdata/internal/logging"
	"marketdata/internal/metrics"
	"marketdata/internal/provider"
	"marketdata/internal/provider/ratelimit"
)

const (
	DefaultMaxRetries      = 2
	DefaultBaseDelay       = 500 * time.Millisecond
	DefaultCallTimeout     = 10 * time.Second
	DefaultRateLimitWindow = 60 * time.Second
)

// Descriptor registers one adapter with the manager. It is fixed for the
// life of the Manager.
type Descriptor struct {
	// Name defaults to Adapter.Name().
	Name string
	// Lower priorities are tried first.
	Priority int
	// Capabilities defaults to Adapter.Capabilities().
	Capabilities provider.CapabilitySet
	Adapter      provider.Adapter
	// Limiter, when set, is awaited before every call.
	Limiter ratelimit.Limiter
}

// ProviderStatus is the per-provider view returned by Status.
type ProviderStatus struct {
	Capabilities     provider.CapabilitySet `json:"capabilities"`
	Priority         int                    `json:"priority"`
	RateLimited      bool                   `json:"rate_limited"`
	RemainingSeconds int                    `json:"rate_limit_remaining_seconds"`
	Circuit          gate.State             `json:"circuit"`
	Failures         int                    `json:"consecutive_failures"`
}

type Option func(*Manager)

func WithGate(g *gate.Gate) Option { return func(m *Manager) { m.gate = g } }

func WithMetrics(c *metrics.Collector) Option { return func(m *Manager) { m.metrics = c } }

func WithCaches(r *cache.Registry) Option { return func(m *Manager) { m.caches = r } }

// WithDeduplicator coalesces concurrent identical single-item requests.
// Nil disables coalescing.
func WithDeduplicator(d *dedup.Deduplicator) Option { return func(m *Manager) { m.dedup = d } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = logging.OrNop(l) } }

// WithRetry sets the local retry budget for transient errors and the
// base of the exponential backoff (base * 2^attempt).
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(m *Manager) {
		if maxRetries >= 0 {
			m.maxRetries = maxRetries
		}
		if baseDelay >= 0 {
			m.baseDelay = baseDelay
		}
	}
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// WithDefaultCooldown is used when a rate-limit signal carries no hint.
func WithDefaultCooldown(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultCooldown = d
		}
	}
}

// WithClock replaces time.Now for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleep replaces the backoff sleep, mostly for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	providers []Descriptor

	gate    *gate.Gate
	metrics *metrics.Collector
	caches  *cache.Registry
	dedup   *dedup.Deduplicator
	log     *zap.Logger

	maxRetries      int
	baseDelay       time.Duration
	callTimeout     time.Duration
	defaultCooldown time.Duration
	now             func() time.Time
	sleep           func(context.Context, time.Duration) error
}

// New validates descs and builds a Manager. Collaborators not supplied by
// options are created with defaults.
func New(descs []Descriptor, opts ...Option) (*Manager, error) {
	m := &Manager{
		log:             zap.NewNop(),
		maxRetries:      DefaultMaxRetries,
		baseDelay:       DefaultBaseDelay,
		callTimeout:     DefaultCallTimeout,
		defaultCooldown: DefaultRateLimitWindow,
		now:             time.Now,
		sleep:           sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.gate == nil {
		m.gate = gate.New()
	}
	if m.metrics == nil {
		m.metrics = metrics.New(metrics.WithCircuits(m.gate))
	}
	if m.caches == nil {
		m.caches = cache.NewRegistry(cache.DefaultTTLs(), m.metrics)
	}

	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if d.Adapter == nil {
			return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "provider descriptor without adapter")
		}
		if d.Name == "" {
			d.Name = d.Adapter.Name()
		}
		if d.Capabilities == 0 {
			d.Capabilities = d.Adapter.Capabilities()
		}
		if _, dup := seen[d.Name]; dup {
			return nil, platformerrors.Newf(platformerrors.CodeInvalidConfig, "duplicate provider %q", d.Name)
		}
		seen[d.Name] = struct{}{}
		if err := checkCapabilities(d); err != nil {
			return nil, err
		}
		m.providers = append(m.providers, d)
	}
	sort.SliceStable(m.providers, func(i, j int) bool {
		return m.providers[i].Priority < m.providers[j].Priority
	})
	for _, d := range m.providers {
		m.log.Info("provider registered",
			zap.String("provider", d.Name),
			zap.Int("priority", d.Priority),
			zap.Strings("capabilities", d.Capabilities.Strings()))
	}
	return m, nil
}

// checkCapabilities rejects a declared capability the adapter cannot serve.
func checkCapabilities(d Descriptor) error {
	a := d.Adapter
	var ok bool
	for _, c := range d.Capabilities.List() {
		switch c {
		case provider.CapQuote:
			ok = true
		case provider.CapHistorical:
			_, ok = a.(provider.HistoricalSource)
		case provider.CapFundamentals:
			_, ok = a.(provider.FundamentalsSource)
		case provider.CapOptions:
			_, ok = a.(provider.OptionsSource)
		case provider.CapForex:
			_, ok = a.(provider.ForexSource)
		case provider.CapFutures:
			_, ok = a.(provider.FuturesSource)
		case provider.CapEconomy:
			_, ok = a.(provider.EconomySource)
		}
		if !ok {
			return platformerrors.Newf(platformerrors.CodeInvalidConfig,
				"provider %q declares %s but does not implement it", d.Name, c)
		}
	}
	return nil
}

// Providers returns the registered provider names in priority order.
func (m *Manager) Providers() []string {
	out := make([]string, len(m.providers))
	for i, d := range m.providers {
		out[i] = d.Name
	}
	return out
}

// Caches exposes the cache registry for admin operations.
func (m *Manager) Caches() *cache.Registry { return m.caches }

// Stats returns the metrics snapshot.
func (m *Manager) Stats() metrics.Snapshot { return m.metrics.AllStats() }

// Status reports capabilities, cooldown and circuit state per provider.
func (m *Manager) Status() map[string]ProviderStatus {
	out := make(map[string]ProviderStatus, len(m.providers))
	for _, d := range m.providers {
		a := m.gate.Snapshot(d.Name)
		out[d.Name] = ProviderStatus{
			Capabilities:     d.Capabilities,
			Priority:         d.Priority,
			RateLimited:      a.RateLimited,
			RemainingSeconds: int((a.Remaining + time.Second - 1) / time.Second),
			Circuit:          a.Circuit,
			Failures:         a.Failures,
		}
	}
	return out
}

// HealthCheck checks every provider concurrently, outside normal selection.
// A provider answering with a rate limit is up, so it counts as healthy.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(m.providers))
	var mu sync.Mutex
	var g errgroup.Group
	for _, d := range m.providers {
		g.Go(func() error {
			err := m.checkHealth(ctx, d)
			healthy := err == nil || provider.IsRateLimited(err)
			if !healthy {
				m.log.Warn("health check failed", zap.String("provider", d.Name), zap.Error(err))
			}
			mu.Lock()
			out[d.Name] = healthy
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (m *Manager) checkHealth(ctx context.Context, d Descriptor) (err error) {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = provider.Failed(d.Name, "health check panic: %v", rec)
		}
	}()
	return d.Adapter.HealthCheck(cctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
