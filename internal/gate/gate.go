// Package gate decides whether a provider may be called right now. A
// provider is eligible only when its rate-limit cooldown has passed and
// its circuit breaker is not open.
package gate

import (
	"sync"
	"time"
)

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 30 * time.Second
)

type Option func(*Gate)

func WithFailureThreshold(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.threshold = n
		}
	}
}

func WithRecoveryTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.recovery = d
		}
	}
}

// WithClock replaces time.Now for cooldown and breaker timing.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// Availability is a snapshot of one provider's gate state.
type Availability struct {
	RateLimited bool          `json:"rate_limited"`
	Remaining   time.Duration `json:"-"`
	Circuit     State         `json:"circuit"`
	Failures    int           `json:"consecutive_failures"`
}

// Gate tracks cooldowns and circuit breakers per provider name.
type Gate struct {
	threshold int
	recovery  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	cooldowns map[string]time.Time
	breakers  map[string]*CircuitBreaker
}

func New(opts ...Option) *Gate {
	g := &Gate{
		threshold: DefaultFailureThreshold,
		recovery:  DefaultRecoveryTimeout,
		now:       time.Now,
		cooldowns: make(map[string]time.Time),
		breakers:  make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// breaker returns the single breaker for name, creating it on first use.
func (g *Gate) breaker(name string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[name]
	if !ok {
		b = NewCircuitBreaker(g.threshold, g.recovery, g.now)
		g.breakers[name] = b
	}
	return b
}

// MarkRateLimited excludes name from selection for d.
func (g *Gate) MarkRateLimited(name string, d time.Duration) {
	g.mu.Lock()
	g.cooldowns[name] = g.now().Add(d)
	g.mu.Unlock()
}

func (g *Gate) ClearCooldown(name string) {
	g.mu.Lock()
	delete(g.cooldowns, name)
	g.mu.Unlock()
}

// CooldownRemaining returns how long name stays excluded, 0 if it is not
// cooling down.
func (g *Gate) CooldownRemaining(name string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.cooldowns[name]
	if !ok {
		return 0
	}
	if rem := until.Sub(g.now()); rem > 0 {
		return rem
	}
	return 0
}

// Eligible reports whether name may be selected, without claiming a
// half-open trial.
func (g *Gate) Eligible(name string) bool {
	return g.CooldownRemaining(name) == 0 && g.breaker(name).Eligible()
}

// Allow is Eligible plus the breaker's trial claim. Every true result must
// be followed by RecordSuccess, RecordFailure or Release.
func (g *Gate) Allow(name string) bool {
	if g.CooldownRemaining(name) > 0 {
		return false
	}
	return g.breaker(name).IsAvailable()
}

// RecordSuccess clears the cooldown and resets the breaker.
func (g *Gate) RecordSuccess(name string) {
	g.ClearCooldown(name)
	g.breaker(name).RecordSuccess()
}

// RecordFailure counts a failure against the breaker and reports whether
// the breaker opened.
func (g *Gate) RecordFailure(name string) bool {
	return g.breaker(name).RecordFailure()
}

// Release gives back a trial claimed by Allow when the call ended with an
// outcome that says nothing about provider health.
func (g *Gate) Release(name string) {
	g.breaker(name).Release()
}

func (g *Gate) State(name string) State {
	return g.breaker(name).State()
}

// CircuitState is State as a plain string.
func (g *Gate) CircuitState(name string) string {
	return string(g.State(name))
}

func (g *Gate) Snapshot(name string) Availability {
	b := g.breaker(name)
	rem := g.CooldownRemaining(name)
	return Availability{
		RateLimited: rem > 0,
		Remaining:   rem,
		Circuit:     b.State(),
		Failures:    b.Failures(),
	}
}
