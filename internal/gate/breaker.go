package gate

import (
	"sync"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// CircuitBreaker isolates a provider after repeated failures.
//
// closed -> open once consecutive failures reach the threshold.
// open -> half_open once the recovery timeout has elapsed since opening.
// half_open -> closed on the next success, back to open on the next
// failure. Only one trial is let through while half open.
type CircuitBreaker struct {
	threshold int
	recovery  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker returns a closed breaker. A nil clock means time.Now.
func NewCircuitBreaker(threshold int, recovery time.Duration, now func() time.Time) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{threshold: threshold, recovery: recovery, now: now, state: Closed}
}

// IsAvailable reports whether a call may go through and, if the breaker
// is open and recovered or half open and idle, claims the single trial.
func (b *CircuitBreaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) <= b.recovery {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Eligible is IsAvailable without side effects.
func (b *CircuitBreaker) Eligible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		return b.now().Sub(b.openedAt) > b.recovery
	default:
		return !b.probing
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = Closed
	b.probing = false
}

// RecordFailure counts a failure and reports whether it opened the
// breaker.
func (b *CircuitBreaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = b.now()
		return true
	case Closed:
		if b.failures >= b.threshold {
			b.state = Open
			b.openedAt = b.now()
			return true
		}
	}
	return false
}

// Release frees a claimed trial without recording an outcome.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
