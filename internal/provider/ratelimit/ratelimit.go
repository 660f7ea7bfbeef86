// Package ratelimit throttles calls to a provider before they are made, so
// configured upstream quotas are respected without waiting for a 429.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is awaited before each provider call.
type Limiter interface {
	Wait(ctx context.Context) error
}

// New builds a limiter from provider settings. A positive rpm gives a
// token bucket with the given burst; otherwise a positive minInterval
// spaces calls apart. It returns nil when neither is set.
func New(rpm, burst int, minInterval time.Duration) Limiter {
	switch {
	case rpm > 0:
		return NewTokenBucket(float64(rpm)/60.0, burst)
	case minInterval > 0:
		return &MinInterval{Interval: minInterval}
	}
	return nil
}

// MinInterval enforces a minimum time between calls. Each Wait reserves
// the next free slot, so concurrent callers queue up one interval apart,
// or return early if the context is canceled.
type MinInterval struct {
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (m *MinInterval) Wait(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	m.mu.Lock()
	now := time.Now()
	slot := m.next
	if slot.Before(now) {
		slot = now
	}
	m.next = slot.Add(m.Interval)
	m.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
