package manager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/provider"
)

// callFunc invokes one operation on one adapter.
type callFunc[T any] func(ctx context.Context, a provider.Adapter) (T, error)

// candidates returns the providers declaring c that the gate currently
// lets through, in priority order.
func (m *Manager) candidates(c provider.Capability) []Descriptor {
	out := make([]Descriptor, 0, len(m.providers))
	for _, d := range m.providers {
		if !d.Capabilities.Has(c) {
			continue
		}
		if !m.gate.Eligible(d.Name) {
			m.log.Debug("provider excluded by gate",
				zap.String("provider", d.Name),
				zap.Duration("cooldown", m.gate.CooldownRemaining(d.Name)),
				zap.String("circuit", m.gate.CircuitState(d.Name)))
			continue
		}
		out = append(out, d)
	}
	return out
}

// run walks the candidates for c until one succeeds.
//
// When nothing succeeds, a not-found answer from any provider wins over
// other failures, then the last error seen. Caller cancellation aborts
// the walk and is returned as is.
func run[T any](ctx context.Context, m *Manager, c provider.Capability, subject string, fn callFunc[T]) (T, error) {
	var zero T
	cands := m.candidates(c)
	if len(cands) == 0 {
		return zero, provider.NoProviders(c)
	}

	var lastErr, notFound error
	for _, d := range cands {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		// The gate may have changed since candidates were listed, and a
		// half-open trial can only be claimed by one caller.
		if !m.gate.Allow(d.Name) {
			continue
		}
		v, err := attempt(ctx, m, d, c, subject, m.maxRetries, fn)
		if err == nil {
			m.gate.RecordSuccess(d.Name)
			return v, nil
		}
		if ctx.Err() != nil {
			m.gate.Release(d.Name)
			return zero, ctx.Err()
		}
		switch m.settle(d, c, subject, err) {
		case provider.KindUnsupported:
			continue
		case provider.KindNotFound:
			notFound = err
		}
		lastErr = err
	}
	if notFound != nil {
		return zero, notFound
	}
	if lastErr != nil {
		return zero, lastErr
	}
	return zero, provider.AllFailed(c)
}

// attempt calls one provider, retrying transient errors up to retries
// times with exponential backoff. Every other outcome returns at once.
func attempt[T any](ctx context.Context, m *Manager, d Descriptor, c provider.Capability, subject string, retries int, fn callFunc[T]) (T, error) {
	var zero T
	var err error
	for i := 0; i <= retries; i++ {
		if d.Limiter != nil {
			if werr := d.Limiter.Wait(ctx); werr != nil {
				return zero, werr
			}
		}
		m.log.Debug("calling provider",
			zap.String("provider", d.Name),
			zap.String("op", c.String()),
			zap.String("symbol", subject),
			zap.Int("attempt", i+1))

		start := m.now()
		var v T
		v, err = invoke(ctx, m, d, fn)
		if err == nil {
			m.metrics.RecordSuccess(d.Name, m.now().Sub(start))
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		kind := provider.KindOf(err)
		if kind == provider.KindUnsupported {
			return zero, err
		}
		m.metrics.RecordFailure(d.Name, err)
		if kind != provider.KindTransient || i == retries {
			return zero, err
		}
		delay := m.baseDelay * time.Duration(1<<i)
		m.log.Warn("retrying provider",
			zap.String("provider", d.Name),
			zap.String("op", c.String()),
			zap.String("symbol", subject),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := m.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
	return zero, err
}

// invoke runs fn under the per-call timeout. A panicking adapter is
// turned into a definitive failure of that provider.
func invoke[T any](ctx context.Context, m *Manager, d Descriptor, fn callFunc[T]) (v T, err error) {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("provider panicked",
				zap.String("provider", d.Name),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			var zero T
			v, err = zero, provider.Failed(d.Name, "panic: %v", rec)
		}
	}()
	return fn(cctx, d.Adapter)
}

// settle applies a failed provider call to the gate and returns its kind.
// Rate limits start a cooldown; unsupported, not-found and canceled calls
// leave the circuit alone; everything else counts as one circuit failure.
func (m *Manager) settle(d Descriptor, c provider.Capability, subject string, err error) provider.Kind {
	kind := provider.KindOf(err)
	fields := []zap.Field{
		zap.String("provider", d.Name),
		zap.String("op", c.String()),
		zap.String("symbol", subject),
		zap.Error(err),
	}
	switch kind {
	case provider.KindUnsupported:
		m.gate.Release(d.Name)
		m.log.Debug("provider does not support operation", fields...)
	case provider.KindNotFound, provider.KindCanceled:
		m.gate.Release(d.Name)
		m.log.Debug("provider has no data", fields...)
	case provider.KindRateLimit:
		wait, ok := provider.RetryAfter(err)
		if !ok {
			wait = m.defaultCooldown
		}
		m.gate.MarkRateLimited(d.Name, wait)
		m.gate.Release(d.Name)
		m.log.Warn("provider rate limited", append(fields, zap.Duration("retry_after", wait))...)
	default:
		if m.gate.RecordFailure(d.Name) {
			m.log.Warn("circuit opened", fields...)
		} else {
			m.log.Warn("provider failed", fields...)
		}
	}
	return kind
}
