package manager

import (
	"context"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"marketdata/internal/dedup"
	"marketdata/internal/provider"
	"marketdata/internal/symbols"
)

func invalidInput(what string) error {
	return platformerrors.Newf(platformerrors.CodeInvalidInput, "%s is required", what)
}

// Quote returns the latest quote for symbol, from cache when fresh.
func (m *Manager) Quote(ctx context.Context, symbol string) (provider.Quote, error) {
	m.metrics.RecordRequest()
	sym := symbols.Normalize(symbol)
	if sym == "" {
		return provider.Quote{}, invalidInput("symbol")
	}
	if q, ok := m.caches.Quotes.Get(sym); ok {
		m.log.Debug("cache hit", zap.String("op", provider.CapQuote.String()), zap.String("symbol", sym))
		return q, nil
	}
	return dedup.Do(ctx, m.dedup, "quote:"+sym, func(ctx context.Context) (provider.Quote, error) {
		q, err := run(ctx, m, provider.CapQuote, sym, func(ctx context.Context, a provider.Adapter) (provider.Quote, error) {
			return a.Quote(ctx, sym)
		})
		if err != nil {
			return provider.Quote{}, err
		}
		m.caches.Quotes.Set(sym, q)
		return q, nil
	})
}

// Quotes resolves as many symbols as the providers can, walking them in
// priority order and asking each only for what is still missing. A partial
// result is not an error.
func (m *Manager) Quotes(ctx context.Context, syms []string) (map[string]provider.Quote, error) {
	m.metrics.RecordRequest()
	want := symbols.Unique(syms)
	if len(want) == 0 {
		return map[string]provider.Quote{}, nil
	}

	out := m.caches.Quotes.GetMulti(want)
	remaining := missing(want, out)
	if len(remaining) == 0 {
		return out, nil
	}

	cands := m.candidates(provider.CapQuote)
	if len(cands) == 0 {
		if len(out) > 0 {
			return out, nil
		}
		return nil, provider.NoProviders(provider.CapQuote)
	}

	for _, d := range cands {
		if len(remaining) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !m.gate.Allow(d.Name) {
			continue
		}
		ask := append([]string(nil), remaining...)
		got, err := attempt(ctx, m, d, provider.CapQuote, batchSubject(ask), 0,
			func(ctx context.Context, a provider.Adapter) (map[string]provider.Quote, error) {
				return a.Quotes(ctx, ask)
			})
		if err != nil {
			if ctx.Err() != nil {
				m.gate.Release(d.Name)
				return out, ctx.Err()
			}
			m.settle(d, provider.CapQuote, batchSubject(ask), err)
			continue
		}
		m.gate.RecordSuccess(d.Name)

		fresh := make(map[string]provider.Quote, len(got))
		for _, sym := range ask {
			if q, ok := got[sym]; ok {
				fresh[sym] = q
				out[sym] = q
			}
		}
		m.caches.Quotes.SetMulti(fresh, 0)
		remaining = missing(remaining, out)
		m.log.Debug("batch partial",
			zap.String("provider", d.Name),
			zap.Int("resolved", len(fresh)),
			zap.Int("remaining", len(remaining)))
	}
	return out, nil
}

// missing returns the members of want absent from have, in order.
func missing(want []string, have map[string]provider.Quote) []string {
	out := make([]string, 0, len(want))
	for _, s := range want {
		if _, ok := have[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func batchSubject(syms []string) string {
	if len(syms) == 1 {
		return syms[0]
	}
	return syms[0] + ",..."
}

// Historical returns bars for symbol over period at interval, cached per
// (symbol, period, interval).
func (m *Manager) Historical(ctx context.Context, symbol, period, interval string) ([]provider.Bar, error) {
	m.metrics.RecordRequest()
	sym := symbols.Normalize(symbol)
	if sym == "" {
		return nil, invalidInput("symbol")
	}
	key := symbols.HistoricalKey(sym, period, interval)
	if bars, ok := m.caches.Historical.Get(key); ok {
		return bars, nil
	}
	return dedup.Do(ctx, m.dedup, "historical:"+key, func(ctx context.Context) ([]provider.Bar, error) {
		bars, err := run(ctx, m, provider.CapHistorical, sym, func(ctx context.Context, a provider.Adapter) ([]provider.Bar, error) {
			src, ok := a.(provider.HistoricalSource)
			if !ok {
				return nil, provider.Unsupported(a.Name(), provider.CapHistorical)
			}
			return src.Historical(ctx, sym, period, interval)
		})
		if err != nil {
			return nil, err
		}
		if intraday(interval) {
			m.caches.Historical.SetWithTTL(key, bars, m.caches.Intraday.TTL())
		} else {
			m.caches.Historical.Set(key, bars)
		}
		return bars, nil
	})
}

// intraday reports whether interval is minute or hourly bars ("5m", "1h",
// "15min"). Those go stale with the intraday TTL, not the daily one.
func intraday(interval string) bool {
	iv := strings.ToLower(strings.TrimSpace(interval))
	return strings.HasSuffix(iv, "m") || strings.HasSuffix(iv, "h") || strings.HasSuffix(iv, "min")
}

// Fundamentals returns company reference data for symbol.
func (m *Manager) Fundamentals(ctx context.Context, symbol string) (provider.Fundamentals, error) {
	m.metrics.RecordRequest()
	sym := symbols.Normalize(symbol)
	if sym == "" {
		return provider.Fundamentals{}, invalidInput("symbol")
	}
	if f, ok := m.caches.Fundamentals.Get(sym); ok {
		return f, nil
	}
	return dedup.Do(ctx, m.dedup, "fundamentals:"+sym, func(ctx context.Context) (provider.Fundamentals, error) {
		f, err := run(ctx, m, provider.CapFundamentals, sym, func(ctx context.Context, a provider.Adapter) (provider.Fundamentals, error) {
			src, ok := a.(provider.FundamentalsSource)
			if !ok {
				return provider.Fundamentals{}, provider.Unsupported(a.Name(), provider.CapFundamentals)
			}
			return src.Fundamentals(ctx, sym)
		})
		if err != nil {
			return provider.Fundamentals{}, err
		}
		m.caches.Fundamentals.Set(sym, f)
		return f, nil
	})
}

func (m *Manager) OptionQuote(ctx context.Context, contract string) (provider.OptionQuote, error) {
	return uncached(ctx, m, provider.CapOptions, contract,
		func(ctx context.Context, src provider.OptionsSource, key string) (provider.OptionQuote, error) {
			return src.OptionQuote(ctx, key)
		})
}

func (m *Manager) ForexQuote(ctx context.Context, pair string) (provider.ForexQuote, error) {
	return uncached(ctx, m, provider.CapForex, pair,
		func(ctx context.Context, src provider.ForexSource, key string) (provider.ForexQuote, error) {
			return src.ForexQuote(ctx, key)
		})
}

func (m *Manager) FutureQuote(ctx context.Context, symbol string) (provider.FuturesQuote, error) {
	return uncached(ctx, m, provider.CapFutures, symbol,
		func(ctx context.Context, src provider.FuturesSource, key string) (provider.FuturesQuote, error) {
			return src.FutureQuote(ctx, key)
		})
}

// EconomyData returns the latest observation of a macro indicator such as
// "cpi" or "unemployment". Indicator names are matched case-insensitively
// by the adapters.
func (m *Manager) EconomyData(ctx context.Context, indicator string) (provider.EconomyIndicator, error) {
	return uncached(ctx, m, provider.CapEconomy, indicator,
		func(ctx context.Context, src provider.EconomySource, key string) (provider.EconomyIndicator, error) {
			return src.EconomyData(ctx, key)
		})
}

// uncached runs an optional-capability operation through the deduplicator
// and the fallback chain. S is the optional interface serving c.
func uncached[S, T any](ctx context.Context, m *Manager, c provider.Capability, raw string,
	call func(context.Context, S, string) (T, error),
) (T, error) {
	m.metrics.RecordRequest()
	var zero T
	key := symbols.Normalize(raw)
	if key == "" {
		return zero, invalidInput("symbol")
	}
	return dedup.Do(ctx, m.dedup, c.String()+":"+key, func(ctx context.Context) (T, error) {
		return run(ctx, m, c, key, func(ctx context.Context, a provider.Adapter) (T, error) {
			src, ok := a.(S)
			if !ok {
				return zero, provider.Unsupported(a.Name(), c)
			}
			return call(ctx, src, key)
		})
	})
}
