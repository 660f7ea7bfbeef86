// Package yahoo adapts Yahoo Finance through piquette/finance-go. No API key
// is needed, which makes it the default first choice.
package yahoo

import (
	"context"
	"errors"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/piquette/finance-go/forex"
	"github.com/piquette/finance-go/future"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"marketdata/internal/provider"
	"marketdata/internal/symbols"
)

const Name = "yahoo"

// client is the slice of finance-go the adapter uses. The library calls
// are blocking and context-free.
type client struct {
	quote  func(symbol string) (*finance.Quote, error)
	quotes func(symbols []string) ([]*finance.Quote, error)
	equity func(symbol string) (*finance.Equity, error)
	forex  func(symbol string) (*finance.ForexPair, error)
	future func(symbol string) (*finance.Future, error)
	chart  func(symbol string, start, end time.Time, interval datetime.Interval) ([]*finance.ChartBar, error)
}

func financeClient() client {
	return client{
		quote: quote.Get,
		quotes: func(syms []string) ([]*finance.Quote, error) {
			it := quote.List(syms)
			var out []*finance.Quote
			for it.Next() {
				out = append(out, it.Quote())
			}
			return out, it.Err()
		},
		equity: equity.Get,
		forex:  forex.Get,
		future: future.Get,
		chart: func(symbol string, start, end time.Time, iv datetime.Interval) ([]*finance.ChartBar, error) {
			it := chart.Get(&chart.Params{
				Symbol:   symbol,
				Start:    datetime.New(&start),
				End:      datetime.New(&end),
				Interval: iv,
			})
			var out []*finance.ChartBar
			for it.Next() {
				out = append(out, it.Bar())
			}
			return out, it.Err()
		},
	}
}

type Provider struct {
	api client
	now func() time.Time
}

func New() *Provider {
	return &Provider{api: financeClient(), now: time.Now}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.CapabilitySet {
	return provider.Capabilities(
		provider.CapQuote,
		provider.CapHistorical,
		provider.CapFundamentals,
		provider.CapOptions,
		provider.CapForex,
		provider.CapFutures,
	)
}

// call runs a blocking library call, abandoning it if ctx ends first.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				var zero T
				ch <- result{zero, provider.Failed(Name, "panic: %v", rec)}
			}
		}()
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// classify maps a library error onto the provider taxonomy. finance-go
// surfaces HTTP failures as plain errors carrying the status text.
func classify(err error, subject string) error {
	if errors.Is(err, context.Canceled) || provider.ProviderOf(err) != "" {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return provider.RateLimited(Name, 0)
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return provider.NotFound(Name, subject)
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized"):
		return provider.Failed(Name, "unauthorized: %v", err)
	}
	return provider.Transient(Name, err, "request failed")
}

func (p *Provider) Quote(ctx context.Context, symbol string) (provider.Quote, error) {
	sym := symbols.Normalize(symbol)
	q, err := call(ctx, func() (*finance.Quote, error) { return p.api.quote(symbols.ForProvider(Name, sym)) })
	if err != nil {
		return provider.Quote{}, classify(err, sym)
	}
	if q == nil || q.RegularMarketPrice == 0 {
		return provider.Quote{}, provider.NotFound(Name, sym)
	}
	return p.toQuote(sym, q), nil
}

// Quotes uses Yahoo's native multi-symbol endpoint.
func (p *Provider) Quotes(ctx context.Context, syms []string) (map[string]provider.Quote, error) {
	want := make([]string, len(syms))
	for i, s := range syms {
		want[i] = symbols.ForProvider(Name, s)
	}
	list, err := call(ctx, func() ([]*finance.Quote, error) { return p.api.quotes(want) })
	if err != nil {
		return nil, classify(err, strings.Join(syms, ","))
	}
	out := make(map[string]provider.Quote, len(list))
	for _, q := range list {
		if q == nil || q.RegularMarketPrice == 0 {
			continue
		}
		sym := symbols.FromProvider(Name, q.Symbol, syms)
		out[sym] = p.toQuote(sym, q)
	}
	return out, nil
}

func (p *Provider) toQuote(sym string, q *finance.Quote) provider.Quote {
	ts := p.now()
	if q.RegularMarketTime > 0 {
		ts = time.Unix(int64(q.RegularMarketTime), 0).UTC()
	}
	return provider.Quote{
		Symbol:        sym,
		Price:         decimal.NewFromFloat(q.RegularMarketPrice),
		Change:        decimal.NewFromFloat(q.RegularMarketChange),
		ChangePercent: decimal.NewFromFloat(q.RegularMarketChangePercent),
		Volume:        int64(q.RegularMarketVolume),
		Timestamp:     ts,
		Provider:      Name,
		Open:          nullable(q.RegularMarketOpen),
		High:          nullable(q.RegularMarketDayHigh),
		Low:           nullable(q.RegularMarketDayLow),
		PrevClose:     nullable(q.RegularMarketPreviousClose),
		Name:          q.ShortName,
	}
}

var lookbacks = map[string]time.Duration{
	"1d":  24 * time.Hour,
	"5d":  5 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1mo": 30 * 24 * time.Hour,
	"3mo": 90 * 24 * time.Hour,
	"6mo": 180 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
	"2y":  2 * 365 * 24 * time.Hour,
	"5y":  5 * 365 * 24 * time.Hour,
	"10y": 10 * 365 * 24 * time.Hour,
	"max": 50 * 365 * 24 * time.Hour,
}

func start(period string, now time.Time) time.Time {
	if period == "ytd" {
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	}
	d, ok := lookbacks[period]
	if !ok {
		d = lookbacks["1mo"]
	}
	return now.Add(-d)
}

func (p *Provider) Historical(ctx context.Context, symbol, period, interval string) ([]provider.Bar, error) {
	sym := symbols.Normalize(symbol)
	if interval == "" {
		interval = "1d"
	}
	now := p.now()
	from := start(period, now)
	raw, err := call(ctx, func() ([]*finance.ChartBar, error) {
		return p.api.chart(symbols.ForProvider(Name, sym), from, now, datetime.Interval(interval))
	})
	if err != nil {
		return nil, classify(err, sym)
	}
	bars := make([]provider.Bar, 0, len(raw))
	for _, b := range raw {
		if b == nil {
			continue
		}
		bars = append(bars, provider.Bar{
			Timestamp: time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    int64(b.Volume),
		})
	}
	if len(bars) == 0 {
		return nil, provider.NotFound(Name, sym)
	}
	return bars, nil
}

func (p *Provider) Fundamentals(ctx context.Context, symbol string) (provider.Fundamentals, error) {
	sym := symbols.Normalize(symbol)
	e, err := call(ctx, func() (*finance.Equity, error) { return p.api.equity(symbols.ForProvider(Name, sym)) })
	if err != nil {
		return provider.Fundamentals{}, classify(err, sym)
	}
	if e == nil || e.ShortName == "" {
		return provider.Fundamentals{}, provider.NotFound(Name, sym)
	}
	return provider.Fundamentals{
		Symbol:           sym,
		Name:             e.ShortName,
		PERatio:          nullable(e.TrailingPE),
		EPS:              nullable(e.EpsTrailingTwelveMonths),
		MarketCap:        e.MarketCap,
		DividendYield:    nullable(e.TrailingAnnualDividendYield),
		FiftyTwoWeekHigh: nullable(e.FiftyTwoWeekHigh),
		FiftyTwoWeekLow:  nullable(e.FiftyTwoWeekLow),
		Provider:         Name,
	}, nil
}

// OptionQuote quotes a single OCC contract symbol.
func (p *Provider) OptionQuote(ctx context.Context, contract string) (provider.OptionQuote, error) {
	sym := symbols.Normalize(contract)
	occ, ok := symbols.ParseOption(sym)
	if !ok {
		return provider.OptionQuote{}, provider.NotFound(Name, sym)
	}
	q, err := call(ctx, func() (*finance.Quote, error) { return p.api.quote(sym) })
	if err != nil {
		return provider.OptionQuote{}, classify(err, sym)
	}
	if q == nil || q.RegularMarketPrice == 0 {
		return provider.OptionQuote{}, provider.NotFound(Name, sym)
	}
	base := p.toQuote(sym, q)
	return provider.OptionQuote{
		Symbol:        sym,
		Underlying:    occ.Underlying,
		Expiration:    occ.Expiration,
		Strike:        occ.Strike,
		Type:          occ.Type,
		Price:         base.Price,
		Change:        base.Change,
		ChangePercent: base.ChangePercent,
		Volume:        base.Volume,
		Timestamp:     base.Timestamp,
		Provider:      Name,
	}, nil
}

// ForexQuote accepts EUR/USD, EURUSD or EURUSD=X.
func (p *Provider) ForexQuote(ctx context.Context, pair string) (provider.ForexQuote, error) {
	base, quoteCcy, ok := symbols.SplitPair(pair)
	if !ok {
		return provider.ForexQuote{}, provider.NotFound(Name, pair)
	}
	sym := base + "/" + quoteCcy
	fx, err := call(ctx, func() (*finance.ForexPair, error) { return p.api.forex(base + quoteCcy + "=X") })
	if err != nil {
		return provider.ForexQuote{}, classify(err, sym)
	}
	if fx == nil || fx.RegularMarketPrice == 0 {
		return provider.ForexQuote{}, provider.NotFound(Name, sym)
	}
	q := p.toQuote(sym, &fx.Quote)
	return provider.ForexQuote{
		Symbol:        sym,
		Rate:          q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Bid:           nullable(fx.Bid),
		Ask:           nullable(fx.Ask),
		Timestamp:     q.Timestamp,
		Provider:      Name,
	}, nil
}

// FutureQuote quotes a contract such as GC=F or ESM25.CME.
func (p *Provider) FutureQuote(ctx context.Context, symbol string) (provider.FuturesQuote, error) {
	sym := symbols.Normalize(symbol)
	f, err := call(ctx, func() (*finance.Future, error) { return p.api.future(sym) })
	if err != nil {
		return provider.FuturesQuote{}, classify(err, sym)
	}
	if f == nil || f.RegularMarketPrice == 0 {
		return provider.FuturesQuote{}, provider.NotFound(Name, sym)
	}
	q := p.toQuote(sym, &f.Quote)
	out := provider.FuturesQuote{
		Symbol:        sym,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Volume:        q.Volume,
		OpenInterest:  int64(f.OpenInterest),
		Timestamp:     q.Timestamp,
		Provider:      Name,
	}
	if f.ExpireDate > 0 {
		exp := time.Unix(int64(f.ExpireDate), 0).UTC()
		out.Expiration = &exp
	}
	return out, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Quote(ctx, "AAPL")
	return err
}

func nullable(v float64) decimal.NullDecimal {
	if v == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}
