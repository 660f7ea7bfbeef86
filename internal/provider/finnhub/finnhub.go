// Package finnhub adapts the Finnhub REST API (quotes and candles).
package finnhub

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/symbols"
)

const (
	Name           = "finnhub"
	DefaultBaseURL = "https://finnhub.io/api/v1"

	// batchParallelism bounds the per-symbol fan-out of Quotes.
	batchParallelism = 8
)

// Config controls the Finnhub adapter.
type Config struct {
	BaseURL string
	APIKey  string
}

type Provider struct {
	cfg    Config
	client *httpx.Client
	now    func() time.Time
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = httpx.New(30 * time.Second)
	}
	return &Provider{cfg: cfg, client: hc, now: time.Now}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.CapabilitySet {
	return provider.Capabilities(provider.CapQuote, provider.CapHistorical)
}

type quoteResponse struct {
	C     float64 `json:"c"`
	D     float64 `json:"d"`
	DP    float64 `json:"dp"`
	H     float64 `json:"h"`
	L     float64 `json:"l"`
	O     float64 `json:"o"`
	PC    float64 `json:"pc"`
	T     int64   `json:"t"`
	Error string  `json:"error"`
}

// get calls endpoint with the API token attached.
func (p *Provider) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("token", p.cfg.APIKey)
	return p.client.GetJSON(ctx, Name, p.cfg.BaseURL+"/"+endpoint, q, out)
}

func (p *Provider) Quote(ctx context.Context, symbol string) (provider.Quote, error) {
	sym := symbols.Normalize(symbol)
	var r quoteResponse
	if err := p.get(ctx, "quote", url.Values{"symbol": {symbols.ForProvider(Name, sym)}}, &r); err != nil {
		return provider.Quote{}, err
	}
	if r.Error != "" {
		return provider.Quote{}, provider.Failed(Name, "%s", r.Error)
	}
	// Unknown symbols come back as an all-zero quote.
	if r.C == 0 {
		return provider.Quote{}, provider.NotFound(Name, sym)
	}

	price := decimal.NewFromFloat(r.C)
	prev := price
	if r.PC != 0 {
		prev = decimal.NewFromFloat(r.PC)
	}
	change := price.Sub(prev)
	pct := decimal.Zero
	if !prev.IsZero() {
		pct = change.Div(prev).Mul(decimal.NewFromInt(100)).Round(4)
	}
	ts := p.now()
	if r.T > 0 {
		ts = time.Unix(r.T, 0).UTC()
	}
	return provider.Quote{
		Symbol:        sym,
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		Timestamp:     ts,
		Provider:      Name,
		Open:          nullable(r.O),
		High:          nullable(r.H),
		Low:           nullable(r.L),
		PrevClose:     decimal.NewNullDecimal(prev),
	}, nil
}

// Quotes fans out single quotes since Finnhub has no batch endpoint.
// Symbols that fail are left out; a rate limit aborts the whole batch.
func (p *Provider) Quotes(ctx context.Context, syms []string) (map[string]provider.Quote, error) {
	out := make(map[string]provider.Quote, len(syms))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)
	for _, s := range syms {
		g.Go(func() error {
			q, err := p.Quote(gctx, s)
			if err != nil {
				if provider.IsRateLimited(err) {
					return err
				}
				return nil
			}
			mu.Lock()
			out[s] = q
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var periods = map[string]time.Duration{
	"1d":  24 * time.Hour,
	"5d":  5 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1mo": 30 * 24 * time.Hour,
	"3mo": 90 * 24 * time.Hour,
	"6mo": 180 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
	"5y":  5 * 365 * 24 * time.Hour,
	"max": 20 * 365 * 24 * time.Hour,
}

var resolutions = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"60m": "60",
	"1h":  "60",
	"1d":  "D",
	"1wk": "W",
	"1mo": "M",
}

// span returns the lookback for period, defaulting to one month.
func span(period string, now time.Time) time.Duration {
	if period == "ytd" {
		return now.Sub(time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()))
	}
	if d, ok := periods[period]; ok {
		return d
	}
	return periods["1mo"]
}

type candleResponse struct {
	S string    `json:"s"`
	T []int64   `json:"t"`
	O []float64 `json:"o"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	C []float64 `json:"c"`
	V []float64 `json:"v"`
}

func (p *Provider) Historical(ctx context.Context, symbol, period, interval string) ([]provider.Bar, error) {
	sym := symbols.Normalize(symbol)
	now := p.now()
	res, ok := resolutions[interval]
	if !ok {
		res = "D"
	}
	q := url.Values{
		"symbol":     {symbols.ForProvider(Name, sym)},
		"resolution": {res},
		"from":       {strconv.FormatInt(now.Add(-span(period, now)).Unix(), 10)},
		"to":         {strconv.FormatInt(now.Unix(), 10)},
	}
	var r candleResponse
	if err := p.get(ctx, "stock/candle", q, &r); err != nil {
		return nil, err
	}
	if r.S == "no_data" || len(r.C) == 0 {
		return nil, provider.NotFound(Name, sym)
	}

	bars := make([]provider.Bar, 0, len(r.T))
	for i, ts := range r.T {
		if i >= len(r.O) || i >= len(r.H) || i >= len(r.L) || i >= len(r.C) {
			break
		}
		b := provider.Bar{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      decimal.NewFromFloat(r.O[i]),
			High:      decimal.NewFromFloat(r.H[i]),
			Low:       decimal.NewFromFloat(r.L[i]),
			Close:     decimal.NewFromFloat(r.C[i]),
		}
		if i < len(r.V) {
			b.Volume = int64(r.V[i])
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// HealthCheck fetches a quote for a liquid symbol.
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
