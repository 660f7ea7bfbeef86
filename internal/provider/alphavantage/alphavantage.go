// Package alphavantage adapts the Alpha Vantage query API: quotes, daily
// and intraday series, company overview and currency exchange rates.
package alphavantage

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/symbols"
)

const (
	Name           = "alphavantage"
	DefaultBaseURL = "https://www.alphavantage.co/query"

	shortCooldown = time.Minute
	dailyCooldown = 24 * time.Hour
)

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
	return provider.Capabilities(provider.CapQuote, provider.CapHistorical, provider.CapFundamentals, provider.CapForex)
}

// query runs one API function. Alpha Vantage answers throttling and bad
// symbols with HTTP 200 and a marker key, so the body is inspected before
// anything is returned.
func (p *Provider) query(ctx context.Context, subject string, params url.Values) (map[string]json.RawMessage, error) {
	params.Set("apikey", p.cfg.APIKey)
	var body map[string]json.RawMessage
	if err := p.client.GetJSON(ctx, Name, p.cfg.BaseURL, params, &body); err != nil {
		return nil, err
	}
	for _, key := range []string{"Note", "Information"} {
		if raw, ok := body[key]; ok {
			var msg string
			_ = json.Unmarshal(raw, &msg)
			return nil, provider.RateLimited(Name, cooldownFor(msg))
		}
	}
	if _, ok := body["Error Message"]; ok {
		return nil, provider.NotFound(Name, subject)
	}
	return body, nil
}

// cooldownFor reads the throttle notice: premium/daily quotas reset the
// next day, per-minute frequency limits after a minute.
func cooldownFor(msg string) time.Duration {
	m := strings.ToLower(msg)
	if strings.Contains(m, "premium") || strings.Contains(m, "per day") || strings.Contains(m, "daily") {
		return dailyCooldown
	}
	return shortCooldown
}

type globalQuote struct {
	Symbol    string `json:"01. symbol"`
	Open      string `json:"02. open"`
	High      string `json:"03. high"`
	Low       string `json:"04. low"`
	Price     string `json:"05. price"`
	Volume    string `json:"06. volume"`
	Day       string `json:"07. latest trading day"`
	PrevClose string `json:"08. previous close"`
	Change    string `json:"09. change"`
	ChangePct string `json:"10. change percent"`
}

func (p *Provider) Quote(ctx context.Context, symbol string) (provider.Quote, error) {
	sym := symbols.Normalize(symbol)
	body, err := p.query(ctx, sym, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbols.ForProvider(Name, sym)},
	})
	if err != nil {
		return provider.Quote{}, err
	}
	var g globalQuote
	if raw, ok := body["Global Quote"]; ok {
		if err := json.Unmarshal(raw, &g); err != nil {
			return provider.Quote{}, provider.Failed(Name, "decode quote: %v", err)
		}
	}
	if g.Price == "" {
		return provider.Quote{}, provider.NotFound(Name, sym)
	}
	price, err := decimal.NewFromString(g.Price)
	if err != nil {
		return provider.Quote{}, provider.Failed(Name, "bad price %q for %s", g.Price, sym)
	}

	ts := p.now()
	if day, err := time.Parse(time.DateOnly, g.Day); err == nil {
		ts = day
	}
	vol, _ := strconv.ParseInt(g.Volume, 10, 64)
	return provider.Quote{
		Symbol:        sym,
		Price:         price,
		Change:        dec(g.Change),
		ChangePercent: dec(strings.TrimSuffix(g.ChangePct, "%")),
		Volume:        vol,
		Timestamp:     ts,
		Provider:      Name,
		Open:          nullDec(g.Open),
		High:          nullDec(g.High),
		Low:           nullDec(g.Low),
		PrevClose:     nullDec(g.PrevClose),
	}, nil
}

// Quotes has no batch endpoint behind it; each symbol costs one call.
func (p *Provider) Quotes(ctx context.Context, syms []string) (map[string]provider.Quote, error) {
	out := make(map[string]provider.Quote, len(syms))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, s := range syms {
		g.Go(func() error {
			q, err := p.Quote(gctx, s)
			if provider.IsRateLimited(err) {
				return err
			}
			if err == nil {
				mu.Lock()
				out[s] = q
				mu.Unlock()
			}
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

var intraday = map[string]string{
	"1m":  "1min",
	"5m":  "5min",
	"15m": "15min",
	"30m": "30min",
	"60m": "60min",
	"1h":  "60min",
}

type seriesBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

func (p *Provider) Historical(ctx context.Context, symbol, period, interval string) ([]provider.Bar, error) {
	sym := symbols.Normalize(symbol)
	params := url.Values{
		"symbol":     {symbols.ForProvider(Name, sym)},
		"outputsize": {"full"},
	}
	switch period {
	case "1d", "5d", "1w", "1wk", "1mo":
		params.Set("outputsize", "compact")
	}
	if iv, ok := intraday[interval]; ok {
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", iv)
	} else {
		params.Set("function", "TIME_SERIES_DAILY")
	}

	body, err := p.query(ctx, sym, params)
	if err != nil {
		return nil, err
	}
	var series map[string]seriesBar
	for key, raw := range body {
		if strings.HasPrefix(key, "Time Series") {
			if err := json.Unmarshal(raw, &series); err != nil {
				return nil, provider.Failed(Name, "decode series: %v", err)
			}
			break
		}
	}
	if len(series) == 0 {
		return nil, provider.NotFound(Name, sym)
	}

	bars := make([]provider.Bar, 0, len(series))
	for stamp, v := range series {
		ts, err := parseStamp(stamp)
		if err != nil {
			continue
		}
		vol, _ := strconv.ParseInt(v.Volume, 10, 64)
		bars = append(bars, provider.Bar{
			Timestamp: ts,
			Open:      dec(v.Open),
			High:      dec(v.High),
			Low:       dec(v.Low),
			Close:     dec(v.Close),
			Volume:    vol,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

func parseStamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateTime, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

type overview struct {
	Symbol        string `json:"Symbol"`
	Name          string `json:"Name"`
	PERatio       string `json:"PERatio"`
	EPS           string `json:"EPS"`
	MarketCap     string `json:"MarketCapitalization"`
	DividendYield string `json:"DividendYield"`
	High52        string `json:"52WeekHigh"`
	Low52         string `json:"52WeekLow"`
	Sector        string `json:"Sector"`
	Industry      string `json:"Industry"`
}

func (p *Provider) Fundamentals(ctx context.Context, symbol string) (provider.Fundamentals, error) {
	sym := symbols.Normalize(symbol)
	body, err := p.query(ctx, sym, url.Values{
		"function": {"OVERVIEW"},
		"symbol":   {symbols.ForProvider(Name, sym)},
	})
	if err != nil {
		return provider.Fundamentals{}, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return provider.Fundamentals{}, provider.Failed(Name, "re-encode overview: %v", err)
	}
	var o overview
	if err := json.Unmarshal(raw, &o); err != nil {
		return provider.Fundamentals{}, provider.Failed(Name, "decode overview: %v", err)
	}
	if o.Symbol == "" {
		return provider.Fundamentals{}, provider.NotFound(Name, sym)
	}
	name := o.Name
	if name == "" {
		name = sym
	}
	mcap, _ := strconv.ParseInt(o.MarketCap, 10, 64)
	return provider.Fundamentals{
		Symbol:           sym,
		Name:             name,
		PERatio:          nullDec(o.PERatio),
		EPS:              nullDec(o.EPS),
		MarketCap:        mcap,
		DividendYield:    nullDec(o.DividendYield),
		FiftyTwoWeekHigh: nullDec(o.High52),
		FiftyTwoWeekLow:  nullDec(o.Low52),
		Sector:           text(o.Sector),
		Industry:         text(o.Industry),
		Provider:         Name,
	}, nil
}

type exchangeRate struct {
	From      string `json:"1. From_Currency Code"`
	To        string `json:"3. To_Currency Code"`
	Rate      string `json:"5. Exchange Rate"`
	Refreshed string `json:"6. Last Refreshed"`
	Bid       string `json:"8. Bid Price"`
	Ask       string `json:"9. Ask Price"`
}

func (p *Provider) ForexQuote(ctx context.Context, pair string) (provider.ForexQuote, error) {
	base, quote, ok := symbols.SplitPair(pair)
	if !ok {
		return provider.ForexQuote{}, provider.NotFound(Name, pair)
	}
	sym := base + "/" + quote
	body, err := p.query(ctx, sym, url.Values{
		"function":      {"CURRENCY_EXCHANGE_RATE"},
		"from_currency": {base},
		"to_currency":   {quote},
	})
	if err != nil {
		return provider.ForexQuote{}, err
	}
	var r exchangeRate
	if raw, ok := body["Realtime Currency Exchange Rate"]; ok {
		if err := json.Unmarshal(raw, &r); err != nil {
			return provider.ForexQuote{}, provider.Failed(Name, "decode exchange rate: %v", err)
		}
	}
	if r.Rate == "" {
		return provider.ForexQuote{}, provider.NotFound(Name, sym)
	}
	ts := p.now()
	if t, err := time.Parse(time.DateTime, r.Refreshed); err == nil {
		ts = t
	}
	return provider.ForexQuote{
		Symbol:    sym,
		Rate:      dec(r.Rate),
		Bid:       nullDec(r.Bid),
		Ask:       nullDec(r.Ask),
		Timestamp: ts,
		Provider:  Name,
	}, nil
}

// HealthCheck quotes IBM, the symbol Alpha Vantage documents with.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Quote(ctx, "IBM")
	return err
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// nullDec treats the API's placeholders ("None", "-", "0") as absent.
func nullDec(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func text(s string) string {
	switch s {
	case "None", "-", "N/A":
		return ""
	}
	return s
}
