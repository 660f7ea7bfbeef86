// Package twelvedata adapts the Twelve Data REST API (quotes and time
// series). Prices arrive as JSON strings.
package twelvedata

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/symbols"
)

const (
	Name           = "twelvedata"
	DefaultBaseURL = "https://api.twelvedata.com"

	// batchSize caps symbols per quote request; the free tier counts each
	// symbol as one credit.
	batchSize = 8

	limitCooldown = time.Minute
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
	return provider.Capabilities(provider.CapQuote, provider.CapHistorical)
}

// apiError is the body Twelve Data sends with status "error", usually
// under HTTP 200.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e apiError) failed() bool { return e.Status == "error" }

func (e apiError) classify(subject string) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == 429:
		return provider.RateLimited(Name, limitCooldown)
	case e.Code == 401 || e.Code == 403:
		return provider.Failed(Name, "unauthorized: %s", e.Message)
	case e.Code == 404 || strings.Contains(msg, "not found") || strings.Contains(msg, "invalid"):
		return provider.NotFound(Name, subject)
	}
	return provider.Failed(Name, "%s", e.Message)
}

func (p *Provider) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	q.Set("apikey", p.cfg.APIKey)
	return p.client.GetJSON(ctx, Name, p.cfg.BaseURL+"/"+endpoint, q, out)
}

type quoteBody struct {
	apiError
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	PreviousClose string `json:"previous_close"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
	Timestamp     int64  `json:"timestamp"`
}

func (p *Provider) Quote(ctx context.Context, symbol string) (provider.Quote, error) {
	sym := symbols.Normalize(symbol)
	var b quoteBody
	if err := p.get(ctx, "quote", url.Values{"symbol": {symbols.ForProvider(Name, sym)}}, &b); err != nil {
		return provider.Quote{}, err
	}
	if b.failed() {
		return provider.Quote{}, b.classify(sym)
	}
	q, ok := p.toQuote(sym, b)
	if !ok {
		return provider.Quote{}, provider.NotFound(Name, sym)
	}
	return q, nil
}

// Quotes asks for up to batchSize symbols per request. A single-symbol
// request answers with one quote object, a multi-symbol one with an object
// keyed by symbol. Symbols that fail are left out; a rate limit aborts.
func (p *Provider) Quotes(ctx context.Context, syms []string) (map[string]provider.Quote, error) {
	out := make(map[string]provider.Quote, len(syms))
	for start := 0; start < len(syms); start += batchSize {
		chunk := syms[start:min(start+batchSize, len(syms))]
		if len(chunk) == 1 {
			q, err := p.Quote(ctx, chunk[0])
			switch {
			case err == nil:
				out[chunk[0]] = q
			case provider.IsRateLimited(err) || ctx.Err() != nil:
				return nil, err
			}
			continue
		}

		wire := make([]string, len(chunk))
		byWire := make(map[string]string, len(chunk))
		for i, s := range chunk {
			wire[i] = symbols.ForProvider(Name, s)
			byWire[wire[i]] = s
		}
		var raw map[string]json.RawMessage
		err := p.get(ctx, "quote", url.Values{"symbol": {strings.Join(wire, ",")}}, &raw)
		if err != nil {
			if provider.IsRateLimited(err) || ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		var top apiError
		if rawStatus, ok := raw["status"]; ok {
			_ = json.Unmarshal(rawStatus, &top.Status)
			_ = json.Unmarshal(raw["code"], &top.Code)
			_ = json.Unmarshal(raw["message"], &top.Message)
			if top.failed() {
				if top.Code == 429 {
					return nil, top.classify("")
				}
				continue
			}
		}
		for w, msg := range raw {
			sym, ok := byWire[w]
			if !ok {
				continue
			}
			var b quoteBody
			if err := json.Unmarshal(msg, &b); err != nil {
				continue
			}
			if b.failed() {
				if b.Code == 429 {
					return nil, b.classify(sym)
				}
				continue
			}
			if q, ok := p.toQuote(sym, b); ok {
				out[sym] = q
			}
		}
	}
	return out, nil
}

func (p *Provider) toQuote(sym string, b quoteBody) (provider.Quote, bool) {
	price, err := decimal.NewFromString(b.Close)
	if err != nil || price.IsZero() {
		return provider.Quote{}, false
	}
	prev := price
	if v := nullDec(b.PreviousClose); v.Valid {
		prev = v.Decimal
	}
	change := price.Sub(prev)
	if v := nullDec(b.Change); v.Valid {
		change = v.Decimal
	}
	pct := decimal.Zero
	if v := nullDec(b.PercentChange); v.Valid {
		pct = v.Decimal
	} else if !prev.IsZero() {
		pct = change.Div(prev).Mul(decimal.NewFromInt(100)).Round(4)
	}
	vol, _ := strconv.ParseInt(b.Volume, 10, 64)
	ts := p.now()
	if b.Timestamp > 0 {
		ts = time.Unix(b.Timestamp, 0).UTC()
	}
	return provider.Quote{
		Symbol:        sym,
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		Volume:        vol,
		Timestamp:     ts,
		Provider:      Name,
		Open:          nullDec(b.Open),
		High:          nullDec(b.High),
		Low:           nullDec(b.Low),
		PrevClose:     decimal.NewNullDecimal(prev),
		Name:          b.Name,
	}, true
}

var intervals = map[string]string{
	"1m":  "1min",
	"5m":  "5min",
	"15m": "15min",
	"30m": "30min",
	"60m": "1h",
	"1h":  "1h",
	"1d":  "1day",
	"1wk": "1week",
	"1mo": "1month",
}

// outputSizes is the number of bars requested per period.
var outputSizes = map[string]int{
	"1d":  390,
	"5d":  5,
	"1w":  7,
	"1mo": 30,
	"3mo": 90,
	"6mo": 180,
	"1y":  365,
	"ytd": 252,
	"5y":  1260,
	"max": 5000,
}

type seriesBody struct {
	apiError
	Values []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

func (p *Provider) Historical(ctx context.Context, symbol, period, interval string) ([]provider.Bar, error) {
	sym := symbols.Normalize(symbol)
	iv, ok := intervals[interval]
	if !ok {
		iv = "1day"
	}
	size, ok := outputSizes[period]
	if !ok {
		size = 30
	}
	var b seriesBody
	q := url.Values{
		"symbol":     {symbols.ForProvider(Name, sym)},
		"interval":   {iv},
		"outputsize": {strconv.Itoa(size)},
		"timezone":   {"UTC"},
	}
	if err := p.get(ctx, "time_series", q, &b); err != nil {
		return nil, err
	}
	if b.failed() {
		return nil, b.classify(sym)
	}
	if len(b.Values) == 0 {
		return nil, provider.NotFound(Name, sym)
	}

	bars := make([]provider.Bar, 0, len(b.Values))
	for _, v := range b.Values {
		ts, err := parseStamp(v.Datetime)
		if err != nil {
			continue
		}
		o, e1 := decimal.NewFromString(v.Open)
		h, e2 := decimal.NewFromString(v.High)
		l, e3 := decimal.NewFromString(v.Low)
		c, e4 := decimal.NewFromString(v.Close)
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
			continue
		}
		vol, _ := strconv.ParseInt(v.Volume, 10, 64)
		bars = append(bars, provider.Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: vol})
	}
	if len(bars) == 0 {
		return nil, provider.NotFound(Name, sym)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

func parseStamp(s string) (time.Time, error) {
	if len(s) == len("2006-01-02") {
		return time.Parse("2006-01-02", s)
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

// HealthCheck fetches a quote for a liquid symbol.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Quote(ctx, "AAPL")
	return err
}

func nullDec(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
