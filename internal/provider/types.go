package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized shape returned by all providers.
// Prices are decimals to avoid float rounding between sources.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
	Provider      string          `json:"provider"`

	// Optional, provider-dependent.
	Open      decimal.NullDecimal `json:"open"`
	High      decimal.NullDecimal `json:"high"`
	Low       decimal.NullDecimal `json:"low"`
	PrevClose decimal.NullDecimal `json:"prev_close"`
	MarketCap int64               `json:"market_cap,omitempty"`
	Name      string              `json:"name,omitempty"`
}

// Bar is a single OHLCV bar.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// Fundamentals is company reference data.
type Fundamentals struct {
	Symbol           string              `json:"symbol"`
	Name             string              `json:"name"`
	PERatio          decimal.NullDecimal `json:"pe_ratio"`
	EPS              decimal.NullDecimal `json:"eps"`
	MarketCap        int64               `json:"market_cap,omitempty"`
	DividendYield    decimal.NullDecimal `json:"dividend_yield"`
	FiftyTwoWeekHigh decimal.NullDecimal `json:"fifty_two_week_high"`
	FiftyTwoWeekLow  decimal.NullDecimal `json:"fifty_two_week_low"`
	Sector           string              `json:"sector,omitempty"`
	Industry         string              `json:"industry,omitempty"`
	Provider         string              `json:"provider"`
}

// OptionQuote is a quote for a single options contract
// (e.g. AAPL250117C00150000).
type OptionQuote struct {
	Symbol            string                     `json:"symbol"`
	Underlying        string                     `json:"underlying"`
	Expiration        time.Time                  `json:"expiration"`
	Strike            decimal.Decimal            `json:"strike"`
	Type              string                     `json:"type"` // call | put
	Price             decimal.Decimal            `json:"price"`
	Change            decimal.Decimal            `json:"change"`
	ChangePercent     decimal.Decimal            `json:"change_percent"`
	Volume            int64                      `json:"volume"`
	OpenInterest      int64                      `json:"open_interest"`
	ImpliedVolatility decimal.NullDecimal        `json:"implied_volatility"`
	Greeks            map[string]decimal.Decimal `json:"greeks,omitempty"`
	Timestamp         time.Time                  `json:"timestamp"`
	Provider          string                     `json:"provider"`
}

// ForexQuote is a quote for a currency pair such as EUR/USD.
type ForexQuote struct {
	Symbol        string              `json:"symbol"`
	Rate          decimal.Decimal     `json:"rate"`
	Change        decimal.Decimal     `json:"change"`
	ChangePercent decimal.Decimal     `json:"change_percent"`
	Bid           decimal.NullDecimal `json:"bid"`
	Ask           decimal.NullDecimal `json:"ask"`
	Timestamp     time.Time           `json:"timestamp"`
	Provider      string              `json:"provider"`
}

// FuturesQuote is a quote for a futures contract.
type FuturesQuote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	OpenInterest  int64           `json:"open_interest"`
	Expiration    *time.Time      `json:"expiration,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Provider      string          `json:"provider"`
}

// EconomyIndicator is the latest observation of a macro series (CPI, GDP, ...).
type EconomyIndicator struct {
	Name     string              `json:"name"`
	Value    decimal.Decimal     `json:"value"`
	Unit     string              `json:"unit"`
	Date     time.Time           `json:"date"`
	Period   string              `json:"period"` // monthly, quarterly, ...
	Previous decimal.NullDecimal `json:"previous"`
	Provider string              `json:"provider"`
}
