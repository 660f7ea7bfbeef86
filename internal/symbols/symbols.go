// Package symbols normalizes ticker symbols into cache/dedup fingerprints
// and translates them into each upstream's spelling.
package symbols

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// aliasMap resolves common names to symbols. Keys are lower-case.
var aliasMap = map[string]string{
	"apple":     "AAPL",
	"microsoft": "MSFT",
	"google":    "GOOGL",
	"alphabet":  "GOOGL",
	"amazon":    "AMZN",
	"meta":      "META",
	"facebook":  "META",
	"netflix":   "NFLX",
	"nvidia":    "NVDA",
	"tesla":     "TSLA",
	"berkshire": "BRK-B",
	"jpmorgan":  "JPM",
	"visa":      "V",
	"walmart":   "WMT",
	"disney":    "DIS",

	"bitcoin":  "BTC-USD",
	"btc":      "BTC-USD",
	"ethereum": "ETH-USD",
	"eth":      "ETH-USD",
	"solana":   "SOL-USD",

	"gold":        "GC=F",
	"silver":      "SI=F",
	"oil":         "CL=F",
	"crude":       "CL=F",
	"wti":         "CL=F",
	"brent":       "BZ=F",
	"natural gas": "NG=F",
	"natgas":      "NG=F",
	"copper":      "HG=F",
	"corn":        "ZC=F",
	"wheat":       "ZW=F",

	"10y":     "^TNX",
	"30y":     "^TYX",
	"sp500":   "^GSPC",
	"s&p":     "^GSPC",
	"dow":     "^DJI",
	"nasdaq":  "^IXIC",
	"russell": "^RUT",
	"vix":     "^VIX",

	"euro":  "EURUSD=X",
	"pound": "GBPUSD=X",
	"yen":   "JPYUSD=X",
	"dxy":   "DX-Y.NYB",
}

var validSymbol = regexp.MustCompile(`^[A-Z0-9^=\-.]{1,12}$`)

// Normalize upper-cases and trims s. It is the fingerprint for quotes.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Resolve maps a common name to its symbol, or normalizes the input.
func Resolve(query string) string {
	if sym, ok := aliasMap[strings.ToLower(strings.TrimSpace(query))]; ok {
		return sym
	}
	return Normalize(query)
}

// Valid reports whether s looks like a ticker after normalization.
func Valid(s string) bool {
	return validSymbol.MatchString(Normalize(s))
}

// Unique normalizes symbols and drops blanks and duplicates, keeping the
// first occurrence order.
func Unique(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		n := Normalize(s)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// HistoricalKey is the fingerprint for a bar series.
func HistoricalKey(symbol, period, interval string) string {
	return Normalize(symbol) + ":" + strings.ToLower(strings.TrimSpace(period)) + ":" + strings.ToLower(strings.TrimSpace(interval))
}

// ForProvider rewrites a normalized symbol into the provider's spelling.
// Yahoo writes share classes with '-', the others with '.'.
func ForProvider(providerName, symbol string) string {
	s := Normalize(symbol)
	switch strings.ToLower(providerName) {
	case "yahoo":
		if isShareClass(s, '.') {
			return strings.Replace(s, ".", "-", 1)
		}
	case "finnhub", "alphavantage", "twelvedata":
		if isShareClass(s, '-') {
			return strings.Replace(s, "-", ".", 1)
		}
	}
	return s
}

// FromProvider maps a provider's spelling back to the fingerprint used in
// the request.
func FromProvider(providerName, symbol string, requested []string) string {
	s := Normalize(symbol)
	for _, r := range requested {
		if ForProvider(providerName, r) == s {
			return Normalize(r)
		}
	}
	return s
}

// isShareClass matches tickers like BRK.B / BRK-B: letters, the separator,
// then a single class letter.
func isShareClass(s string, sep byte) bool {
	i := strings.IndexByte(s, sep)
	if i <= 0 || i != len(s)-2 {
		return false
	}
	c := s[len(s)-1]
	return c >= 'A' && c <= 'Z'
}

// SplitPair parses a currency pair written as EUR/USD, EUR-USD, EURUSD or
// Yahoo's EURUSD=X into its base and quote currencies.
func SplitPair(pair string) (base, quote string, ok bool) {
	s := strings.TrimSuffix(Normalize(pair), "=X")
	if i := strings.IndexAny(s, "/-"); i >= 0 {
		base, quote = s[:i], s[i+1:]
	} else if len(s) == 6 {
		base, quote = s[:3], s[3:]
	}
	if len(base) != 3 || len(quote) != 3 {
		return "", "", false
	}
	return base, quote, true
}

// OptionContract is the decoded form of an OCC option symbol.
type OptionContract struct {
	Underlying string
	Expiration time.Time
	Type       string // call | put
	Strike     decimal.Decimal
}

var occSymbol = regexp.MustCompile(`^([A-Z]{1,6})(\d{6})([CP])(\d{8})$`)

// ParseOption decodes an OCC contract symbol such as AAPL250117C00150000:
// root, YYMMDD expiry, C or P, strike in thousandths.
func ParseOption(s string) (OptionContract, bool) {
	m := occSymbol.FindStringSubmatch(Normalize(s))
	if m == nil {
		return OptionContract{}, false
	}
	exp, err := time.Parse("060102", m[2])
	if err != nil {
		return OptionContract{}, false
	}
	strike, err := decimal.NewFromString(m[4])
	if err != nil {
		return OptionContract{}, false
	}
	typ := "call"
	if m[3] == "P" {
		typ = "put"
	}
	return OptionContract{
		Underlying: m[1],
		Expiration: exp,
		Type:       typ,
		Strike:     strike.Shift(-3),
	}, true
}
