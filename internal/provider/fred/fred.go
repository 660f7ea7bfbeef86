// Package fred adapts the St. Louis Fed FRED API for macro indicators.
package fred

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
)

const (
	Name           = "fred"
	DefaultBaseURL = "https://api.stlouisfed.org/fred"

	// observationLimit leaves room for missing (".") values.
	observationLimit = 5
)

// seriesIDs maps friendly indicator names to FRED series. Unknown names
// are passed through as raw series IDs.
var seriesIDs = map[string]string{
	"CPI":          "CPIAUCSL",
	"CORECPI":      "CPILFESL",
	"INFLATION":    "T10YIE",
	"PCE":          "PCEPI",
	"UNEMPLOYMENT": "UNRATE",
	"JOBS":         "PAYEMS",
	"JOBLESS":      "ICSA",
	"LABORFORCE":   "CIVPART",
	"GDP":          "GDP",
	"REALGDP":      "GDPC1",
	"GDPGROWTH":    "A191RL1Q225SBEA",
	"FEDFUNDS":     "FEDFUNDS",
	"PRIME":        "DPRIME",
	"10Y":          "DGS10",
	"2Y":           "DGS2",
	"30Y":          "DGS30",
	"MORTGAGE":     "MORTGAGE30US",
	"DEBT":         "GFDEBTN",
	"DEFICIT":      "FYFSD",
	"RETAIL":       "RSXFS",
	"CONSUMER":     "UMCSENT",
	"CONFIDENCE":   "CSCICP03USM665S",
	"HOUSING":      "HOUST",
	"HOMEPRICE":    "CSUSHPISA",
	"PMI":          "MANEMP",
	"INDUSTRIAL":   "INDPRO",
}

var periods = map[string]string{
	"CPIAUCSL":     "monthly",
	"CPILFESL":     "monthly",
	"UNRATE":       "monthly",
	"PAYEMS":       "monthly",
	"GDP":          "quarterly",
	"GDPC1":        "quarterly",
	"FEDFUNDS":     "monthly",
	"DGS10":        "daily",
	"DGS2":         "daily",
	"DGS30":        "daily",
	"MORTGAGE30US": "weekly",
	"GFDEBTN":      "quarterly",
	"ICSA":         "weekly",
}

var units = map[string]string{
	"CPIAUCSL":     "index",
	"CPILFESL":     "index",
	"UNRATE":       "%",
	"PAYEMS":       "K jobs",
	"GDP":          "B USD",
	"GDPC1":        "B USD",
	"FEDFUNDS":     "%",
	"DGS10":        "%",
	"DGS2":         "%",
	"DGS30":        "%",
	"MORTGAGE30US": "%",
	"GFDEBTN":      "M USD",
	"ICSA":         "claims",
	"T10YIE":       "%",
	"UMCSENT":      "index",
	"HOUST":        "K units",
	"INDPRO":       "index",
}

// SeriesID resolves an indicator name to its FRED series.
func SeriesID(indicator string) string {
	ind := strings.ToUpper(strings.TrimSpace(indicator))
	if id, ok := seriesIDs[ind]; ok {
		return id
	}
	return ind
}

type Config struct {
	BaseURL string
	APIKey  string
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = httpx.New(30 * time.Second)
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.CapabilitySet {
	return provider.Capabilities(provider.CapEconomy)
}

func (p *Provider) Quote(context.Context, string) (provider.Quote, error) {
	return provider.Quote{}, provider.Unsupported(Name, provider.CapQuote)
}

func (p *Provider) Quotes(context.Context, []string) (map[string]provider.Quote, error) {
	return nil, provider.Unsupported(Name, provider.CapQuote)
}

// checkStatus reports an unknown series (HTTP 400) as not found.
func checkStatus(subject string) func(string, *http.Response) error {
	return func(name string, resp *http.Response) error {
		if resp.StatusCode == http.StatusBadRequest {
			return provider.NotFound(name, subject)
		}
		return httpx.CheckResponse(name, resp)
	}
}

type observations struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

func (p *Provider) EconomyData(ctx context.Context, indicator string) (provider.EconomyIndicator, error) {
	name := strings.ToUpper(strings.TrimSpace(indicator))
	id := SeriesID(name)
	q := url.Values{
		"series_id":  {id},
		"api_key":    {p.cfg.APIKey},
		"file_type":  {"json"},
		"sort_order": {"desc"},
		"limit":      {strconv.Itoa(observationLimit)},
	}
	var r observations
	if err := p.client.GetJSONChecked(ctx, Name, p.cfg.BaseURL+"/series/observations", q, &r, checkStatus(name)); err != nil {
		return provider.EconomyIndicator{}, err
	}

	// Newest first; "." marks a missing observation.
	var out provider.EconomyIndicator
	found := false
	for _, o := range r.Observations {
		v, err := decimal.NewFromString(o.Value)
		if err != nil {
			continue
		}
		if !found {
			date, err := time.Parse(time.DateOnly, o.Date)
			if err != nil {
				return provider.EconomyIndicator{}, provider.Failed(Name, "bad observation date %q", o.Date)
			}
			period, ok := periods[id]
			if !ok {
				period = "varies"
			}
			out = provider.EconomyIndicator{
				Name:     name,
				Value:    v,
				Unit:     units[id],
				Date:     date,
				Period:   period,
				Provider: Name,
			}
			found = true
			continue
		}
		out.Previous = decimal.NewNullDecimal(v)
		break
	}
	if !found {
		return provider.EconomyIndicator{}, provider.NotFound(Name, name)
	}
	return out, nil
}

// HealthCheck fetches the GDP series metadata.
func (p *Provider) HealthCheck(ctx context.Context) error {
	var meta struct {
		Seriess []struct {
			ID string `json:"id"`
		} `json:"seriess"`
	}
	q := url.Values{"series_id": {"GDP"}, "api_key": {p.cfg.APIKey}, "file_type": {"json"}}
	if err := p.client.GetJSON(ctx, Name, p.cfg.BaseURL+"/series", q, &meta); err != nil {
		return err
	}
	if len(meta.Seriess) == 0 {
		return provider.Failed(Name, "empty series metadata")
	}
	return nil
}
