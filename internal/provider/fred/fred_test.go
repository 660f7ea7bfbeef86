package fred_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/provider/fred"
)

func serve(t *testing.T, h http.HandlerFunc) *fred.Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return fred.New(fred.Config{BaseURL: srv.URL, APIKey: "k"}, httpx.New(time.Second))
}

func TestEconomyData_LatestAndPrevious(t *testing.T) {
	t.Parallel()
	p := serve(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/series/observations", r.URL.Path)
		assert.Equal(t, "UNRATE", q.Get("series_id"))
		assert.Equal(t, "desc", q.Get("sort_order"))
		_, _ = w.Write([]byte(`{"observations": [
			{"date": "2025-03-01", "value": "."},
			{"date": "2025-02-01", "value": "4.1"},
			{"date": "2025-01-01", "value": "4.0"}]}`))
	})

	got, err := p.EconomyData(t.Context(), "unemployment")
	require.NoError(t, err)
	require.Equal(t, "UNEMPLOYMENT", got.Name)
	require.True(t, got.Value.Equal(decimal.RequireFromString("4.1")))
	require.True(t, got.Previous.Valid)
	require.True(t, got.Previous.Decimal.Equal(decimal.RequireFromString("4.0")))
	require.Equal(t, "%", got.Unit)
	require.Equal(t, "monthly", got.Period)
	require.Equal(t, "2025-02-01", got.Date.Format(time.DateOnly))
}

func TestEconomyData_RawSeriesPassesThrough(t *testing.T) {
	t.Parallel()
	p := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "WALCL", r.URL.Query().Get("series_id"))
		_, _ = w.Write([]byte(`{"observations": [{"date": "2025-03-05", "value": "6750000"}]}`))
	})

	got, err := p.EconomyData(t.Context(), "walcl")
	require.NoError(t, err)
	require.Equal(t, "varies", got.Period)
	require.False(t, got.Previous.Valid)
}

func TestEconomyData_Errors(t *testing.T) {
	t.Parallel()
	badRequest := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error_message": "Bad Request. The series does not exist."}`, http.StatusBadRequest)
	})
	_, err := badRequest.EconomyData(t.Context(), "NOPE")
	require.True(t, provider.IsNotFound(err))

	limited := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err = limited.EconomyData(t.Context(), "CPI")
	require.True(t, provider.IsRateLimited(err))

	empty := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"observations": [{"date": "2025-03-01", "value": "."}]}`))
	})
	_, err = empty.EconomyData(t.Context(), "CPI")
	require.True(t, provider.IsNotFound(err))
}

func TestQuoteIsUnsupported(t *testing.T) {
	t.Parallel()
	p := fred.New(fred.Config{}, nil)
	_, err := p.Quote(t.Context(), "AAPL")
	require.Equal(t, provider.KindUnsupported, provider.KindOf(err))
	require.False(t, p.Capabilities().Has(provider.CapQuote))
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	p := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series", r.URL.Path)
		_, _ = w.Write([]byte(`{"seriess": [{"id": "GDP"}]}`))
	})
	require.NoError(t, p.HealthCheck(t.Context()))
}

func TestSeriesID(t *testing.T) {
	t.Parallel()
	require.Equal(t, "CPIAUCSL", fred.SeriesID(" cpi "))
	require.Equal(t, "DGS10", fred.SeriesID("10y"))
	require.Equal(t, "XYZ", fred.SeriesID("xyz"))
}
