// Package app assembles the provider manager and its collaborators from
// configuration. Both the server and the fetch CLI start here.
package app

import (
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"marketdata/internal/cache"
	"marketdata/internal/config"
	"marketdata/internal/dedup"
	"marketdata/internal/gate"
	"marketdata/internal/httpx"
	"marketdata/internal/logging"
	"marketdata/internal/manager"
	"marketdata/internal/metrics"
	"marketdata/internal/provider"
	"marketdata/internal/provider/alphavantage"
	"marketdata/internal/provider/finnhub"
	"marketdata/internal/provider/twelvedata"
	"marketdata/internal/provider/fred"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/provider/yahoo"
)

// App holds the long-lived pieces of one process.
type App struct {
	Manager *manager.Manager
	Metrics *metrics.Collector
	Gate    *gate.Gate
}

// Build wires every enabled provider. Providers that need an API key and
// have none are skipped with a warning; having nothing left is an error.
func Build(cfg config.Config, log *zap.Logger) (*App, error) {
	log = logging.OrNop(log)

	hc := httpx.New(config.Seconds(cfg.Server.RequestTimeoutSec))

	descs := Descriptors(cfg, hc, log)
	if len(descs) == 0 {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig,
			"no providers configured; enable one in the config file or set an API key")
	}

	g := gate.New(
		gate.WithFailureThreshold(cfg.Circuit.FailureThreshold),
		gate.WithRecoveryTimeout(config.Seconds(cfg.Circuit.RecoveryTimeoutSec)),
	)
	mc := metrics.New(metrics.WithCircuits(g))
	caches := cache.NewRegistry(ttls(cfg.Cache.TTL), mc, cache.WithMaxSize(cfg.Cache.MaxSize))

	var dd *dedup.Deduplicator
	if cfg.Manager.DedupWindowMs > 0 {
		dd = dedup.New(config.Millis(cfg.Manager.DedupWindowMs))
	}

	m, err := manager.New(descs,
		manager.WithGate(g),
		manager.WithMetrics(mc),
		manager.WithCaches(caches),
		manager.WithDeduplicator(dd),
		manager.WithLogger(log),
		manager.WithRetry(cfg.Manager.MaxRetries, config.Millis(cfg.Manager.BaseDelayMs)),
		manager.WithCallTimeout(config.Seconds(cfg.Manager.CallTimeoutSec)),
		manager.WithDefaultCooldown(config.Seconds(cfg.Manager.DefaultCooldownSec)),
	)
	if err != nil {
		return nil, err
	}
	return &App{Manager: m, Metrics: mc, Gate: g}, nil
}

// Descriptors returns one descriptor per usable provider in cfg.
func Descriptors(cfg config.Config, hc *httpx.Client, log *zap.Logger) []manager.Descriptor {
	log = logging.OrNop(log)
	var out []manager.Descriptor

	add := func(name string, pc config.Provider, needsKey bool, build func() provider.Adapter) {
		if !pc.Enabled {
			return
		}
		if needsKey && pc.APIKey == "" {
			log.Warn("provider enabled without api key; skipping", zap.String("provider", name))
			return
		}
		out = append(out, manager.Descriptor{
			Name:     name,
			Priority: pc.Priority,
			Adapter:  build(),
			Limiter:  limiter(pc),
		})
	}

	p := cfg.Providers
	add(yahoo.Name, p.Yahoo, false, func() provider.Adapter { return yahoo.New() })
	add(fred.Name, p.FRED, true, func() provider.Adapter {
		return fred.New(fred.Config{BaseURL: p.FRED.BaseURL, APIKey: p.FRED.APIKey}, hc)
	})
	add(alphavantage.Name, p.AlphaVantage, true, func() provider.Adapter {
		return alphavantage.New(alphavantage.Config{BaseURL: p.AlphaVantage.BaseURL, APIKey: p.AlphaVantage.APIKey}, hc)
	})
	add(finnhub.Name, p.Finnhub, true, func() provider.Adapter {
		return finnhub.New(finnhub.Config{BaseURL: p.Finnhub.BaseURL, APIKey: p.Finnhub.APIKey}, hc)
	})
	add(twelvedata.Name, p.TwelveData, true, func() provider.Adapter {
		return twelvedata.New(twelvedata.Config{BaseURL: p.TwelveData.BaseURL, APIKey: p.TwelveData.APIKey}, hc)
	})
	return out
}

// limiter prefers a token bucket when a per-minute quota is set and falls
// back to a minimum spacing between calls.
func limiter(pc config.Provider) ratelimit.Limiter {
	burst := pc.Burst
	if burst <= 0 {
		burst = 1
	}
	return ratelimit.New(pc.MaxRequestsPerMinute, burst, time.Duration(pc.MinRequestIntervalSec)*time.Second)
}

func ttls(t config.CacheTTLs) cache.TTLs {
	return cache.TTLs{
		Quotes:       config.Seconds(t.Quotes),
		Intraday:     config.Seconds(t.Intraday),
		Fundamentals: config.Seconds(t.Fundamentals),
		Charts:       config.Seconds(t.Charts),
		Historical:   config.Seconds(t.Historical),
		News:         config.Seconds(t.News),
		Earnings:     config.Seconds(t.Earnings),
	}
}
