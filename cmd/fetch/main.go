// Command fetch runs one market-data operation through the provider chain
// and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"marketdata/internal/app"
	"marketdata/internal/config"
	"marketdata/internal/logging"
	"marketdata/internal/manager"
)

func main() {
	var (
		configPath string
		op         string
		symbolsCSV string
		period     string
		interval   string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to config.json or config.yaml (optional)")
	flag.StringVar(&op, "op", "quote", "quote|quotes|historical|fundamentals|option|forex|future|economy|status|health|stats")
	flag.StringVar(&symbolsCSV, "symbols", "AAPL", "comma-separated symbols, contracts, pairs or indicators")
	flag.StringVar(&period, "period", "1mo", "historical period")
	flag.StringVar(&interval, "interval", "1d", "historical interval")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatal("build providers", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := runOp(ctx, a.Manager, op, splitCSV(symbolsCSV), period, interval)
	if err != nil {
		b, _ := json.MarshalIndent(platformerrors.ToJSON(err), "", "  ")
		fmt.Fprintln(os.Stderr, string(b))
		os.Exit(1)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logger.Fatal("encode result", zap.Error(err))
	}
	fmt.Println(string(b))
}

// runOp dispatches op. Single-item operations run once per argument and
// return a map keyed by argument; the first failure aborts.
func runOp(ctx context.Context, m *manager.Manager, op string, args []string, period, interval string) (any, error) {
	switch strings.ToLower(op) {
	case "quotes":
		return m.Quotes(ctx, args)
	case "status":
		return m.Status(), nil
	case "health":
		return m.HealthCheck(ctx), nil
	case "stats":
		return m.Stats(), nil
	}

	var one func(string) (any, error)
	switch strings.ToLower(op) {
	case "quote":
		one = func(s string) (any, error) { return m.Quote(ctx, s) }
	case "historical":
		one = func(s string) (any, error) { return m.Historical(ctx, s, period, interval) }
	case "fundamentals":
		one = func(s string) (any, error) { return m.Fundamentals(ctx, s) }
	case "option":
		one = func(s string) (any, error) { return m.OptionQuote(ctx, s) }
	case "forex":
		one = func(s string) (any, error) { return m.ForexQuote(ctx, s) }
	case "future":
		one = func(s string) (any, error) { return m.FutureQuote(ctx, s) }
	case "economy":
		one = func(s string) (any, error) { return m.EconomyData(ctx, s) }
	default:
		return nil, platformerrors.Newf(platformerrors.CodeInvalidInput, "unknown op %q", op)
	}
	if len(args) == 0 {
		return nil, platformerrors.New(platformerrors.CodeInvalidInput, "no symbols provided")
	}
	res := make(map[string]any, len(args))
	for _, s := range args {
		v, err := one(s)
		if err != nil {
			return nil, err
		}
		res[s] = v
	}
	return res, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
