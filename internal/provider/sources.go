package provider

import "context"

// Optional per-capability interfaces. The manager only calls one when the
// adapter also declares the matching Capability.

type HistoricalSource interface {
	Historical(ctx context.Context, symbol, period, interval string) ([]Bar, error)
}

type FundamentalsSource interface {
	Fundamentals(ctx context.Context, symbol string) (Fundamentals, error)
}

type OptionsSource interface {
	OptionQuote(ctx context.Context, symbol string) (OptionQuote, error)
}

type ForexSource interface {
	ForexQuote(ctx context.Context, pair string) (ForexQuote, error)
}

type FuturesSource interface {
	FutureQuote(ctx context.Context, symbol string) (FuturesQuote, error)
}

type EconomySource interface {
	EconomyData(ctx context.Context, indicator string) (EconomyIndicator, error)
}
