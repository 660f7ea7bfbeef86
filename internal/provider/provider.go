package provider

import "context"

// Adapter is the contract every upstream integration implements.
// Quote, Quotes and HealthCheck are mandatory; everything else is
// discovered through the optional interfaces in sources.go and must also be
// declared in Capabilities.
//
//go:generate mockgen -package=providermock -destination=providermock/adapter.go -source=provider.go Adapter
type Adapter interface {
	Name() string
	Capabilities() CapabilitySet
	Quote(ctx context.Context, symbol string) (Quote, error)
	// Quotes returns whatever subset of symbols it could resolve, keyed by
	// the requested symbol.
	Quotes(ctx context.Context, symbols []string) (map[string]Quote, error)
	// HealthCheck is a lightweight check, independent of normal selection.
	HealthCheck(ctx context.Context) error
}
