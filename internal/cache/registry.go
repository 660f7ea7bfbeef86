package cache

import (
	"encoding/json"
	"sort"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"marketdata/internal/provider"
)

// Names of the logical caches.
const (
	Quotes       = "quotes"
	Intraday     = "intraday"
	Fundamentals = "fundamentals"
	Charts       = "charts"
	Historical   = "historical"
	News         = "news"
	Earnings     = "earnings"
)

// TTLs holds the default freshness window of each logical cache.
type TTLs struct {
	Quotes       time.Duration
	Intraday     time.Duration
	Fundamentals time.Duration
	Charts       time.Duration
	Historical   time.Duration
	News         time.Duration
	Earnings     time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Quotes:       5 * time.Minute,
		Intraday:     time.Minute,
		Fundamentals: time.Hour,
		Charts:       5 * time.Minute,
		Historical:   24 * time.Hour,
		News:         10 * time.Minute,
		Earnings:     time.Hour,
	}
}

// Registrar receives every cache the registry creates. The metrics
// collector implements it.
type Registrar interface {
	RegisterCache(name string, src StatsSource)
}

// Registry owns the named caches of one process. It is built once at
// startup and passed to whoever needs it.
type Registry struct {
	Quotes       *Cache[provider.Quote]
	Intraday     *Cache[provider.Quote]
	Fundamentals *Cache[provider.Fundamentals]
	Charts       *Cache[[]byte]
	Historical   *Cache[[]provider.Bar]
	News         *Cache[json.RawMessage]
	Earnings     *Cache[json.RawMessage]

	clearers map[string]func()
	sources  map[string]StatsSource
}

// NewRegistry builds the seven caches and hands each to reg (which may be
// nil).
func NewRegistry(ttls TTLs, reg Registrar, opts ...Option) *Registry {
	r := &Registry{
		Quotes:       New[provider.Quote](Quotes, ttls.Quotes, opts...),
		Intraday:     New[provider.Quote](Intraday, ttls.Intraday, opts...),
		Fundamentals: New[provider.Fundamentals](Fundamentals, ttls.Fundamentals, opts...),
		Charts:       New[[]byte](Charts, ttls.Charts, opts...),
		Historical:   New[[]provider.Bar](Historical, ttls.Historical, opts...),
		News:         New[json.RawMessage](News, ttls.News, opts...),
		Earnings:     New[json.RawMessage](Earnings, ttls.Earnings, opts...),
	}
	r.clearers = map[string]func(){
		Quotes:       r.Quotes.Clear,
		Intraday:     r.Intraday.Clear,
		Fundamentals: r.Fundamentals.Clear,
		Charts:       r.Charts.Clear,
		Historical:   r.Historical.Clear,
		News:         r.News.Clear,
		Earnings:     r.Earnings.Clear,
	}
	r.sources = map[string]StatsSource{
		Quotes:       r.Quotes,
		Intraday:     r.Intraday,
		Fundamentals: r.Fundamentals,
		Charts:       r.Charts,
		Historical:   r.Historical,
		News:         r.News,
		Earnings:     r.Earnings,
	}
	if reg != nil {
		for _, name := range r.Names() {
			reg.RegisterCache(name, r.sources[name])
		}
	}
	return r
}

// Names returns the cache names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ClearAll empties every cache.
func (r *Registry) ClearAll() {
	for _, fn := range r.clearers {
		fn()
	}
}

// Clear empties the named cache.
func (r *Registry) Clear(name string) error {
	fn, ok := r.clearers[name]
	if !ok {
		return platformerrors.Newf(platformerrors.CodeNotFound, "unknown cache %q", name)
	}
	fn()
	return nil
}

// Stats reports every cache, keyed by name.
func (r *Registry) Stats() map[string]Stats {
	out := make(map[string]Stats, len(r.sources))
	for name, src := range r.sources {
		out[name] = src.Stats()
	}
	return out
}
