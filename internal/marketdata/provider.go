// Package marketdata supplies historical daily price series to the backtest
// core. Providers tolerate partial failures: a ticker with no data is simply
// absent from the result map, never an error.
package marketdata

import (
	"context"
	"time"

	"quantfolio/internal/domain"
)

// Provider fetches adjusted daily close series and inception dates.
type Provider interface {
	// FetchPrices returns one series per ticker for dates in [start, end].
	// Tickers with no available data are omitted from the map.
	FetchPrices(ctx context.Context, tickers []string, start, end time.Time) (map[string]domain.PriceSeries, error)

	// InceptionDates returns the earliest date data exists for each ticker,
	// independent of any requested window. Unknown tickers are omitted.
	InceptionDates(ctx context.Context, tickers []string) (map[string]time.Time, error)
}

// ---------------------------------------------------------------------------
// StaticProvider
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ Provider = (*StaticProvider)(nil)

// StaticProvider serves price data from an in-memory map. It backs tests and
// offline runs against pre-loaded series.
type StaticProvider struct {
	series map[string]domain.PriceSeries
}

// NewStaticProvider creates a StaticProvider over the given series, keyed by
// ticker.
func NewStaticProvider(series map[string]domain.PriceSeries) *StaticProvider {
	return &StaticProvider{series: series}
}

// FetchPrices returns the stored series sliced to [start, end].
func (p *StaticProvider) FetchPrices(_ context.Context, tickers []string, start, end time.Time) (map[string]domain.PriceSeries, error) {
	out := make(map[string]domain.PriceSeries, len(tickers))
	for _, t := range tickers {
		s, ok := p.series[t]
		if !ok {
			continue
		}
		sub := s.Slice(domain.Day(start), domain.Day(end))
		if !sub.Empty() {
			out[t] = sub
		}
	}
	return out, nil
}

// InceptionDates returns the first stored date per known ticker.
func (p *StaticProvider) InceptionDates(_ context.Context, tickers []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(tickers))
	for _, t := range tickers {
		s, ok := p.series[t]
		if !ok || s.Empty() {
			continue
		}
		out[t] = s.First().Date
	}
	return out, nil
}
