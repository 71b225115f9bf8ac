package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantfolio/internal/domain"
	"quantfolio/internal/util"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// earliestQueryDate bounds inception lookups; Alpaca serves no daily bars
// before this.
var earliestQueryDate = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// AlpacaProvider fetches daily adjusted bars from the Alpaca market-data API.
type AlpacaProvider struct {
	client *marketdata.Client
	log    *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider with the given credentials. An
// empty dataURL uses the SDK default endpoint.
func NewAlpacaProvider(apiKey, apiSecret, dataURL string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaProvider{
		client: marketdata.NewClient(opts),
		log:    slog.Default().With("provider", "alpaca"),
	}
}

// FetchPrices fetches split- and dividend-adjusted daily closes for all
// tickers in one multi-bar request. Tickers the API knows nothing about are
// simply absent from the response and therefore from the result.
func (p *AlpacaProvider) FetchPrices(ctx context.Context, tickers []string, start, end time.Time) (map[string]domain.PriceSeries, error) {
	if len(tickers) == 0 {
		return map[string]domain.PriceSeries{}, nil
	}

	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		multiBars, err = p.client.GetMultiBars(tickers, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Start:      start,
			End:        end,
			Adjustment: marketdata.All,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching bars for %d tickers: %w", len(tickers), err)
	}

	out := make(map[string]domain.PriceSeries, len(multiBars))
	for symbol, bars := range multiBars {
		if len(bars) == 0 {
			continue
		}
		series := domain.PriceSeries{Ticker: strings.ToUpper(symbol)}
		for _, b := range bars {
			series.Points = append(series.Points, domain.PricePoint{
				Date:  domain.Day(b.Timestamp),
				Close: b.Close,
			})
		}
		sort.Slice(series.Points, func(i, j int) bool {
			return series.Points[i].Date.Before(series.Points[j].Date)
		})
		out[series.Ticker] = series
	}
	return out, nil
}

// InceptionDates queries the first available daily bar per ticker. A ticker
// with no bars at all is omitted, not an error.
func (p *AlpacaProvider) InceptionDates(ctx context.Context, tickers []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(tickers))
	for _, t := range tickers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var bars []marketdata.Bar
		err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
			var err error
			bars, err = p.client.GetBars(t, marketdata.GetBarsRequest{
				TimeFrame:  marketdata.OneDay,
				Start:      earliestQueryDate,
				TotalLimit: 1,
			})
			return err
		})
		if err != nil {
			p.log.Warn("inception lookup failed", "ticker", t, "err", err)
			continue
		}
		if len(bars) == 0 {
			continue
		}
		out[strings.ToUpper(t)] = domain.Day(bars[0].Timestamp)
	}
	return out, nil
}
