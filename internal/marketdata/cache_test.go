package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantfolio/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func flatSeries(ticker string, start time.Time, days int, close float64) domain.PriceSeries {
	s := domain.PriceSeries{Ticker: ticker}
	for i := 0; i < days; i++ {
		s.Points = append(s.Points, domain.PricePoint{Date: start.AddDate(0, 0, i), Close: close})
	}
	return s
}

// countingProvider wraps a StaticProvider and records fetch calls.
type countingProvider struct {
	*StaticProvider
	fetches int
}

func (p *countingProvider) FetchPrices(ctx context.Context, tickers []string, start, end time.Time) (map[string]domain.PriceSeries, error) {
	p.fetches++
	return p.StaticProvider.FetchPrices(ctx, tickers, start, end)
}

func TestStaticProviderSlicesToWindow(t *testing.T) {
	p := NewStaticProvider(map[string]domain.PriceSeries{
		"SPY": flatSeries("SPY", day(2024, 1, 1), 30, 100),
	})

	got, err := p.FetchPrices(context.Background(), []string{"SPY", "MISSING"}, day(2024, 1, 10), day(2024, 1, 15))
	require.NoError(t, err)
	require.Contains(t, got, "SPY")
	assert.NotContains(t, got, "MISSING")
	assert.Equal(t, 6, got["SPY"].Len())
	assert.Equal(t, day(2024, 1, 10), got["SPY"].First().Date)
	assert.Equal(t, day(2024, 1, 15), got["SPY"].Last().Date)
}

func TestStaticProviderInceptionDates(t *testing.T) {
	p := NewStaticProvider(map[string]domain.PriceSeries{
		"QQQ": flatSeries("QQQ", day(2020, 3, 2), 10, 250),
	})

	got, err := p.InceptionDates(context.Background(), []string{"QQQ", "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, day(2020, 3, 2), got["QQQ"])
	assert.NotContains(t, got, "MISSING")
}

func TestParquetCacheRoundTrip(t *testing.T) {
	start, end := day(2024, 1, 1), day(2024, 2, 29)
	upstream := &countingProvider{StaticProvider: NewStaticProvider(map[string]domain.PriceSeries{
		"SPY": flatSeries("SPY", start, 60, 100),
	})}
	cache := NewParquetCache(upstream, t.TempDir(), 24*time.Hour)

	first, err := cache.FetchPrices(context.Background(), []string{"SPY"}, start, end)
	require.NoError(t, err)
	require.Contains(t, first, "SPY")
	assert.Equal(t, 1, upstream.fetches)

	// Second fetch of the same window must come from disk.
	second, err := cache.FetchPrices(context.Background(), []string{"SPY"}, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.fetches)
	assert.Equal(t, first["SPY"].Len(), second["SPY"].Len())
	assert.Equal(t, first["SPY"].First(), second["SPY"].First())
	assert.Equal(t, first["SPY"].Last(), second["SPY"].Last())
}

func TestParquetCacheSpansYears(t *testing.T) {
	start := day(2023, 12, 20)
	end := day(2024, 1, 10)
	upstream := &countingProvider{StaticProvider: NewStaticProvider(map[string]domain.PriceSeries{
		"SPY": flatSeries("SPY", start, 22, 100),
	})}
	cache := NewParquetCache(upstream, t.TempDir(), 24*time.Hour)

	got, err := cache.FetchPrices(context.Background(), []string{"SPY"}, start, end)
	require.NoError(t, err)
	assert.Equal(t, 22, got["SPY"].Len())

	cached, err := cache.FetchPrices(context.Background(), []string{"SPY"}, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.fetches)
	assert.Equal(t, 22, cached["SPY"].Len())
	assert.Equal(t, day(2023, 12, 20), cached["SPY"].First().Date)
	assert.Equal(t, day(2024, 1, 10), cached["SPY"].Last().Date)
}

func TestParquetCacheMemoizesInceptions(t *testing.T) {
	upstream := NewStaticProvider(map[string]domain.PriceSeries{
		"VTI": flatSeries("VTI", day(2001, 6, 15), 5, 50),
	})
	cache := NewParquetCache(upstream, t.TempDir(), time.Hour)

	got, err := cache.InceptionDates(context.Background(), []string{"VTI"})
	require.NoError(t, err)
	assert.Equal(t, day(2001, 6, 15), got["VTI"])

	again, err := cache.InceptionDates(context.Background(), []string{"VTI"})
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestMergeRecordsDeduplicates(t *testing.T) {
	ts := day(2024, 5, 1).UnixMilli()
	existing := []PriceRecord{{Symbol: "SPY", Timestamp: ts, Close: 100}}
	incoming := []PriceRecord{
		{Symbol: "SPY", Timestamp: ts, Close: 101},
		{Symbol: "SPY", Timestamp: day(2024, 5, 2).UnixMilli(), Close: 102},
	}

	merged := mergeRecords(existing, incoming)
	require.Len(t, merged, 2)
	assert.Equal(t, 101.0, merged[0].Close) // incoming wins
	assert.Equal(t, 102.0, merged[1].Close)
}
