package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"quantfolio/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*ParquetCache)(nil)

// PriceRecord is the Parquet schema for cached daily closes.
type PriceRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Close     float64 `parquet:"close"`
}

// ParquetCache wraps another Provider with an on-disk Parquet cache,
// organized per symbol and year:
//
//	<DataDir>/prices/<SYMBOL>/<YYYY>.parquet
//
// A cached range that already covers the requested end date never expires;
// a range that falls short of it is refetched once the newest year file is
// older than Expiry.
type ParquetCache struct {
	upstream Provider
	DataDir  string
	Expiry   time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	inceptions map[string]time.Time
}

// NewParquetCache creates a ParquetCache rooted at dataDir in front of the
// given upstream provider.
func NewParquetCache(upstream Provider, dataDir string, expiry time.Duration) *ParquetCache {
	return &ParquetCache{
		upstream:   upstream,
		DataDir:    dataDir,
		Expiry:     expiry,
		log:        slog.Default().With("provider", "parquet-cache"),
		inceptions: make(map[string]time.Time),
	}
}

// FetchPrices serves each ticker from the cache when possible and falls back
// to the upstream provider for the rest, merging fetched data back into the
// per-year files. Results are keyed by ticker, independent of fetch order.
func (c *ParquetCache) FetchPrices(ctx context.Context, tickers []string, start, end time.Time) (map[string]domain.PriceSeries, error) {
	start, end = domain.Day(start), domain.Day(end)

	out := make(map[string]domain.PriceSeries, len(tickers))
	var misses []string
	for _, t := range tickers {
		series, ok := c.readCached(t, start, end)
		if ok {
			out[t] = series
			continue
		}
		misses = append(misses, t)
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.upstream.FetchPrices(ctx, misses, start, end)
	if err != nil {
		return nil, err
	}
	for t, series := range fetched {
		if series.Empty() {
			continue
		}
		if err := c.writeCached(series); err != nil {
			c.log.Warn("cache write failed", "ticker", t, "err", err)
		}
		out[t] = series
	}
	return out, nil
}

// InceptionDates delegates to the upstream provider, memoizing per ticker
// for the lifetime of the cache.
func (c *ParquetCache) InceptionDates(ctx context.Context, tickers []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(tickers))

	c.mu.Lock()
	var misses []string
	for _, t := range tickers {
		if d, ok := c.inceptions[t]; ok {
			out[t] = d
		} else {
			misses = append(misses, t)
		}
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.upstream.InceptionDates(ctx, misses)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for t, d := range fetched {
		c.inceptions[t] = d
		out[t] = d
	}
	c.mu.Unlock()

	return out, nil
}

// ---------------------------------------------------------------------------
// Cache file handling
// ---------------------------------------------------------------------------

// readCached assembles the series for [start, end] from year files. The
// second return value reports a usable hit: the cache either covers the
// requested end date or is fresher than the expiry window.
func (c *ParquetCache) readCached(ticker string, start, end time.Time) (domain.PriceSeries, bool) {
	series := domain.PriceSeries{Ticker: ticker}
	var newestFile time.Time

	for year := start.Year(); year <= end.Year(); year++ {
		path := c.pricePath(ticker, year)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(newestFile) {
			newestFile = info.ModTime()
		}

		records, err := parquet.ReadFile[PriceRecord](path)
		if err != nil {
			continue
		}
		for _, r := range records {
			d := domain.Day(time.UnixMilli(r.Timestamp).UTC())
			if d.Before(start) || d.After(end) {
				continue
			}
			series.Points = append(series.Points, domain.PricePoint{Date: d, Close: r.Close})
		}
	}

	if series.Empty() {
		return series, false
	}
	sort.Slice(series.Points, func(i, j int) bool {
		return series.Points[i].Date.Before(series.Points[j].Date)
	})

	coversEnd := !series.Last().Date.Before(addDays(end, -5))
	fresh := time.Since(newestFile) < c.Expiry
	return series, coversEnd || fresh
}

// writeCached merges the series into its per-year files, deduplicating by
// date with fetched data winning.
func (c *ParquetCache) writeCached(series domain.PriceSeries) error {
	byYear := make(map[int][]PriceRecord)
	for _, p := range series.Points {
		byYear[p.Date.Year()] = append(byYear[p.Date.Year()], PriceRecord{
			Symbol:    series.Ticker,
			Timestamp: p.Date.UnixMilli(),
			Close:     p.Close,
		})
	}

	for year, records := range byYear {
		path := c.pricePath(series.Ticker, year)

		existing, _ := parquet.ReadFile[PriceRecord](path)
		merged := mergeRecords(existing, records)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := parquet.WriteFile(path, merged); err != nil {
			return fmt.Errorf("writing cache for %s/%d: %w", series.Ticker, year, err)
		}
	}
	return nil
}

// pricePath returns the cache file path for one symbol-year.
func (c *ParquetCache) pricePath(ticker string, year int) string {
	return filepath.Join(c.DataDir, "prices", strings.ToUpper(ticker), fmt.Sprintf("%d.parquet", year))
}

// mergeRecords deduplicates price records by timestamp, preferring incoming
// records over existing ones. Results are sorted by timestamp.
func mergeRecords(existing, incoming []PriceRecord) []PriceRecord {
	seen := make(map[int64]PriceRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]PriceRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

func addDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}
