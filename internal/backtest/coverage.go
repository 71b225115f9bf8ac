package backtest

import (
	"fmt"
	"sort"
	"time"

	"quantfolio/internal/domain"
)

// CoverageStatus classifies how well a ticker's data spans a requested window.
type CoverageStatus string

const (
	CoverageFull    CoverageStatus = "full"
	CoveragePartial CoverageStatus = "partial"
	CoverageNoData  CoverageStatus = "no_data"
)

// Severity is the run-level outcome of coverage validation, from best to
// worst: success, warning, error, critical.
type Severity string

const (
	SeveritySuccess  Severity = "success"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// endLagToleranceDays tolerates data-vendor lag at the end of a window: a
// series whose last point falls within this many days of the requested end
// still counts as full coverage.
const endLagToleranceDays = 5

// TickerCoverage describes one ticker's data coverage within a window.
type TickerCoverage struct {
	Ticker           string
	Status           CoverageStatus
	RequestedStart   time.Time
	RequestedEnd     time.Time
	InceptionDate    time.Time // zero when unknown
	FirstAvailable   time.Time
	LastAvailable    time.Time
	CoveragePct      float64
	MissingStartDays int
	MissingEndDays   int
}

// ValidationResult aggregates per-ticker coverage and the derived effective
// window. It is computed once before simulation and read-only afterwards.
type ValidationResult struct {
	Tickers        []TickerCoverage
	EffectiveStart time.Time
	EffectiveEnd   time.Time
	Severity       Severity
	IsValid        bool
	Warnings       []string
}

// UsableTickers returns the tickers with full or partial coverage, sorted.
func (r ValidationResult) UsableTickers() []string {
	var out []string
	for _, tc := range r.Tickers {
		if tc.Status != CoverageNoData {
			out = append(out, tc.Ticker)
		}
	}
	sort.Strings(out)
	return out
}

// ExcludedTickers returns the tickers dropped for having no usable data.
func (r ValidationResult) ExcludedTickers() []string {
	var out []string
	for _, tc := range r.Tickers {
		if tc.Status == CoverageNoData {
			out = append(out, tc.Ticker)
		}
	}
	sort.Strings(out)
	return out
}

// ValidateCoverage classifies each requested ticker against the window
// [start, end]. inceptions maps ticker to its true earliest-available date;
// a ticker absent from it is treated as having no obtainable inception date.
// The result informs and warns but never blocks a degraded run by itself.
func ValidateCoverage(tickers []string, prices map[string]domain.PriceSeries, inceptions map[string]time.Time, start, end time.Time) ValidationResult {
	start, end = domain.Day(start), domain.Day(end)

	res := ValidationResult{}
	var effStart, effEnd time.Time

	for _, ticker := range tickers {
		tc := TickerCoverage{
			Ticker:         ticker,
			RequestedStart: start,
			RequestedEnd:   end,
		}

		inception, hasInception := inceptions[ticker]
		if hasInception {
			tc.InceptionDate = domain.Day(inception)
		}
		series := prices[ticker].Slice(start, end)

		switch {
		case !hasInception:
			tc.Status = CoverageNoData
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: no inception date available, excluded", ticker))
		case tc.InceptionDate.After(end):
			tc.Status = CoverageNoData
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: data begins %s, after requested end, excluded", ticker, tc.InceptionDate.Format("2006-01-02")))
		case series.Empty():
			tc.Status = CoverageNoData
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: no price data in requested window, excluded", ticker))
		default:
			tc.FirstAvailable = series.First().Date
			tc.LastAvailable = series.Last().Date
			tc.MissingStartDays = daysBetween(start, tc.InceptionDate)
			tc.MissingEndDays = daysBetween(tc.LastAvailable, end)

			window := daysBetween(start, end) + 1
			covered := window - tc.MissingStartDays - tc.MissingEndDays
			if window > 0 {
				tc.CoveragePct = float64(covered) / float64(window) * 100
			}

			if tc.MissingStartDays == 0 && tc.MissingEndDays <= endLagToleranceDays {
				tc.Status = CoverageFull
			} else {
				tc.Status = CoveragePartial
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: partial coverage (%.1f%%), data %s to %s", ticker, tc.CoveragePct, tc.FirstAvailable.Format("2006-01-02"), tc.LastAvailable.Format("2006-01-02")))
			}

			if effStart.IsZero() || tc.InceptionDate.After(effStart) {
				effStart = tc.InceptionDate
			}
			if effEnd.IsZero() || tc.LastAvailable.Before(effEnd) {
				effEnd = tc.LastAvailable
			}
		}

		res.Tickers = append(res.Tickers, tc)
	}

	// The effective window starts no earlier than requested.
	if effStart.Before(start) {
		effStart = start
	}
	res.EffectiveStart = effStart
	res.EffectiveEnd = effEnd

	usable, excluded, partial := 0, 0, 0
	for _, tc := range res.Tickers {
		switch tc.Status {
		case CoverageNoData:
			excluded++
		case CoveragePartial:
			usable++
			partial++
		case CoverageFull:
			usable++
		}
	}

	res.IsValid = usable > 0
	switch {
	case usable == 0:
		res.Severity = SeverityCritical
	case excluded > 0:
		res.Severity = SeverityError
	case partial > 0:
		res.Severity = SeverityWarning
	default:
		res.Severity = SeveritySuccess
	}
	return res
}

// daysBetween returns the whole days from a to b, floored at 0.
func daysBetween(a, b time.Time) int {
	d := int(b.Sub(a).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
