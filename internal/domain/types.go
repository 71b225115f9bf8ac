// Package domain defines the shared types used across the quantfolio
// platform: price series, portfolio weights, trades, and the persisted
// portfolio and strategy records.
package domain

import (
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Price data
// ---------------------------------------------------------------------------

// PricePoint is a single daily observation of an adjusted close price.
type PricePoint struct {
	Date  time.Time
	Close float64
}

// PriceSeries is a chronologically ordered sequence of daily closes for one
// ticker. Dates are normalized to midnight UTC.
type PriceSeries struct {
	Ticker string
	Points []PricePoint
}

// Len returns the number of observations in the series.
func (s PriceSeries) Len() int { return len(s.Points) }

// Empty reports whether the series holds no observations.
func (s PriceSeries) Empty() bool { return len(s.Points) == 0 }

// First returns the earliest observation. The series must be non-empty.
func (s PriceSeries) First() PricePoint { return s.Points[0] }

// Last returns the most recent observation. The series must be non-empty.
func (s PriceSeries) Last() PricePoint { return s.Points[len(s.Points)-1] }

// Closes returns the close values in chronological order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Close
	}
	return out
}

// Slice returns the sub-series with dates in [start, end], inclusive.
func (s PriceSeries) Slice(start, end time.Time) PriceSeries {
	out := PriceSeries{Ticker: s.Ticker}
	for _, p := range s.Points {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		out.Points = append(out.Points, p)
	}
	return out
}

// Tail returns the last n observations, or the whole series when it holds
// fewer than n.
func (s PriceSeries) Tail(n int) PriceSeries {
	if n <= 0 || len(s.Points) <= n {
		return s
	}
	return PriceSeries{Ticker: s.Ticker, Points: s.Points[len(s.Points)-n:]}
}

// At returns the close on the given date. The second return value reports
// whether an observation exists for that date.
func (s PriceSeries) At(date time.Time) (float64, bool) {
	day := Day(date)
	i := sort.Search(len(s.Points), func(i int) bool {
		return !s.Points[i].Date.Before(day)
	})
	if i < len(s.Points) && s.Points[i].Date.Equal(day) {
		return s.Points[i].Close, true
	}
	return 0, false
}

// Day truncates t to midnight UTC, the canonical form for trading dates.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// Weights
// ---------------------------------------------------------------------------

// Weights maps ticker to allocation percentage in [0, 100].
type Weights map[string]float64

// Copy returns a shallow copy of the weight map.
func (w Weights) Copy() Weights {
	out := make(Weights, len(w))
	for t, v := range w {
		out[t] = v
	}
	return out
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	return total
}

// Normalize returns a copy rescaled so the weights sum to targetSum, after
// clamping negative entries to zero. A map whose clamped weights sum to zero
// is spread equally across its tickers.
func (w Weights) Normalize(targetSum float64) Weights {
	clean := make(Weights, len(w))
	for t, v := range w {
		clean[t] = max(0, v)
	}

	total := clean.Sum()
	if total == 0 {
		n := len(clean)
		if n == 0 {
			return clean
		}
		for t := range clean {
			clean[t] = targetSum / float64(n)
		}
		return clean
	}

	for t, v := range clean {
		clean[t] = v / total * targetSum
	}
	return clean
}

// Tickers returns the map keys in sorted order.
func (w Weights) Tickers() []string {
	out := make([]string, 0, len(w))
	for t := range w {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MaxDelta returns the largest absolute per-ticker difference between w and
// other, considering tickers present in either map.
func (w Weights) MaxDelta(other Weights) float64 {
	var m float64
	for t, v := range w {
		if d := abs(v - other[t]); d > m {
			m = d
		}
	}
	for t, v := range other {
		if _, ok := w[t]; ok {
			continue
		}
		if d := abs(v); d > m {
			m = d
		}
	}
	return m
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// TradeAction identifies the direction of a simulated trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// Trade is one simulated execution recorded by the backtest engine. Trades
// are appended to an ordered log and never mutated afterwards.
type Trade struct {
	Date   time.Time
	Ticker string
	Action TradeAction
	Shares float64 // always positive
	Price  float64 // quoted price, positive
	Value  float64 // Shares * Price, positive
	Cost   float64 // commission + slippage, non-negative
	PnL    float64 // realized P&L when known, zero otherwise
}

// ---------------------------------------------------------------------------
// Persisted records
// ---------------------------------------------------------------------------

// Portfolio is a named collection of tickers with target weights.
type Portfolio struct {
	Name        string
	Tickers     []string
	Weights     Weights
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsValid reports whether the portfolio can be backtested: at least one
// ticker and a positive total weight.
func (p Portfolio) IsValid() bool {
	return len(p.Tickers) > 0 && p.Weights.Sum() > 0
}

// StrategyRecord is a named, stored strategy script with metadata.
type StrategyRecord struct {
	Name          string
	Code          string
	Description   string
	PortfolioName string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
