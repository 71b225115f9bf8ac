package domain

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeightsNormalize(t *testing.T) {
	w := Weights{"SPY": 30, "QQQ": 20, "GLD": 10}
	n := w.Normalize(100)

	if got := n.Sum(); got < 99.999999 || got > 100.000001 {
		t.Errorf("normalized sum = %v, want 100", got)
	}
	if n["SPY"] != 50 {
		t.Errorf("SPY weight = %v, want 50", n["SPY"])
	}

	// Negative weights are clamped before normalization.
	w2 := Weights{"SPY": 50, "QQQ": -25}
	n2 := w2.Normalize(100)
	if n2["QQQ"] != 0 {
		t.Errorf("negative weight not clamped: %v", n2["QQQ"])
	}
	if n2["SPY"] != 100 {
		t.Errorf("SPY weight = %v, want 100", n2["SPY"])
	}

	// All-zero weights spread equally.
	w3 := Weights{"A": 0, "B": 0}
	n3 := w3.Normalize(100)
	if n3["A"] != 50 || n3["B"] != 50 {
		t.Errorf("zero weights not spread equally: %v", n3)
	}
}

func TestWeightsMaxDelta(t *testing.T) {
	a := Weights{"SPY": 60, "QQQ": 40}
	b := Weights{"SPY": 50, "QQQ": 45, "GLD": 5}

	if got := a.MaxDelta(b); got != 10 {
		t.Errorf("MaxDelta = %v, want 10", got)
	}
	if got := b.MaxDelta(a); got != 10 {
		t.Errorf("MaxDelta should be symmetric, got %v", got)
	}
}

func TestPriceSeriesSliceAndAt(t *testing.T) {
	s := PriceSeries{
		Ticker: "SPY",
		Points: []PricePoint{
			{Date: date(2020, 1, 2), Close: 100},
			{Date: date(2020, 1, 3), Close: 101},
			{Date: date(2020, 1, 6), Close: 102},
			{Date: date(2020, 1, 7), Close: 103},
		},
	}

	sub := s.Slice(date(2020, 1, 3), date(2020, 1, 6))
	if sub.Len() != 2 {
		t.Fatalf("Slice returned %d points, want 2", sub.Len())
	}
	if sub.First().Close != 101 || sub.Last().Close != 102 {
		t.Errorf("Slice bounds wrong: %+v", sub.Points)
	}

	if v, ok := s.At(date(2020, 1, 6)); !ok || v != 102 {
		t.Errorf("At(2020-01-06) = %v, %v; want 102, true", v, ok)
	}
	if _, ok := s.At(date(2020, 1, 4)); ok {
		t.Error("At returned true for a non-trading date")
	}
}

func TestPriceSeriesTail(t *testing.T) {
	s := PriceSeries{Points: []PricePoint{
		{Date: date(2020, 1, 2), Close: 1},
		{Date: date(2020, 1, 3), Close: 2},
		{Date: date(2020, 1, 6), Close: 3},
	}}

	if got := s.Tail(2).Len(); got != 2 {
		t.Errorf("Tail(2) length = %d, want 2", got)
	}
	if got := s.Tail(10).Len(); got != 3 {
		t.Errorf("Tail(10) length = %d, want 3", got)
	}
	if s.Tail(2).First().Close != 2 {
		t.Errorf("Tail(2) first = %v, want 2", s.Tail(2).First().Close)
	}
}

func TestPortfolioIsValid(t *testing.T) {
	p := Portfolio{Name: "core", Tickers: []string{"SPY"}, Weights: Weights{"SPY": 100}}
	if !p.IsValid() {
		t.Error("expected valid portfolio")
	}

	empty := Portfolio{Name: "empty"}
	if empty.IsValid() {
		t.Error("expected portfolio with no tickers to be invalid")
	}

	zero := Portfolio{Name: "zero", Tickers: []string{"SPY"}, Weights: Weights{"SPY": 0}}
	if zero.IsValid() {
		t.Error("expected zero-weight portfolio to be invalid")
	}
}
