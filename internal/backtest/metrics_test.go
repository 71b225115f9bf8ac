package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quantfolio/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func valueSeries(start time.Time, values ...float64) []ValuePoint {
	out := make([]ValuePoint, len(values))
	for i, v := range values {
		out[i] = ValuePoint{Date: start.AddDate(0, 0, i), Value: v}
	}
	return out
}

func TestTotalReturn(t *testing.T) {
	vs := valueSeries(day(2024, 1, 1), 100, 110, 120)
	assert.InDelta(t, 0.2, TotalReturn(vs), 1e-12)

	assert.Zero(t, TotalReturn(nil))
	assert.Zero(t, TotalReturn(vs[:1]))
}

func TestCAGROneYearDouble(t *testing.T) {
	vs := []ValuePoint{
		{Date: day(2023, 1, 1), Value: 100},
		{Date: day(2024, 1, 1), Value: 200},
	}
	// Exactly 365 days; the 365.25-day year pulls the rate a hair under 2x.
	want := math.Pow(2, 365.25/365) - 1
	assert.InDelta(t, want, CAGR(vs), 1e-9)
}

func TestCAGRFlatSeriesIsZero(t *testing.T) {
	vs := valueSeries(day(2020, 1, 1), 100, 100, 100, 100)
	assert.Zero(t, CAGR(vs))
}

func TestMaxDrawdown(t *testing.T) {
	vs := valueSeries(day(2024, 1, 1), 100, 120, 90, 110, 130)
	dd, days := MaxDrawdown(vs)
	assert.InDelta(t, 90.0/120.0-1, dd, 1e-12)
	assert.Equal(t, 2, days) // peak on day 2, still below peak on day 4

	flat := valueSeries(day(2024, 1, 1), 100, 100, 100)
	dd, days = MaxDrawdown(flat)
	assert.Zero(t, dd)
	assert.Zero(t, days)
}

func TestDrawdownSeriesNonPositive(t *testing.T) {
	vs := valueSeries(day(2024, 1, 1), 100, 80, 120, 110)
	dds := DrawdownSeries(vs)
	assert.Len(t, dds, 4)
	assert.Zero(t, dds[0].Value)
	assert.InDelta(t, -0.2, dds[1].Value, 1e-12)
	assert.Zero(t, dds[2].Value)
	for _, d := range dds {
		assert.LessOrEqual(t, d.Value, 0.0)
	}
}

func TestSharpeZeroVariance(t *testing.T) {
	assert.Zero(t, Sharpe([]float64{0.01, 0.01, 0.01}, 0.03))
	assert.Zero(t, Sharpe(nil, 0.03))
}

func TestSortinoNoDownside(t *testing.T) {
	assert.Zero(t, Sortino([]float64{0.01, 0.02, 0.005}, 0))
}

func TestSortinoNegativeForLosingSeries(t *testing.T) {
	s := Sortino([]float64{-0.01, -0.02, 0.005, -0.015}, 0)
	assert.Less(t, s, 0.0)
}

func TestBenchmarkStatsSelfBenchmark(t *testing.T) {
	vs := valueSeries(day(2024, 1, 1), 100, 102, 101, 105, 104, 108)
	alpha, beta, ir := BenchmarkStats(vs, vs, 0)
	assert.InDelta(t, 1.0, beta, 1e-9)
	assert.InDelta(t, 0.0, alpha, 1e-9)
	assert.Zero(t, ir) // tracking diff has zero stdev
}

func TestBenchmarkStatsAlignsByDate(t *testing.T) {
	vs := valueSeries(day(2024, 1, 1), 100, 102, 104, 106)
	bench := []ValuePoint{
		{Date: day(2024, 1, 2), Value: 50},
		{Date: day(2024, 1, 3), Value: 51},
		{Date: day(2024, 1, 4), Value: 52},
		{Date: day(2024, 1, 9), Value: 55}, // outside shared dates
	}
	_, beta, _ := BenchmarkStats(vs, bench, 0)
	assert.NotZero(t, beta)
}

func TestTradeStats(t *testing.T) {
	trades := []domain.Trade{
		{Action: domain.ActionSell, PnL: 100, Cost: 1},
		{Action: domain.ActionSell, PnL: -50, Cost: 1},
		{Action: domain.ActionSell, PnL: 200, Cost: 1},
		{Action: domain.ActionBuy, Cost: 2}, // untagged
	}
	m := Compute(nil, trades, nil, 0)
	assert.Equal(t, 4, m.TradeCount)
	assert.InDelta(t, 5, m.TotalCosts, 1e-12)
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-12)
	assert.InDelta(t, 150, m.AvgWin, 1e-12)
	assert.InDelta(t, -50, m.AvgLoss, 1e-12)
	assert.InDelta(t, 6, m.ProfitFactor, 1e-12)
}

func TestComputeShortSeriesNeverFails(t *testing.T) {
	m := Compute([]ValuePoint{{Date: day(2024, 1, 1), Value: 100}}, nil, nil, 0.03)
	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.MaxDrawdown)
}
