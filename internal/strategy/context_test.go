package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantfolio/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testPrices(days int) map[string]domain.PriceSeries {
	out := make(map[string]domain.PriceSeries)
	for _, t := range []string{"AAA", "BBB"} {
		s := domain.PriceSeries{Ticker: t}
		for i := 0; i < days; i++ {
			s.Points = append(s.Points, domain.PricePoint{
				Date:  day(2024, 1, 1).AddDate(0, 0, i),
				Close: 100 + float64(i),
			})
		}
		out[t] = s
	}
	return out
}

func newTestContext(t *testing.T, asOfDays int) *Context {
	t.Helper()
	return NewContext(day(2024, 1, 1).AddDate(0, 0, asOfDays), []string{"AAA", "BBB"}, testPrices(120), domain.Weights{"AAA": 50, "BBB": 50}, 60)
}

func TestSetTargetWeightsNormalizes(t *testing.T) {
	c := newTestContext(t, 100)
	c.SetTargetWeights(domain.Weights{"AAA": 3, "BBB": 1}, true)

	w, ok := c.TargetWeights()
	require.True(t, ok)
	assert.InDelta(t, 100, w.Sum(), 1e-9)
	assert.InDelta(t, 75, w["AAA"], 1e-9)
	assert.InDelta(t, 25, w["BBB"], 1e-9)
}

func TestSetTargetWeightsDropsUnknownTickers(t *testing.T) {
	c := newTestContext(t, 100)
	c.SetTargetWeights(domain.Weights{"AAA": 50, "EVIL": 50}, true)

	w, ok := c.TargetWeights()
	require.True(t, ok)
	assert.NotContains(t, w, "EVIL")
	assert.InDelta(t, 100, w["AAA"], 1e-9)
	assert.NotEmpty(t, c.Signals())
}

func TestSetTargetWeightsClampsNegatives(t *testing.T) {
	c := newTestContext(t, 100)
	c.SetTargetWeights(domain.Weights{"AAA": -20, "BBB": 80}, true)

	w, ok := c.TargetWeights()
	require.True(t, ok)
	assert.Zero(t, w["AAA"])
	assert.InDelta(t, 100, w["BBB"], 1e-9)
}

func TestZeroSumWeightsKeepPrior(t *testing.T) {
	c := newTestContext(t, 100)
	c.SetTargetWeights(domain.Weights{"AAA": 0, "BBB": 0}, true)

	_, ok := c.TargetWeights()
	assert.False(t, ok)
	assert.NotEmpty(t, c.Signals())
}

func TestClosesBoundedByDateAndLookback(t *testing.T) {
	c := newTestContext(t, 100)
	closes := c.Closes("AAA")
	require.Len(t, closes, 60) // lookback window
	// The newest visible close is the one at the invocation date.
	assert.Equal(t, 200.0, closes[len(closes)-1])

	// Unknown ticker yields no data, not an error.
	assert.Empty(t, c.Closes("NOPE"))
}

func TestClosesCachedPerInvocation(t *testing.T) {
	prices := testPrices(50)
	c := NewContext(day(2024, 2, 1), []string{"AAA"}, prices, nil, 30)

	first := c.Closes("AAA")
	require.NotEmpty(t, first)
	// Mutating the source series after the first read must not change what
	// the script sees.
	prices["AAA"].Points[20].Close = 9999
	second := c.Closes("AAA")
	assert.Equal(t, first, second)
}

func TestVIXAccessor(t *testing.T) {
	c := newTestContext(t, 100)
	assert.Zero(t, c.VIX())

	c.SetVIX(domain.PriceSeries{Ticker: "VIX", Points: []domain.PricePoint{
		{Date: day(2024, 1, 2), Close: 14},
		{Date: day(2024, 3, 1), Close: 22},
		{Date: day(2024, 6, 1), Close: 30}, // after the invocation date
	}})
	assert.Equal(t, 22.0, c.VIX())
}

func TestDeniedNames(t *testing.T) {
	for _, name := range []string{"__class__", "__globals__", "_anything", "eval", "open"} {
		assert.True(t, denied(name), name)
	}
	for _, name := range []string{"sma", "tickers", "set_target_weights"} {
		assert.False(t, denied(name), name)
	}
}
