package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMAAlignsToInput(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	out := SMA(values, 3)

	require.Len(t, out, len(values))
	// Last value is the mean of the final window.
	assert.InDelta(t, 5.0, out[len(out)-1], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9) // mean(2,3,4)
}

func TestEMAConstantSeries(t *testing.T) {
	values := []float64{10, 10, 10, 10, 10, 10, 10, 10}
	out := EMA(values, 4)

	require.Len(t, out, len(values))
	for i, v := range out {
		assert.InDeltaf(t, 10.0, v, 1e-9, "index %d", i)
	}
}

func TestRSIBounds(t *testing.T) {
	// Strictly rising prices push RSI to the top of its range.
	values := make([]float64, 40)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	out := RSI(values, 14)

	require.Len(t, out, len(values))
	last := out[len(out)-1]
	assert.Greater(t, last, 70.0)
	assert.LessOrEqual(t, last, 100.0)
	// Warm-up is padded with the neutral value.
	assert.Equal(t, 50.0, out[0])
}

func TestMACDHistogramIsLineMinusSignal(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + 10*math.Sin(float64(i)/5)
	}
	macdLine, signalLine, histogram := MACD(values, 12, 26, 9)

	require.Len(t, macdLine, len(values))
	require.Len(t, signalLine, len(values))
	require.Len(t, histogram, len(values))
	for i := range values {
		assert.InDelta(t, macdLine[i]-signalLine[i], histogram[i], 1e-9)
	}
}

func TestBollingerOrdering(t *testing.T) {
	values := []float64{100, 101, 99, 102, 98, 103, 97, 104, 96, 105}
	upper, middle, lower := Bollinger(values, 5, 2)

	require.Len(t, upper, len(values))
	for i := range values {
		assert.GreaterOrEqual(t, upper[i], middle[i])
		assert.LessOrEqual(t, lower[i], middle[i])
	}
}

func TestVolatilityFlatSeriesIsZero(t *testing.T) {
	values := []float64{50, 50, 50, 50, 50, 50}
	out := Volatility(values, 3, true)

	require.Len(t, out, len(values))
	for _, v := range out {
		assert.Equal(t, 0.0, v)
	}
}

func TestMomentum(t *testing.T) {
	values := []float64{100, 100, 100, 110}
	out := Momentum(values, 3)

	require.Len(t, out, len(values))
	assert.Equal(t, 0.0, out[2]) // inside warm-up
	assert.InDelta(t, 10.0, out[3], 1e-9)
}

func TestDrawdown(t *testing.T) {
	values := []float64{100, 120, 90, 110, 130}
	peak, ddPct := Drawdown(values)

	assert.Equal(t, []float64{100, 120, 120, 120, 130}, peak)
	assert.InDelta(t, -25.0, ddPct[2], 1e-9)
	assert.Equal(t, 0.0, ddPct[4])
}

func TestCrossoverAndCrossunder(t *testing.T) {
	a := []float64{1, 1, 3, 3, 1}
	b := []float64{2, 2, 2, 2, 2}

	up := Crossover(a, b)
	down := Crossunder(a, b)

	assert.Equal(t, []bool{false, false, true, false, false}, up)
	assert.Equal(t, []bool{false, false, false, false, true}, down)
}

func TestReturns(t *testing.T) {
	values := []float64{100, 110, 99}
	out := Returns(values)

	require.Len(t, out, 3)
	assert.Equal(t, 0.0, out[0])
	assert.InDelta(t, 0.10, out[1], 1e-9)
	assert.InDelta(t, -0.10, out[2], 1e-9)
}
