// Package indicators provides deterministic, side-effect-free technical
// indicator functions over daily close series. Computation is delegated to
// github.com/cinar/indicator where it offers the primitive; outputs are
// length-aligned to the input by padding the warm-up window so callers can
// index series from the tail without offset bookkeeping.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
)

// TradingDaysPerYear is the annualization base for volatility.
const TradingDaysPerYear = 252

// alignLeft pads out on the left to length n using fill, so a shortened
// indicator output lines up date-for-date with its input series.
func alignLeft(out []float64, n int, fill float64) []float64 {
	if len(out) >= n {
		return out[len(out)-n:]
	}
	padded := make([]float64, n)
	pad := fill
	if len(out) > 0 && math.IsNaN(fill) {
		pad = out[0]
	}
	for i := 0; i < n-len(out); i++ {
		padded[i] = pad
	}
	copy(padded[n-len(out):], out)
	return padded
}

// firstValue is a sentinel passed to alignLeft meaning "pad with the first
// computed value".
var firstValue = math.NaN()

// SMA returns the simple moving average of values with the given period.
func SMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	out := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
	return alignLeft(out, len(values), firstValue)
}

// EMA returns the exponential moving average of values with the given period.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(values)))
	return alignLeft(out, len(values), firstValue)
}

// RSI returns the relative strength index (0-100). The warm-up window is
// padded with the neutral value 50.
func RSI(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(values)))
	return alignLeft(out, len(values), 50)
}

// MACD returns the MACD line, signal line, and histogram.
func MACD(values []float64, fast, slow, signal int) (macdLine, signalLine, histogram []float64) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	macd := trend.NewMacdWithPeriod[float64](fast, slow, signal)
	macdCh, signalCh := macd.Compute(helper.SliceToChan(values))
	// The two channels are fed by one shared pipeline, so they must be
	// drained concurrently or the producer deadlocks.
	done := make(chan []float64, 1)
	go func() { done <- helper.ChanToSlice(signalCh) }()
	m := helper.ChanToSlice(macdCh)
	s := <-done

	macdLine = alignLeft(m, len(values), 0)
	signalLine = alignLeft(s, len(values), 0)
	histogram = make([]float64, len(values))
	for i := range histogram {
		histogram[i] = macdLine[i] - signalLine[i]
	}
	return macdLine, signalLine, histogram
}

// Bollinger returns the upper, middle, and lower Bollinger bands using a
// simple moving average and stdDev standard deviations.
func Bollinger(values []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	if len(values) == 0 || period <= 0 {
		return nil, nil, nil
	}
	middle = SMA(values, period)

	upper = make([]float64, len(values))
	lower = make([]float64, len(values))
	for i := range values {
		lo := i - period + 1
		if lo < 0 {
			lo = 0
		}
		sd := stddev(values[lo:i+1], middle[i])
		upper[i] = middle[i] + stdDev*sd
		lower[i] = middle[i] - stdDev*sd
	}
	return upper, middle, lower
}

// ATRFromClose approximates the average true range from close prices only:
// an EMA of absolute daily returns scaled back to price units.
func ATRFromClose(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	rets := Returns(values)
	absRets := make([]float64, len(rets))
	for i, r := range rets {
		absRets[i] = math.Abs(r)
	}

	smoothed := EMA(absRets, period)
	out := make([]float64, len(values))
	for i := range values {
		out[i] = smoothed[i] * values[i]
	}
	return out
}

// Volatility returns the rolling standard deviation of daily returns over
// the given window, optionally annualized by sqrt(252).
func Volatility(values []float64, period int, annualize bool) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	rets := Returns(values)

	out := make([]float64, len(values))
	for i := range rets {
		lo := i - period + 1
		if lo < 0 {
			lo = 0
		}
		window := rets[lo : i+1]
		out[i] = sampleStddev(window)
		if annualize {
			out[i] *= math.Sqrt(TradingDaysPerYear)
		}
	}
	return out
}

// Momentum returns the percentage rate of change over period days.
func Momentum(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	for i := range values {
		if i < period || values[i-period] == 0 {
			out[i] = 0
			continue
		}
		out[i] = (values[i]/values[i-period] - 1) * 100
	}
	return out
}

// Drawdown returns the running peak and the percentage decline from it.
func Drawdown(values []float64) (peak, drawdownPct []float64) {
	peak = make([]float64, len(values))
	drawdownPct = make([]float64, len(values))

	var runningMax float64
	for i, v := range values {
		if i == 0 || v > runningMax {
			runningMax = v
		}
		peak[i] = runningMax
		if runningMax != 0 {
			drawdownPct[i] = (v/runningMax - 1) * 100
		}
	}
	return peak, drawdownPct
}

// Returns computes daily percentage changes; the first element is 0.
func Returns(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			out[i] = 0
			continue
		}
		out[i] = values[i]/values[i-1] - 1
	}
	return out
}

// Crossover reports, per position, whether a crossed above b at that point.
func Crossover(a, b []float64) []bool {
	n := min(len(a), len(b))
	out := make([]bool, n)
	for i := 1; i < n; i++ {
		out[i] = a[i-1] <= b[i-1] && a[i] > b[i]
	}
	return out
}

// Crossunder reports, per position, whether a crossed below b at that point.
func Crossunder(a, b []float64) []bool {
	n := min(len(a), len(b))
	out := make([]bool, n)
	for i := 1; i < n; i++ {
		out[i] = a[i-1] >= b[i-1] && a[i] < b[i]
	}
	return out
}

// stddev computes the population standard deviation of window around mean.
func stddev(window []float64, mean float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var variance float64
	for _, v := range window {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(window))
	return math.Sqrt(variance)
}

// sampleStddev computes the sample standard deviation of window.
func sampleStddev(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	var mean float64
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))

	var variance float64
	for _, v := range window {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(window) - 1)
	return math.Sqrt(variance)
}
