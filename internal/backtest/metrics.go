package backtest

import (
	"math"
	"time"

	"quantfolio/internal/domain"
)

// TradingDaysPerYear is the annualization factor for daily return series.
const TradingDaysPerYear = 252

// ValuePoint is one observation in a portfolio value series.
type ValuePoint struct {
	Date  time.Time
	Value float64
}

// Metrics is the full performance report over a value series. Fields that
// cannot be computed (too few points, zero variance) are left at zero.
type Metrics struct {
	TotalReturn     float64
	CAGR            float64
	Volatility      float64
	Sharpe          float64
	Sortino         float64
	Calmar          float64
	MaxDrawdown     float64
	MaxDrawdownDays int

	// Benchmark-relative, populated only when a benchmark is supplied.
	Alpha            float64
	Beta             float64
	InformationRatio float64

	// Trade statistics.
	TradeCount   int
	TotalCosts   float64
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64
	ProfitFactor float64
}

// Compute derives the full metrics report. values must be in chronological
// order; fewer than two points yields a zero report. benchmark may be nil.
func Compute(values []ValuePoint, trades []domain.Trade, benchmark []ValuePoint, riskFreeRate float64) Metrics {
	var m Metrics
	m.TradeCount = len(trades)
	for _, t := range trades {
		m.TotalCosts += t.Cost
	}
	fillTradeStats(&m, trades)

	if len(values) < 2 {
		return m
	}

	m.TotalReturn = TotalReturn(values)
	m.CAGR = CAGR(values)
	m.MaxDrawdown, m.MaxDrawdownDays = MaxDrawdown(values)

	returns := dailyReturns(values)
	m.Volatility = stdev(returns) * math.Sqrt(TradingDaysPerYear)
	m.Sharpe = Sharpe(returns, riskFreeRate)
	m.Sortino = Sortino(returns, riskFreeRate)
	if m.MaxDrawdown != 0 {
		m.Calmar = m.CAGR / math.Abs(m.MaxDrawdown)
	}

	if len(benchmark) >= 2 {
		m.Alpha, m.Beta, m.InformationRatio = BenchmarkStats(values, benchmark, riskFreeRate)
	}
	return m
}

// ---------------------------------------------------------------------------
// Return and drawdown
// ---------------------------------------------------------------------------

// TotalReturn is last/first - 1 over the series, or 0 when undefined.
func TotalReturn(values []ValuePoint) float64 {
	if len(values) < 2 || values[0].Value == 0 {
		return 0
	}
	return values[len(values)-1].Value/values[0].Value - 1
}

// CAGR is the compound annual growth rate, using 365.25-day years measured
// between the first and last dates.
func CAGR(values []ValuePoint) float64 {
	if len(values) < 2 || values[0].Value <= 0 {
		return 0
	}
	days := values[len(values)-1].Date.Sub(values[0].Date).Hours() / 24
	if days <= 0 {
		return 0
	}
	ratio := values[len(values)-1].Value / values[0].Value
	if ratio <= 0 {
		return 0
	}
	return math.Pow(ratio, 365.25/days) - 1
}

// MaxDrawdown returns the deepest peak-to-trough decline (a non-positive
// fraction) and the longest stretch in days spent below a running peak.
func MaxDrawdown(values []ValuePoint) (float64, int) {
	if len(values) < 2 {
		return 0, 0
	}

	var maxDD float64
	peak := values[0].Value
	peakDate := values[0].Date
	maxDays := 0
	for _, v := range values {
		if v.Value >= peak {
			peak = v.Value
			peakDate = v.Date
			continue
		}
		if peak > 0 {
			if dd := v.Value/peak - 1; dd < maxDD {
				maxDD = dd
			}
		}
		if d := int(v.Date.Sub(peakDate).Hours() / 24); d > maxDays {
			maxDays = d
		}
	}
	return maxDD, maxDays
}

// DrawdownSeries returns value/running_max - 1 for each point.
func DrawdownSeries(values []ValuePoint) []ValuePoint {
	out := make([]ValuePoint, len(values))
	var peak float64
	for i, v := range values {
		if v.Value > peak {
			peak = v.Value
		}
		dd := 0.0
		if peak > 0 {
			dd = v.Value/peak - 1
		}
		out[i] = ValuePoint{Date: v.Date, Value: dd}
	}
	return out
}

// ---------------------------------------------------------------------------
// Risk-adjusted ratios
// ---------------------------------------------------------------------------

// Sharpe is the annualized ratio of mean excess daily return to daily return
// stdev. Zero stdev yields 0.
func Sharpe(returns []float64, riskFreeRate float64) float64 {
	sd := stdev(returns)
	if sd == 0 {
		return 0
	}
	rfDaily := riskFreeRate / TradingDaysPerYear
	return (mean(returns) - rfDaily) / sd * math.Sqrt(TradingDaysPerYear)
}

// Sortino is like Sharpe but penalizes only downside: the denominator is the
// annualized stdev of negative daily returns. No negative returns yields 0.
func Sortino(returns []float64, riskFreeRate float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	dd := stdev(downside)
	if dd == 0 {
		return 0
	}
	rfDaily := riskFreeRate / TradingDaysPerYear
	return (mean(returns) - rfDaily) * TradingDaysPerYear / (dd * math.Sqrt(TradingDaysPerYear))
}

// BenchmarkStats returns Jensen's alpha (annualized), beta, and the
// information ratio of the portfolio against a benchmark. Series are aligned
// on common dates first; fewer than two shared dates yields zero stats with
// beta 1.
func BenchmarkStats(values, benchmark []ValuePoint, riskFreeRate float64) (alpha, beta, ir float64) {
	pv, bv := alignByDate(values, benchmark)
	if len(pv) < 2 {
		return 0, 1, 0
	}

	pr := dailyReturns(pv)
	br := dailyReturns(bv)

	beta = 1.0
	if v := variance(br); v > 0 {
		beta = covariance(pr, br) / v
	}

	rfDaily := riskFreeRate / TradingDaysPerYear
	alpha = (mean(pr) - rfDaily - beta*(mean(br)-rfDaily)) * TradingDaysPerYear

	diff := make([]float64, len(pr))
	for i := range pr {
		diff[i] = pr[i] - br[i]
	}
	if sd := stdev(diff); sd > 0 {
		ir = mean(diff) / sd * math.Sqrt(TradingDaysPerYear)
	}
	return alpha, beta, ir
}

// fillTradeStats computes win rate, average win/loss, and profit factor over
// trades that carry a realized P&L. Untagged trades contribute to the count
// only.
func fillTradeStats(m *Metrics, trades []domain.Trade) {
	var wins, losses []float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			wins = append(wins, t.PnL)
		case t.PnL < 0:
			losses = append(losses, t.PnL)
		}
	}
	tagged := len(wins) + len(losses)
	if tagged == 0 {
		return
	}

	m.WinRate = float64(len(wins)) / float64(tagged)
	m.AvgWin = mean(wins)
	m.AvgLoss = mean(losses)

	var grossWin, grossLoss float64
	for _, w := range wins {
		grossWin += w
	}
	for _, l := range losses {
		grossLoss += -l
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}
}

// ---------------------------------------------------------------------------
// Series helpers
// ---------------------------------------------------------------------------

// dailyReturns is the simple period-over-period return series.
func dailyReturns(values []ValuePoint) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1].Value == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, values[i].Value/values[i-1].Value-1)
	}
	return out
}

// alignByDate keeps only the dates present in both series, in order.
func alignByDate(a, b []ValuePoint) ([]ValuePoint, []ValuePoint) {
	bByDate := make(map[time.Time]float64, len(b))
	for _, v := range b {
		bByDate[domain.Day(v.Date)] = v.Value
	}

	var outA, outB []ValuePoint
	for _, v := range a {
		d := domain.Day(v.Date)
		bv, ok := bByDate[d]
		if !ok {
			continue
		}
		outA = append(outA, ValuePoint{Date: d, Value: v.Value})
		outB = append(outB, ValuePoint{Date: d, Value: bv})
	}
	return outA, outB
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdev is the sample standard deviation; fewer than two points yields 0.
func stdev(xs []float64) float64 {
	return math.Sqrt(variance(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return ss / float64(len(xs)-1)
}

func covariance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	ma, mb := mean(a[:n]), mean(b[:n])
	var ss float64
	for i := 0; i < n; i++ {
		ss += (a[i] - ma) * (b[i] - mb)
	}
	return ss / float64(n-1)
}
