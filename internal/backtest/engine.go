package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"quantfolio/internal/domain"
	"quantfolio/internal/marketdata"
)

// minRebalanceDeltaPct is the anti-churn floor: per-ticker weight changes
// under one percentage point are not traded.
const minRebalanceDeltaPct = 1.0

// Config are the immutable parameters of one backtest run.
type Config struct {
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Frequency      RebalanceFrequency
	Cost           CostConfig
	RiskFreeRate   float64
	LookbackDays   int // extra history fetched before Start for strategies
}

// Validate fails fast on unusable run parameters.
func (c Config) Validate() error {
	if !c.Start.Before(c.End) {
		return fmt.Errorf("start date %s must precede end date %s", c.Start.Format("2006-01-02"), c.End.Format("2006-01-02"))
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be > 0, got %v", c.InitialCapital)
	}
	if _, err := ParseFrequency(string(c.Frequency)); err != nil {
		return err
	}
	return c.Cost.Validate()
}

// WeightFunc decides target weights on a rebalance date. It receives the
// date, the drifted current weights, and the full price history fetched for
// the run (including lookback before the simulation start). It returns the
// target weights plus any log lines the decision emitted. A returned error
// marks the rebalance as failed; the engine keeps the prior weights.
type WeightFunc func(ctx context.Context, date time.Time, current domain.Weights, prices map[string]domain.PriceSeries) (domain.Weights, []string, error)

// WeightSnapshot is one row of the weight-history table: the marked-to-market
// allocation on a trading day, so drift between rebalances is visible.
type WeightSnapshot struct {
	Date    time.Time
	Weights domain.Weights
}

// Result is the terminal artifact of a run. It is never mutated after Run
// returns.
type Result struct {
	Success bool
	Message string

	Values     []ValuePoint
	Drawdowns  []ValuePoint
	Trades     []domain.Trade
	Weights    []WeightSnapshot
	Metrics    Metrics
	Validation ValidationResult

	Warnings []string
	Signals  []string
}

// Engine drives the day-by-day simulation. The loop is single-threaded and
// strictly sequential in trading-date order; given the same inputs a run is
// fully deterministic.
type Engine struct {
	provider marketdata.Provider
	costs    *CostModel
	cfg      Config
	log      *slog.Logger
}

// NewEngine constructs an engine for one configuration, validating it.
func NewEngine(provider marketdata.Provider, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	costs, err := NewCostModel(cfg.Cost)
	if err != nil {
		return nil, err
	}
	return &Engine{
		provider: provider,
		costs:    costs,
		cfg:      cfg,
		log:      slog.Default().With("component", "engine"),
	}, nil
}

// RunStatic backtests a fixed-weight portfolio as pure buy-and-hold: the
// initial weights are bought once and never traded again, so the allocation
// drifts with prices for the rest of the run.
func (e *Engine) RunStatic(ctx context.Context, weights domain.Weights) Result {
	return e.Run(ctx, weights, nil)
}

// Run executes the full simulation. decide may be nil, in which case the
// initial purchase is held for the whole run; otherwise it is invoked on
// every scheduled rebalance date, the first trading day included. Run never
// returns an error: fatal conditions produce a Result with Success false and
// a message.
func (e *Engine) Run(ctx context.Context, initialWeights domain.Weights, decide WeightFunc) Result {
	if initialWeights.Sum() <= 0 {
		return failed(ValidationResult{}, "initial weights are empty or sum to zero")
	}
	tickers := initialWeights.Tickers()

	fetchStart := e.cfg.Start.AddDate(0, 0, -max(e.cfg.LookbackDays, 0))
	prices, err := e.provider.FetchPrices(ctx, tickers, fetchStart, e.cfg.End)
	if err != nil {
		return failed(ValidationResult{}, fmt.Sprintf("price fetch failed: %v", err))
	}
	inceptions, err := e.provider.InceptionDates(ctx, tickers)
	if err != nil {
		return failed(ValidationResult{}, fmt.Sprintf("inception lookup failed: %v", err))
	}

	validation := ValidateCoverage(tickers, prices, inceptions, e.cfg.Start, e.cfg.End)
	if !validation.IsValid {
		return failed(validation, "no ticker has usable price data in the requested range")
	}

	usable := validation.UsableTickers()
	weights := restrictWeights(initialWeights, usable)
	if weights.Sum() <= 0 {
		return failed(validation, "all weighted tickers were excluded for missing data")
	}
	weights = weights.Normalize(100)

	dates := tradingDates(prices, usable, validation.EffectiveStart, validation.EffectiveEnd)
	if len(dates) == 0 {
		return failed(validation, "no trading dates in the effective range")
	}
	rebalances := dateSet(RebalanceSchedule(dates, e.cfg.Frequency))

	res := Result{Validation: validation, Warnings: validation.Warnings}

	// Position ledger. Cash is fully deployed on the initial purchase;
	// rebalances are near self-financing, leaving at most a small residual
	// from skipped sub-threshold deltas.
	shares := make(map[string]float64, len(usable))
	basis := make(map[string]float64, len(usable)) // average cost per share
	cash := e.cfg.InitialCapital

	first := dates[0]
	for _, t := range usable {
		w := weights[t]
		if w <= 0 {
			continue
		}
		price, ok := lastCloseOnOrBefore(prices[t], first)
		if !ok {
			continue
		}
		alloc := e.cfg.InitialCapital * w / 100
		exec := e.costs.ExecutionPrice(price, true, -1)
		qty := alloc / exec
		res.Trades = append(res.Trades, domain.Trade{
			Date:   first,
			Ticker: t,
			Action: domain.ActionBuy,
			Shares: qty,
			Price:  exec,
			Value:  alloc,
			Cost:   e.costs.TotalCost(alloc, -1),
		})
		shares[t] += qty
		basis[t] = exec
		cash -= alloc
	}
	for _, day := range dates {
		value, current := e.markToMarket(shares, cash, prices, day)
		res.Values = append(res.Values, ValuePoint{Date: day, Value: value})
		res.Weights = append(res.Weights, WeightSnapshot{Date: day, Weights: current})

		if !rebalances[day] || decide == nil {
			continue
		}

		target, signals, err := decide(ctx, day, current.Copy(), prices)
		res.Signals = append(res.Signals, signals...)
		if err != nil {
			msg := fmt.Sprintf("rebalance on %s failed, keeping prior weights: %v", day.Format("2006-01-02"), err)
			e.log.Warn("rebalance failed", "date", day.Format("2006-01-02"), "err", err)
			res.Warnings = append(res.Warnings, msg)
			continue
		}
		if target.Sum() <= 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("rebalance on %s returned no allocation, keeping prior weights", day.Format("2006-01-02")))
			continue
		}
		target = restrictWeights(target, usable)
		if target.Sum() <= 0 {
			// Every targeted ticker was excluded for missing data.
			res.Warnings = append(res.Warnings, fmt.Sprintf("rebalance on %s targeted only excluded tickers, keeping prior weights", day.Format("2006-01-02")))
			continue
		}
		target = target.Normalize(100)

		e.applyRebalance(&res, shares, basis, &cash, prices, day, value, current, target)

		// Re-mark after trading so the recorded value and weights reflect
		// the day's positions.
		value, current = e.markToMarket(shares, cash, prices, day)
		res.Values[len(res.Values)-1] = ValuePoint{Date: day, Value: value}
		res.Weights[len(res.Weights)-1] = WeightSnapshot{Date: day, Weights: current}
	}

	res.Drawdowns = DrawdownSeries(res.Values)
	res.Metrics = Compute(res.Values, res.Trades, nil, e.cfg.RiskFreeRate)
	res.Success = true
	res.Message = fmt.Sprintf("backtest completed: %d trading days, %d trades", len(dates), len(res.Trades))
	return res
}

// markToMarket values every position at the day's price and returns the
// total portfolio value plus the drifted weight vector derived from it.
func (e *Engine) markToMarket(shares map[string]float64, cash float64, prices map[string]domain.PriceSeries, day time.Time) (float64, domain.Weights) {
	total := cash
	values := make(map[string]float64, len(shares))
	for t, qty := range shares {
		if qty <= 0 {
			continue
		}
		price, ok := lastCloseOnOrBefore(prices[t], day)
		if !ok {
			continue
		}
		v := qty * price
		values[t] = v
		total += v
	}

	weights := make(domain.Weights, len(values))
	if total > 0 {
		for t, v := range values {
			weights[t] = v / total * 100
		}
	}
	return total, weights
}

// applyRebalance turns weight deltas into trades. Sells run before buys so
// they fund the purchases. Deltas under the anti-churn floor or below the
// minimum trade value are skipped, which can leave a small cash residual.
func (e *Engine) applyRebalance(res *Result, shares, basis map[string]float64, cash *float64, prices map[string]domain.PriceSeries, day time.Time, portfolioValue float64, current, target domain.Weights) {
	union := make(map[string]struct{}, len(current)+len(target))
	for t := range current {
		union[t] = struct{}{}
	}
	for t := range target {
		union[t] = struct{}{}
	}
	tickers := make([]string, 0, len(union))
	for t := range union {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	type order struct {
		ticker string
		value  float64 // signed: positive buys, negative sells
	}
	var sells, buys []order
	for _, t := range tickers {
		delta := target[t] - current[t]
		if delta > -minRebalanceDeltaPct && delta < minRebalanceDeltaPct {
			continue
		}
		value := delta / 100 * portfolioValue
		if math.Abs(value) < e.costs.cfg.MinTradeValue {
			continue
		}
		if value < 0 {
			sells = append(sells, order{t, value})
		} else {
			buys = append(buys, order{t, value})
		}
	}

	for _, o := range append(sells, buys...) {
		price, ok := lastCloseOnOrBefore(prices[o.ticker], day)
		if !ok {
			continue
		}
		if o.value < 0 {
			exec := e.costs.ExecutionPrice(price, false, -1)
			qty := -o.value / exec
			if qty > shares[o.ticker] {
				qty = shares[o.ticker]
			}
			if qty <= 0 {
				continue
			}
			value := qty * exec
			res.Trades = append(res.Trades, domain.Trade{
				Date:   day,
				Ticker: o.ticker,
				Action: domain.ActionSell,
				Shares: qty,
				Price:  exec,
				Value:  value,
				Cost:   e.costs.TotalCost(value, -1),
				PnL:    (exec - basis[o.ticker]) * qty,
			})
			shares[o.ticker] -= qty
			*cash += value
		} else {
			exec := e.costs.ExecutionPrice(price, true, -1)
			qty := o.value / exec
			held := shares[o.ticker]
			// Update the average cost basis across the combined position.
			if held+qty > 0 {
				basis[o.ticker] = (basis[o.ticker]*held + exec*qty) / (held + qty)
			}
			res.Trades = append(res.Trades, domain.Trade{
				Date:   day,
				Ticker: o.ticker,
				Action: domain.ActionBuy,
				Shares: qty,
				Price:  exec,
				Value:  o.value,
				Cost:   e.costs.TotalCost(o.value, -1),
			})
			shares[o.ticker] += qty
			*cash -= o.value
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func failed(validation ValidationResult, msg string) Result {
	return Result{
		Success:    false,
		Message:    msg,
		Validation: validation,
		Warnings:   validation.Warnings,
	}
}

// restrictWeights drops entries for tickers outside the keep list.
func restrictWeights(w domain.Weights, keep []string) domain.Weights {
	set := make(map[string]struct{}, len(keep))
	for _, t := range keep {
		set[t] = struct{}{}
	}
	out := make(domain.Weights, len(keep))
	for t, v := range w {
		if _, ok := set[t]; ok {
			out[t] = v
		}
	}
	return out
}

// tradingDates is the sorted union of observation dates across the usable
// tickers, bounded to [start, end].
func tradingDates(prices map[string]domain.PriceSeries, tickers []string, start, end time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, t := range tickers {
		for _, p := range prices[t].Points {
			if p.Date.Before(start) || p.Date.After(end) {
				continue
			}
			seen[p.Date] = struct{}{}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func dateSet(dates []time.Time) map[time.Time]bool {
	out := make(map[time.Time]bool, len(dates))
	for _, d := range dates {
		out[d] = true
	}
	return out
}

// lastCloseOnOrBefore forward-fills: it returns the most recent close at or
// before the given date.
func lastCloseOnOrBefore(s domain.PriceSeries, day time.Time) (float64, bool) {
	i := sort.Search(len(s.Points), func(i int) bool {
		return s.Points[i].Date.After(day)
	})
	if i == 0 {
		return 0, false
	}
	return s.Points[i-1].Close, true
}
