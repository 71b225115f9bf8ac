package strategy

import (
	"context"
	"fmt"
	"time"

	"quantfolio/internal/backtest"
	"quantfolio/internal/domain"
)

// Runner turns stored strategy scripts into rebalance decisions, both for
// backtest runs and for one-off live checks.
type Runner struct {
	exec     *Executor
	lookback int
	vix      domain.PriceSeries
}

// NewRunner creates a runner. lookback bounds the history each invocation
// sees; non-positive selects the default window.
func NewRunner(exec *Executor, lookback int) *Runner {
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	return &Runner{exec: exec, lookback: lookback}
}

// SetVIX attaches a volatility-index series passed into every invocation.
func (r *Runner) SetVIX(series domain.PriceSeries) { r.vix = series }

// WeightFunc adapts a script source into the engine's rebalance callback.
// Each invocation gets a fresh context snapshot; any sandbox failure is
// surfaced as an error so the engine keeps the prior weights.
func (r *Runner) WeightFunc(source string, tickers []string) backtest.WeightFunc {
	return func(ctx context.Context, date time.Time, current domain.Weights, prices map[string]domain.PriceSeries) (domain.Weights, []string, error) {
		sctx := NewContext(date, tickers, prices, current, r.lookback)
		sctx.SetVIX(r.vix)

		out := r.exec.Execute(ctx, source, sctx)
		if out.Failed() {
			return nil, out.Signals, fmt.Errorf("strategy %s: %w", out.Status, out.Err)
		}
		if !out.HasWeights {
			return nil, out.Signals, nil
		}
		return out.Weights, out.Signals, nil
	}
}

// CheckResult is the outcome of a single live invocation of a stored
// strategy, consumed by the notification layer.
type CheckResult struct {
	StrategyName   string
	AsOf           time.Time
	CurrentWeights domain.Weights
	TargetWeights  domain.Weights
	HasTarget      bool
	Signals        []string
	Outcome        Outcome
}

// Check runs a stored strategy once against the latest data and reports the
// target weights it would set now. Sandbox failures are reported in the
// outcome, never raised.
func (r *Runner) Check(ctx context.Context, rec domain.StrategyRecord, tickers []string, prices map[string]domain.PriceSeries, current domain.Weights, asOf time.Time) CheckResult {
	sctx := NewContext(asOf, tickers, prices, current, r.lookback)
	sctx.SetVIX(r.vix)

	out := r.exec.Execute(ctx, rec.Code, sctx)
	return CheckResult{
		StrategyName:   rec.Name,
		AsOf:           domain.Day(asOf),
		CurrentWeights: current.Copy(),
		TargetWeights:  out.Weights,
		HasTarget:      out.HasWeights,
		Signals:        out.Signals,
		Outcome:        out,
	}
}
