// Package backtest implements the deterministic portfolio simulation: the
// transaction cost model, performance metrics, data coverage validation,
// the rebalance schedule, and the day-by-day simulation engine.
package backtest

import (
	"fmt"
	"math"
)

// CostConfig holds the transaction cost parameters for a run. Percentage
// parameters are fractions, not percent: 0.001 means 0.1%.
type CostConfig struct {
	CommissionFixed float64 // flat fee per trade
	CommissionPct   float64 // fraction of trade value, in [0, 0.1]
	SlippagePct     float64 // base slippage fraction, in [0, 0.1]
	MinTradeValue   float64 // trades below this absolute value incur no cost
}

// Validate fails fast on out-of-range cost parameters.
func (c CostConfig) Validate() error {
	if c.CommissionFixed < 0 {
		return fmt.Errorf("commission_fixed must be >= 0, got %v", c.CommissionFixed)
	}
	if c.CommissionPct < 0 || c.CommissionPct > 0.1 {
		return fmt.Errorf("commission_pct must be in [0, 0.1], got %v", c.CommissionPct)
	}
	if c.SlippagePct < 0 || c.SlippagePct > 0.1 {
		return fmt.Errorf("slippage_pct must be in [0, 0.1], got %v", c.SlippagePct)
	}
	return nil
}

// CostModel prices simulated trades: commission, slippage, and the adverse
// execution price. All methods are pure.
type CostModel struct {
	cfg CostConfig
}

// NewCostModel constructs a CostModel, validating the config.
func NewCostModel(cfg CostConfig) (*CostModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CostModel{cfg: cfg}, nil
}

// Commission returns the commission for a trade of the given absolute value.
// Trades under the minimum trade value are free.
func (m *CostModel) Commission(tradeValue float64) float64 {
	v := math.Abs(tradeValue)
	if v < m.cfg.MinTradeValue {
		return 0
	}
	return m.cfg.CommissionFixed + m.cfg.CommissionPct*v
}

// Slippage returns the slippage cost for a trade. volatility is the
// annualized volatility of the asset, or a negative value when unknown;
// higher volatility scales slippage up, capped at twice the base rate.
func (m *CostModel) Slippage(tradeValue, volatility float64) float64 {
	v := math.Abs(tradeValue)
	if v < m.cfg.MinTradeValue {
		return 0
	}
	return m.cfg.SlippagePct * v * volMultiplier(volatility)
}

// TotalCost returns commission plus slippage for one trade.
func (m *CostModel) TotalCost(tradeValue, volatility float64) float64 {
	return m.Commission(tradeValue) + m.Slippage(tradeValue, volatility)
}

// ExecutionPrice returns the simulated fill price. Buys execute above the
// quote and sells below it, so the bias is always against the portfolio.
func (m *CostModel) ExecutionPrice(price float64, isBuy bool, volatility float64) float64 {
	slip := m.cfg.SlippagePct * volMultiplier(volatility)
	if isBuy {
		return price * (1 + slip)
	}
	return price * (1 - slip)
}

// volMultiplier scales slippage with volatility: 1 + vol/0.2, capped at 2.
// A negative volatility means unknown and leaves slippage at the base rate.
func volMultiplier(volatility float64) float64 {
	if volatility < 0 {
		return 1.0
	}
	return math.Min(2.0, 1+volatility/0.2)
}
