// Package strategy executes untrusted, user-authored allocation scripts in a
// restricted sandbox. Scripts see a single capability object giving read
// access to price history and indicators plus a write-once target-weight
// setter; they have no import mechanism and no reach into the host.
package strategy

import (
	"fmt"
	"log/slog"
	"time"

	"quantfolio/internal/domain"
	"quantfolio/internal/indicators"
)

// DefaultLookbackDays bounds how much history a script can see.
const DefaultLookbackDays = 252

// Context is the capability object handed to one script invocation. It is
// built fresh per rebalance date, owns an immutable snapshot of prices and
// weights, and is never shared between invocations, so a leaked worker can
// never touch live simulation state.
type Context struct {
	date     time.Time
	tickers  []string
	prices   map[string]domain.PriceSeries
	vix      domain.PriceSeries
	current  domain.Weights
	lookback int

	target    domain.Weights
	hasTarget bool
	signals   []string
	violation string

	closeCache map[string][]float64
	log        *slog.Logger
}

// NewContext builds an invocation snapshot. prices should include lookback
// history before date; only observations at or before date are visible to
// the script.
func NewContext(date time.Time, tickers []string, prices map[string]domain.PriceSeries, current domain.Weights, lookback int) *Context {
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	return &Context{
		date:       domain.Day(date),
		tickers:    append([]string(nil), tickers...),
		prices:     prices,
		current:    current.Copy(),
		lookback:   lookback,
		closeCache: make(map[string][]float64),
		log:        slog.Default().With("component", "strategy"),
	}
}

// SetVIX attaches a volatility-index series for the vix() accessor.
func (c *Context) SetVIX(series domain.PriceSeries) { c.vix = series }

// Date returns the simulation date of this invocation.
func (c *Context) Date() time.Time { return c.date }

// Tickers returns the tradable tickers, in the order supplied.
func (c *Context) Tickers() []string { return append([]string(nil), c.tickers...) }

// CurrentWeights returns a copy of the drifted weights at the invocation
// date.
func (c *Context) CurrentWeights() domain.Weights { return c.current.Copy() }

// Closes returns the close prices for a ticker up to the invocation date,
// bounded by the lookback window. Results are cached so repeated reads in
// one invocation see an identical snapshot.
func (c *Context) Closes(ticker string) []float64 {
	if cached, ok := c.closeCache[ticker]; ok {
		return cached
	}
	series, ok := c.prices[ticker]
	if !ok {
		c.closeCache[ticker] = nil
		return nil
	}
	closes := series.Slice(time.Time{}, c.date).Tail(c.lookback).Closes()
	c.closeCache[ticker] = closes
	return closes
}

// Returns is the daily simple return series for a ticker.
func (c *Context) Returns(ticker string) []float64 {
	return indicators.Returns(c.Closes(ticker))
}

// VIX returns the latest volatility-index level at or before the invocation
// date, or 0 when no index series is attached.
func (c *Context) VIX() float64 {
	if c.vix.Empty() {
		return 0
	}
	sub := c.vix.Slice(time.Time{}, c.date)
	if sub.Empty() {
		return 0
	}
	return sub.Last().Close
}

// SetTargetWeights records the script's allocation decision. Unknown tickers
// are dropped with a log line and negative weights clamp to zero. With
// normalize true the result is rescaled to sum to 100; a vector summing to
// zero keeps the prior weights unchanged and logs a warning instead.
func (c *Context) SetTargetWeights(weights domain.Weights, normalize bool) {
	known := make(map[string]struct{}, len(c.tickers))
	for _, t := range c.tickers {
		known[t] = struct{}{}
	}

	clean := make(domain.Weights, len(weights))
	for t, w := range weights {
		if _, ok := known[t]; !ok {
			c.Log(fmt.Sprintf("dropping unknown ticker %q from target weights", t))
			continue
		}
		if w < 0 {
			w = 0
		}
		clean[t] = w
	}

	if clean.Sum() == 0 {
		c.Log("target weights sum to zero, keeping prior weights")
		c.log.Warn("zero-sum target weights ignored", "date", c.date.Format("2006-01-02"))
		return
	}
	if normalize {
		clean = clean.Normalize(100)
	}
	c.target = clean
	c.hasTarget = true
}

// TargetWeights returns the weights the script set, if any.
func (c *Context) TargetWeights() (domain.Weights, bool) {
	if !c.hasTarget {
		return nil, false
	}
	return c.target.Copy(), true
}

// Log appends a signal line to the invocation's in-memory list. It has no
// other side effect.
func (c *Context) Log(msg string) {
	c.signals = append(c.signals, msg)
}

// Signals returns the log lines the script emitted, in order.
func (c *Context) Signals() []string { return append([]string(nil), c.signals...) }

// Violation returns the denied capability name when the script attempted a
// disallowed access, or empty.
func (c *Context) Violation() string { return c.violation }
