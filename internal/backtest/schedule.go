package backtest

import (
	"fmt"
	"time"
)

// RebalanceFrequency selects how often the strategy is invoked.
type RebalanceFrequency string

const (
	Daily     RebalanceFrequency = "daily"
	Weekly    RebalanceFrequency = "weekly"
	Monthly   RebalanceFrequency = "monthly"
	Quarterly RebalanceFrequency = "quarterly"
)

// ParseFrequency converts a config string into a RebalanceFrequency.
func ParseFrequency(s string) (RebalanceFrequency, error) {
	switch RebalanceFrequency(s) {
	case Daily, Weekly, Monthly, Quarterly:
		return RebalanceFrequency(s), nil
	}
	return "", fmt.Errorf("unknown rebalance frequency %q", s)
}

// RebalanceSchedule derives the rebalance dates from the trading-date index.
// Daily rebalances on every trading day; the other frequencies rebalance on
// the first trading day of each calendar period, so holiday gaps never
// produce a phantom date.
func RebalanceSchedule(tradingDates []time.Time, freq RebalanceFrequency) []time.Time {
	if len(tradingDates) == 0 {
		return nil
	}
	if freq == Daily {
		out := make([]time.Time, len(tradingDates))
		copy(out, tradingDates)
		return out
	}

	var out []time.Time
	var prev time.Time
	for _, d := range tradingDates {
		if prev.IsZero() || !samePeriod(prev, d, freq) {
			out = append(out, d)
		}
		prev = d
	}
	return out
}

// samePeriod reports whether two dates fall in the same calendar period for
// the given frequency.
func samePeriod(a, b time.Time, freq RebalanceFrequency) bool {
	switch freq {
	case Weekly:
		ay, aw := a.ISOWeek()
		by, bw := b.ISOWeek()
		return ay == by && aw == bw
	case Monthly:
		return a.Year() == b.Year() && a.Month() == b.Month()
	case Quarterly:
		return a.Year() == b.Year() && quarter(a.Month()) == quarter(b.Month())
	}
	return false
}

func quarter(m time.Month) int {
	return (int(m) - 1) / 3
}
