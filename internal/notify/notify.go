// Package notify detects allocation changes proposed by stored strategies
// and delivers alerts on a schedule. Delivery is behind the Notifier
// interface; the default implementation writes structured log lines.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quantfolio/internal/domain"
)

// Alert describes one detected allocation change for a strategy.
type Alert struct {
	StrategyName   string
	AsOf           time.Time
	CurrentWeights domain.Weights
	TargetWeights  domain.Weights
	MaxDeltaPct    float64
	Signals        []string
}

// Notifier delivers alerts. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Compile-time interface check.
var _ Notifier = (*LogNotifier)(nil)

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier backed by the default logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With("component", "notify")}
}

// Notify logs the alert.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.log.Info("allocation change detected",
		"strategy", alert.StrategyName,
		"as_of", alert.AsOf.Format("2006-01-02"),
		"max_delta_pct", fmt.Sprintf("%.2f", alert.MaxDeltaPct),
		"current", alert.CurrentWeights,
		"target", alert.TargetWeights,
		"signals", alert.Signals,
	)
	return nil
}

// ChangeDetector decides whether a proposed reallocation is large enough to
// alert on.
type ChangeDetector struct {
	ThresholdPct float64 // minimum per-ticker weight change, in points
}

// Detect compares current and target weights. It returns the largest
// per-ticker delta and whether it meets the threshold.
func (d ChangeDetector) Detect(current, target domain.Weights) (float64, bool) {
	delta := current.MaxDelta(target)
	return delta, delta >= d.ThresholdPct
}
