package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quantfolio/internal/store"
)

// CheckFunc runs all subscribed strategy checks and returns the alerts that
// crossed their thresholds.
type CheckFunc func(ctx context.Context) ([]Alert, error)

// pollInterval is how often the scheduler re-evaluates whether a check is
// due. Due-ness is decided against persisted state, so restarts neither
// repeat nor skip a day's check.
const pollInterval = time.Minute

// Scheduler runs periodic strategy checks at a configured local time and
// delivers the resulting alerts.
type Scheduler struct {
	state    store.SchedulerStore
	notifier Notifier
	check    CheckFunc

	frequency string // "daily" or "weekly"
	checkTime string // "15:04"
	log       *slog.Logger
}

// NewScheduler creates a scheduler. frequency is "daily" or "weekly" (weekly
// checks run on Mondays); checkTime is a "15:04" wall-clock time.
func NewScheduler(state store.SchedulerStore, notifier Notifier, check CheckFunc, frequency, checkTime string) (*Scheduler, error) {
	if frequency != "daily" && frequency != "weekly" {
		return nil, fmt.Errorf("unknown check frequency %q", frequency)
	}
	if _, err := time.Parse("15:04", checkTime); err != nil {
		return nil, fmt.Errorf("invalid check time %q: %w", checkTime, err)
	}
	return &Scheduler{
		state:     state,
		notifier:  notifier,
		check:     check,
		frequency: frequency,
		checkTime: checkTime,
		log:       slog.Default().With("component", "scheduler"),
	}, nil
}

// Start runs the scheduler loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	s.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick runs one due-ness evaluation and, when due, the checks.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	last, err := s.state.LastRun(ctx, s.stateKey())
	if err != nil {
		s.log.Error("reading scheduler state", "err", err)
		return
	}
	if !s.due(now, last) {
		return
	}
	if err := s.RunOnce(ctx); err != nil {
		s.log.Error("scheduled check failed", "err", err)
		return
	}
	if err := s.state.SetLastRun(ctx, s.stateKey(), now); err != nil {
		s.log.Error("persisting scheduler state", "err", err)
	}
}

// RunOnce executes the checks immediately and delivers any alerts.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	alerts, err := s.check(ctx)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		if err := s.notifier.Notify(ctx, a); err != nil {
			s.log.Error("delivering alert", "strategy", a.StrategyName, "err", err)
		}
	}
	s.log.Info("check completed", "alerts", len(alerts))
	return nil
}

// due reports whether a check should run now given the last completion.
func (s *Scheduler) due(now, last time.Time) bool {
	if s.frequency == "weekly" && now.Weekday() != time.Monday {
		return false
	}
	at, _ := time.Parse("15:04", s.checkTime)
	scheduled := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	return !now.Before(scheduled) && last.Before(scheduled)
}

func (s *Scheduler) stateKey() string {
	return "notify:" + s.frequency
}
