package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantfolio/internal/domain"
)

func TestChangeDetector(t *testing.T) {
	d := ChangeDetector{ThresholdPct: 5}

	delta, changed := d.Detect(domain.Weights{"SPY": 60, "QQQ": 40}, domain.Weights{"SPY": 50, "QQQ": 50})
	assert.InDelta(t, 10, delta, 1e-9)
	assert.True(t, changed)

	delta, changed = d.Detect(domain.Weights{"SPY": 60, "QQQ": 40}, domain.Weights{"SPY": 58, "QQQ": 42})
	assert.InDelta(t, 2, delta, 1e-9)
	assert.False(t, changed)

	// A ticker appearing only in the target still counts.
	_, changed = d.Detect(domain.Weights{"SPY": 100}, domain.Weights{"SPY": 94, "GLD": 6})
	assert.True(t, changed)
}

// memState is an in-memory SchedulerStore.
type memState struct {
	runs map[string]time.Time
}

func (m *memState) LastRun(_ context.Context, key string) (time.Time, error) {
	return m.runs[key], nil
}

func (m *memState) SetLastRun(_ context.Context, key string, t time.Time) error {
	if m.runs == nil {
		m.runs = map[string]time.Time{}
	}
	m.runs[key] = t
	return nil
}

type captureNotifier struct {
	alerts []Alert
}

func (c *captureNotifier) Notify(_ context.Context, a Alert) error {
	c.alerts = append(c.alerts, a)
	return nil
}

func newTestScheduler(t *testing.T, freq string, check CheckFunc) (*Scheduler, *captureNotifier) {
	t.Helper()
	n := &captureNotifier{}
	s, err := NewScheduler(&memState{}, n, check, freq, "16:30")
	require.NoError(t, err)
	return s, n
}

func TestSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(&memState{}, &captureNotifier{}, nil, "hourly", "16:30")
	assert.Error(t, err)
	_, err = NewScheduler(&memState{}, &captureNotifier{}, nil, "daily", "noon")
	assert.Error(t, err)
}

func TestDueDaily(t *testing.T) {
	s, _ := newTestScheduler(t, "daily", nil)

	monday := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	beforeCheck := monday.Add(10 * time.Hour)
	afterCheck := monday.Add(17 * time.Hour)

	assert.False(t, s.due(beforeCheck, time.Time{}))
	assert.True(t, s.due(afterCheck, time.Time{}))
	// Already ran today.
	assert.False(t, s.due(afterCheck, monday.Add(16*time.Hour+45*time.Minute)))
	// Ran yesterday: due again.
	assert.True(t, s.due(afterCheck, monday.Add(-6*time.Hour)))
}

func TestDueWeeklyOnlyMonday(t *testing.T) {
	s, _ := newTestScheduler(t, "weekly", nil)

	monday := time.Date(2026, 8, 31, 17, 0, 0, 0, time.UTC)
	tuesday := monday.Add(24 * time.Hour)

	assert.True(t, s.due(monday, time.Time{}))
	assert.False(t, s.due(tuesday, time.Time{}))
}

func TestRunOnceDeliversAlerts(t *testing.T) {
	alert := Alert{StrategyName: "momentum", MaxDeltaPct: 12}
	s, n := newTestScheduler(t, "daily", func(context.Context) ([]Alert, error) {
		return []Alert{alert}, nil
	})

	require.NoError(t, s.RunOnce(context.Background()))
	require.Len(t, n.alerts, 1)
	assert.Equal(t, "momentum", n.alerts[0].StrategyName)
}

func TestRunOncePropagatesCheckFailure(t *testing.T) {
	s, n := newTestScheduler(t, "daily", func(context.Context) ([]Alert, error) {
		return nil, errors.New("data outage")
	})
	assert.Error(t, s.RunOnce(context.Background()))
	assert.Empty(t, n.alerts)
}

func TestTickPersistsLastRun(t *testing.T) {
	state := &memState{}
	n := &captureNotifier{}
	calls := 0
	s, err := NewScheduler(state, n, func(context.Context) ([]Alert, error) {
		calls++
		return nil, nil
	}, "daily", "16:30")
	require.NoError(t, err)

	now := time.Date(2026, 8, 31, 17, 0, 0, 0, time.UTC)
	s.tick(context.Background(), now)
	assert.Equal(t, 1, calls)

	// A second tick the same day is a no-op.
	s.tick(context.Background(), now.Add(time.Minute))
	assert.Equal(t, 1, calls)
}
