// Package store defines storage interfaces for persisting and retrieving
// named portfolios, strategy scripts, and scheduler state.
package store

import (
	"context"
	"errors"
	"time"

	"quantfolio/internal/domain"
)

// ErrNotFound is returned when a named record does not exist.
var ErrNotFound = errors.New("not found")

// PortfolioStore persists and retrieves named portfolio records.
type PortfolioStore interface {
	// SavePortfolio inserts or updates a portfolio by name.
	SavePortfolio(ctx context.Context, p *domain.Portfolio) error

	// GetPortfolio retrieves a portfolio by name.
	GetPortfolio(ctx context.Context, name string) (*domain.Portfolio, error)

	// ListPortfolios returns all portfolios ordered by name.
	ListPortfolios(ctx context.Context) ([]domain.Portfolio, error)

	// DeletePortfolio removes a portfolio by name.
	DeletePortfolio(ctx context.Context, name string) error
}

// StrategyStore persists and retrieves strategy script records.
type StrategyStore interface {
	// SaveStrategy inserts or updates a strategy by name.
	SaveStrategy(ctx context.Context, s *domain.StrategyRecord) error

	// GetStrategy retrieves a strategy by name.
	GetStrategy(ctx context.Context, name string) (*domain.StrategyRecord, error)

	// ListStrategies returns all strategies ordered by name.
	ListStrategies(ctx context.Context) ([]domain.StrategyRecord, error)

	// DeleteStrategy removes a strategy by name.
	DeleteStrategy(ctx context.Context, name string) error
}

// SchedulerStore tracks when each periodic check last ran, so restarts do
// not repeat or skip notifications.
type SchedulerStore interface {
	// LastRun returns when the named check last completed, or the zero time.
	LastRun(ctx context.Context, key string) (time.Time, error)

	// SetLastRun records a completion time for the named check.
	SetLastRun(ctx context.Context, key string, t time.Time) error
}
