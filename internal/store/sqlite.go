package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quantfolio/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ PortfolioStore = (*SQLiteStore)(nil)
var _ StrategyStore = (*SQLiteStore)(nil)
var _ SchedulerStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	name        TEXT PRIMARY KEY,
	tickers     TEXT NOT NULL,
	weights     TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS strategies (
	name           TEXT PRIMARY KEY,
	code           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	portfolio_name TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS scheduler_state (
	key      TEXT PRIMARY KEY,
	last_run TEXT NOT NULL
);
`

// SQLiteStore implements PortfolioStore, StrategyStore, and SchedulerStore
// backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// PortfolioStore implementation
// ---------------------------------------------------------------------------

// SavePortfolio inserts or updates a portfolio by name.
func (s *SQLiteStore) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	tickers, err := json.Marshal(p.Tickers)
	if err != nil {
		return err
	}
	weights, err := json.Marshal(p.Weights)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portfolios (name, tickers, weights, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			tickers = excluded.tickers,
			weights = excluded.weights,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		p.Name, string(tickers), string(weights), p.Description, now, now)
	return err
}

// GetPortfolio retrieves a portfolio by name.
func (s *SQLiteStore) GetPortfolio(ctx context.Context, name string) (*domain.Portfolio, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, tickers, weights, description, created_at, updated_at
		FROM portfolios WHERE name = ?`, name)
	return scanPortfolio(row)
}

// ListPortfolios returns all portfolios ordered by name.
func (s *SQLiteStore) ListPortfolios(ctx context.Context) ([]domain.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, tickers, weights, description, created_at, updated_at
		FROM portfolios ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeletePortfolio removes a portfolio by name.
func (s *SQLiteStore) DeletePortfolio(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM portfolios WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ---------------------------------------------------------------------------
// StrategyStore implementation
// ---------------------------------------------------------------------------

// SaveStrategy inserts or updates a strategy by name.
func (s *SQLiteStore) SaveStrategy(ctx context.Context, rec *domain.StrategyRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (name, code, description, portfolio_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			code = excluded.code,
			description = excluded.description,
			portfolio_name = excluded.portfolio_name,
			updated_at = excluded.updated_at`,
		rec.Name, rec.Code, rec.Description, rec.PortfolioName, now, now)
	return err
}

// GetStrategy retrieves a strategy by name.
func (s *SQLiteStore) GetStrategy(ctx context.Context, name string) (*domain.StrategyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, code, description, portfolio_name, created_at, updated_at
		FROM strategies WHERE name = ?`, name)
	return scanStrategy(row)
}

// ListStrategies returns all strategies ordered by name.
func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]domain.StrategyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, code, description, portfolio_name, created_at, updated_at
		FROM strategies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StrategyRecord
	for rows.Next() {
		rec, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteStrategy removes a strategy by name.
func (s *SQLiteStore) DeleteStrategy(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ---------------------------------------------------------------------------
// SchedulerStore implementation
// ---------------------------------------------------------------------------

// LastRun returns when the named check last completed, or the zero time.
func (s *SQLiteStore) LastRun(ctx context.Context, key string) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_run FROM scheduler_state WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, raw)
}

// SetLastRun records a completion time for the named check.
func (s *SQLiteStore) SetLastRun(ctx context.Context, key string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_state (key, last_run) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET last_run = excluded.last_run`,
		key, t.UTC().Format(time.RFC3339))
	return err
}

// ---------------------------------------------------------------------------
// Row scanning
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPortfolio(row rowScanner) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var tickers, weights, createdAt, updatedAt string
	err := row.Scan(&p.Name, &tickers, &weights, &p.Description, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tickers), &p.Tickers); err != nil {
		return nil, fmt.Errorf("portfolio %s: decoding tickers: %w", p.Name, err)
	}
	if err := json.Unmarshal([]byte(weights), &p.Weights); err != nil {
		return nil, fmt.Errorf("portfolio %s: decoding weights: %w", p.Name, err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func scanStrategy(row rowScanner) (*domain.StrategyRecord, error) {
	var rec domain.StrategyRecord
	var createdAt, updatedAt string
	err := row.Scan(&rec.Name, &rec.Code, &rec.Description, &rec.PortfolioName, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
