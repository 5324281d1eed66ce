package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quantdash/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database. A run is
// stored as one row in runs plus one row per tradable day in run_days, so
// replaying a run never re-invokes the engine.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	params     TEXT NOT NULL,
	run_window TEXT NOT NULL,
	tickers    INTEGER NOT NULL,
	n_days     INTEGER NOT NULL,
	metrics    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at DESC);
CREATE TABLE IF NOT EXISTS run_days (
	run_id    TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
	idx       INTEGER NOT NULL,
	date      TEXT NOT NULL,
	daily_pnl REAL NOT NULL,
	turnover  REAL NOT NULL,
	equity    REAL NOT NULL,
	PRIMARY KEY (run_id, idx)
);`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// In-memory databases are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run and its daily rows in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, r *domain.Result) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	window, err := json.Marshal(r.Window)
	if err != nil {
		return fmt.Errorf("encoding window: %w", err)
	}
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, params, run_window, tickers, n_days, metrics)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.CreatedAt.UnixMilli(), string(params), string(window), r.Tickers, r.NDays(), string(metrics),
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", r.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_days (run_id, idx, date, daily_pnl, turnover, equity) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, d := range r.Days {
		if _, err := stmt.ExecContext(ctx, r.RunID, i, d.Date.Format(domain.DateLayout), d.DailyPnL, d.Turnover, d.Equity); err != nil {
			return fmt.Errorf("inserting day %d of run %s: %w", i, r.RunID, err)
		}
	}
	return tx.Commit()
}

// GetRun retrieves a single run by its id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, created_at, params, run_window, tickers, n_days, metrics FROM runs WHERE run_id = ?`, id)
	sum, tickers, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}

	r := &domain.Result{
		RunID:     sum.RunID,
		CreatedAt: sum.CreatedAt,
		Params:    sum.Params,
		Window:    sum.Window,
		Tickers:   tickers,
		Metrics:   sum.Metrics,
		Days:      make([]domain.DailyResult, 0, sum.NDays),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT date, daily_pnl, turnover, equity FROM run_days WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("reading days of run %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			date string
			d    domain.DailyResult
		)
		if err := rows.Scan(&date, &d.DailyPnL, &d.Turnover, &d.Equity); err != nil {
			return nil, err
		}
		if d.Date, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, fmt.Errorf("run %s: bad stored date %q: %w", id, date, err)
		}
		r.Days = append(r.Days, d)
	}
	return r, rows.Err()
}

// ListRuns returns run summaries ordered newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, created_at, params, run_window, tickers, n_days, metrics
		 FROM runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		sum, _, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, through the foreign key, its daily rows.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (domain.RunSummary, int, error) {
	var (
		sum                     domain.RunSummary
		createdAt               int64
		params, window, metrics string
		tickers                 int
	)
	if err := sc.Scan(&sum.RunID, &createdAt, &params, &window, &tickers, &sum.NDays, &metrics); err != nil {
		return sum, 0, err
	}
	sum.CreatedAt = time.UnixMilli(createdAt).UTC()
	if err := json.Unmarshal([]byte(params), &sum.Params); err != nil {
		return sum, 0, fmt.Errorf("decoding params of run %s: %w", sum.RunID, err)
	}
	if err := json.Unmarshal([]byte(window), &sum.Window); err != nil {
		return sum, 0, fmt.Errorf("decoding window of run %s: %w", sum.RunID, err)
	}
	if err := json.Unmarshal([]byte(metrics), &sum.Metrics); err != nil {
		return sum, 0, fmt.Errorf("decoding metrics of run %s: %w", sum.RunID, err)
	}
	return sum, tickers, nil
}
