// Package store defines storage interfaces for the price panel and the run
// archive, with Parquet and SQLite implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"quantdash/internal/domain"
)

// PriceStore persists and retrieves daily close observations.
type PriceStore interface {
	// WritePrices merges a batch of points into storage. A point with the
	// same (ticker, date) as a stored one replaces it.
	WritePrices(ctx context.Context, points []domain.PricePoint) error

	// ReadPrices returns points for ticker within [start, end], sorted by
	// date. A zero bound is unbounded.
	ReadPrices(ctx context.Context, ticker string, start, end time.Time) ([]domain.PricePoint, error)

	// ListTickers returns all tickers with stored data, sorted.
	ListTickers(ctx context.Context) ([]string, error)

	// Reset removes every stored point.
	Reset(ctx context.Context) error
}

// RunStore archives completed backtest runs.
type RunStore interface {
	// SaveRun persists the full output bundle of a run.
	SaveRun(ctx context.Context, r *domain.Result) error

	// GetRun retrieves a run by id, or an error wrapping domain.ErrNotFound.
	GetRun(ctx context.Context, id string) (*domain.Result, error)

	// ListRuns returns the most recent run summaries, newest first, up to
	// limit (limit <= 0 means all).
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)

	// DeleteRun removes a run. Deleting an unknown id returns an error
	// wrapping domain.ErrNotFound.
	DeleteRun(ctx context.Context, id string) error
}

// ReadPanelPoints reads every stored point of every ticker within
// [start, end].
func ReadPanelPoints(ctx context.Context, ps PriceStore, start, end time.Time) ([]domain.PricePoint, error) {
	tickers, err := ps.ListTickers(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.PricePoint
	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pts, err := ps.ReadPrices(ctx, t, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, pts...)
	}
	return out, nil
}

// PanelReplacer is implemented by price stores that can swap their whole
// contents in one step.
type PanelReplacer interface {
	ReplaceAll(ctx context.Context, points []domain.PricePoint) error
}

// ReplacePanel makes points the whole contents of ps. A PanelReplacer swaps
// atomically; any other store is reset and rewritten, and a failed write
// leaves it partially filled.
func ReplacePanel(ctx context.Context, ps PriceStore, points []domain.PricePoint) error {
	if r, ok := ps.(PanelReplacer); ok {
		return r.ReplaceAll(ctx, points)
	}
	if err := ps.Reset(ctx); err != nil {
		return err
	}
	if err := ps.WritePrices(ctx, points); err != nil {
		return fmt.Errorf("writing panel: %w", err)
	}
	return nil
}
