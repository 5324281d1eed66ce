package strategy

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"quantdash/internal/domain"
)

// ComputeSignals scores every ticker of panel with s. Tickers are
// independent, so they are scored concurrently on up to workers goroutines
// (workers <= 0 means GOMAXPROCS). The result maps ticker to its signal
// series and does not depend on scheduling.
func ComputeSignals(ctx context.Context, s Strategy, panel *domain.Panel, workers int) (map[string][]domain.SignalPoint, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex
	out := make(map[string][]domain.SignalPoint, len(panel.Tickers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, t := range panel.Tickers {
		series := panel.Series[t]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pts := s.Score(series)
			if len(pts) != series.Len() {
				return fmt.Errorf("strategy %s: scored %d points for %s, want %d",
					s.Name(), len(pts), series.Ticker, series.Len())
			}
			mu.Lock()
			out[series.Ticker] = pts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
