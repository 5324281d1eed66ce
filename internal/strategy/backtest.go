package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quantdash/internal/domain"
	"quantdash/internal/engine"
	"quantdash/internal/metrics"
	"quantdash/internal/portfolio"
	"quantdash/internal/util"
)

// Backtester runs a registered strategy through the full pipeline: signals,
// baskets, weights, limit checks, P&L and metrics. It holds no state
// between runs; each Run is a function of (panel, params).
type Backtester struct {
	registry *Registry
	engine   *engine.Engine
	log      *slog.Logger
	workers  int
	now      func() time.Time
	newID    func() string
}

// Option configures a Backtester.
type Option func(*Backtester)

// WithWorkers bounds how many tickers are scored concurrently.
func WithWorkers(n int) Option {
	return func(bt *Backtester) { bt.workers = n }
}

// WithClock overrides the clock used to stamp results.
func WithClock(now func() time.Time) Option {
	return func(bt *Backtester) { bt.now = now }
}

// WithIDFunc overrides the run id generator.
func WithIDFunc(f func() string) Option {
	return func(bt *Backtester) { bt.newID = f }
}

// NewBacktester creates a Backtester that looks up strategies in the
// provided registry. A nil logger discards output.
func NewBacktester(registry *Registry, log *slog.Logger, opts ...Option) *Backtester {
	if log == nil {
		log = util.Discard()
	}
	bt := &Backtester{
		registry: registry,
		engine:   engine.NewEngine(log),
		log:      log.With("component", "backtest"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    NewRunID,
	}
	for _, o := range opts {
		o(bt)
	}
	return bt
}

// NewRunID returns a short random run identifier (8 hex characters).
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Run executes a backtest of params.Signal over panel. Any failure aborts
// the run with no partial result. Errors are from the domain taxonomy:
// *domain.ParamError, domain.ErrEmptyPanel, domain.ErrEmptySeries or
// *domain.LimitError.
func (bt *Backtester) Run(ctx context.Context, panel *domain.Panel, params domain.Params) (*domain.Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s, err := bt.registry.Build(params)
	if err != nil {
		return nil, err
	}
	if panel == nil {
		return nil, domain.ErrEmptyPanel
	}

	filtered := panel.Filter(params.StartDate, params.EndDate)
	if len(filtered.Dates) == 0 {
		return nil, domain.ErrEmptyPanel
	}
	bt.log.Debug("panel filtered",
		"tickers", len(filtered.Tickers),
		"dates", len(filtered.Dates),
		"rows", filtered.Rows(),
	)

	signals, err := ComputeSignals(ctx, s, filtered, bt.workers)
	if err != nil {
		return nil, fmt.Errorf("computing %s signals: %w", s.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sections := portfolio.CrossSections(filtered, signals)
	baskets := portfolio.BuildBaskets(sections, params.Quantile)
	weights := portfolio.BuildWeights(baskets, params.MaxPosition)
	if err := engine.NewRiskManager(params.MaxPosition).CheckAll(weights); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	days, err := bt.engine.Run(filtered, weights, params.CostBps)
	if err != nil {
		return nil, err
	}
	m, err := metrics.Compute(days)
	if err != nil {
		return nil, err
	}

	res := &domain.Result{
		RunID:     bt.newID(),
		CreatedAt: bt.now(),
		Params:    params,
		Window: domain.Window{
			PanelStart: filtered.Start(),
			PanelEnd:   filtered.End(),
			Start:      days[0].Date,
			End:        days[len(days)-1].Date,
		},
		Tickers: len(filtered.Tickers),
		Days:    days,
		Metrics: m,
	}
	bt.log.Info("backtest complete",
		"run_id", res.RunID,
		"signal", s.Name(),
		"tickers", res.Tickers,
		"days", res.NDays(),
		"cagr", m.CAGR,
		"sharpe", m.Sharpe,
	)
	return res, nil
}

// Strategies lists the signal names this Backtester can run.
func (bt *Backtester) Strategies() []string {
	return bt.registry.List()
}
