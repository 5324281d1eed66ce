// Package engine applies portfolio weights to realised price returns. It
// charges a turnover cost and accumulates the compounded equity curve. It
// also checks weight vectors against position limits.
package engine

import (
	"log/slog"
	"math"
	"time"

	"quantdash/internal/domain"
	"quantdash/internal/util"
)

// Engine is the cost-adjusted P&L engine. It holds no state between runs.
type Engine struct {
	log *slog.Logger
}

// NewEngine creates a new Engine. A nil logger discards output.
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = util.Discard()
	}
	return &Engine{log: log.With("component", "engine")}
}

// Run walks the panel's date axis starting at the first date with a
// non-empty weight vector. For each date d it computes
//
//	raw      = sum_t w[d-1][t] * r[t,d]
//	turnover = sum_t |w[d][t] - w[d-1][t]|
//	pnl      = raw - turnover*costBps/1e4
//	equity   = equity[d-1] * (1 + pnl)
//
// where r[t,d] is the return of t into d on its own series, and 0 when t
// has no observation on d. Dates with no weight vector are flat. Sums run
// in ticker order so repeated runs are bit-identical. If no date carries a
// position, Run returns domain.ErrEmptySeries.
func (e *Engine) Run(panel *domain.Panel, weights []domain.WeightVector, costBps float64) ([]domain.DailyResult, error) {
	byDate := make(map[int64]domain.WeightVector, len(weights))
	for _, v := range weights {
		byDate[v.Date.Unix()] = v
	}

	start := -1
	for i, d := range panel.Dates {
		if v, ok := byDate[d.Unix()]; ok && !v.Empty() {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, domain.ErrEmptySeries
	}

	out := make([]domain.DailyResult, 0, len(panel.Dates)-start)
	equity := domain.EquityBase
	prev := domain.WeightVector{}
	for _, d := range panel.Dates[start:] {
		cur := byDate[d.Unix()]

		raw := 0.0
		for _, t := range prev.Tickers() {
			raw += prev.Weights[t] * Return(panel, t, d)
		}

		turnover := Turnover(prev, cur)
		pnl := raw - turnover*costBps/1e4
		equity *= 1 + pnl

		out = append(out, domain.DailyResult{
			Date:     d,
			DailyPnL: pnl,
			Turnover: turnover,
			Equity:   equity,
		})
		prev = cur
	}

	e.log.Debug("pnl computed",
		"days", len(out),
		"start", out[0].Date.Format(domain.DateLayout),
		"end", out[len(out)-1].Date.Format(domain.DateLayout),
		"equity", equity,
	)
	return out, nil
}

// Return is the simple return of ticker into date on its own series:
// close[i]/close[i-1] - 1. It is 0 when the ticker has no observation on
// date or no earlier one.
func Return(panel *domain.Panel, ticker string, date time.Time) float64 {
	s, ok := panel.Series[ticker]
	if !ok {
		return 0
	}
	i := s.IndexOf(date)
	if i <= 0 {
		return 0
	}
	r := s.Points[i].Close/s.Points[i-1].Close - 1
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Turnover returns sum |cur[t] - prev[t]| over the union of both vectors'
// tickers.
func Turnover(prev, cur domain.WeightVector) float64 {
	diff := domain.WeightVector{Weights: make(map[string]float64, len(prev.Weights)+len(cur.Weights))}
	for t, w := range prev.Weights {
		diff.Weights[t] = cur.Get(t) - w
	}
	for t, w := range cur.Weights {
		if _, ok := prev.Weights[t]; !ok {
			diff.Weights[t] = w
		}
	}
	return diff.Gross()
}
