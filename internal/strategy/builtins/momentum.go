// Package builtins provides built-in strategy implementations that ship with
// quantdash.
package builtins

import (
	"fmt"
	"math"

	"quantdash/internal/domain"
	"quantdash/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Momentum)(nil)

// Momentum scores a ticker by its relative price change over window
// observations, skipping the most recent gap observations:
//
//	value[i] = close[i-gap] / close[i-gap-window] - 1
//
// Indices are positions in the ticker's own series, so tickers with
// different histories become eligible on different dates.
type Momentum struct {
	window int
	gap    int
}

// NewMomentum creates a Momentum strategy. window must be >= 1 and gap >= 0.
func NewMomentum(window, gap int) (*Momentum, error) {
	if window < 1 {
		return nil, &domain.ParamError{Field: "window", Reason: fmt.Sprintf("must be >= 1, got %d", window)}
	}
	if gap < 0 {
		return nil, &domain.ParamError{Field: "gap", Reason: fmt.Sprintf("must be >= 0, got %d", gap)}
	}
	return &Momentum{window: window, gap: gap}, nil
}

// Name returns "momentum".
func (m *Momentum) Name() string {
	return domain.SignalMomentum
}

// Lookback returns the number of prior observations a point needs before it
// is defined, saturating at math.MaxInt.
func (m *Momentum) Lookback() int {
	if m.gap > math.MaxInt-m.window {
		return math.MaxInt
	}
	return m.window + m.gap
}

// Score computes the momentum value of every observation in series.
func (m *Momentum) Score(series *domain.PriceSeries) []domain.SignalPoint {
	out := make([]domain.SignalPoint, len(series.Points))
	for i, pt := range series.Points {
		out[i] = domain.SignalPoint{Date: pt.Date, Ticker: series.Ticker}
		// Compared stepwise; i-gap-window overflows for huge parameters.
		if i < m.gap || i-m.gap < m.window {
			continue
		}
		last := i - m.gap
		out[i].Value = series.Points[last].Close/series.Points[last-m.window].Close - 1
		out[i].Defined = true
	}
	return out
}

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.Register(domain.SignalMomentum, func(p domain.Params) (strategy.Strategy, error) {
		return NewMomentum(p.Window, p.Gap)
	})
}

// NewRegistry returns a Registry holding every built-in strategy.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
