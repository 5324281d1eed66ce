// Package metrics reduces a daily result sequence to summary statistics.
package metrics

import (
	"math"

	"quantdash/internal/domain"
)

// TradingDaysPerYear is the annualisation constant.
const TradingDaysPerYear = 252

// zeroVariance is the stdev below which Sharpe is undefined.
const zeroVariance = 1e-12

// Compute returns the RunMetrics of days. Returns domain.ErrEmptySeries when
// days is empty. Sharpe is NaN when the P&L series has zero variance.
// CAGR grows from domain.EquityBase, not from the first day's equity, so the
// first day's P&L counts toward it.
func Compute(days []domain.DailyResult) (domain.RunMetrics, error) {
	n := len(days)
	if n == 0 {
		return domain.RunMetrics{}, domain.ErrEmptySeries
	}

	var sumPnL, sumTurn float64
	hits := 0
	for _, d := range days {
		sumPnL += d.DailyPnL
		sumTurn += d.Turnover
		if d.DailyPnL > 0 {
			hits++
		}
	}
	mean := sumPnL / float64(n)

	var ss float64
	for _, d := range days {
		dev := d.DailyPnL - mean
		ss += dev * dev
	}
	stdev := math.Sqrt(ss / float64(n))
	ann := math.Sqrt(TradingDaysPerYear)

	sharpe := math.NaN()
	if stdev > zeroVariance {
		sharpe = mean / stdev * ann
	}

	return domain.RunMetrics{
		CAGR:        CAGR(days[n-1].Equity, n),
		Volatility:  stdev * ann,
		Sharpe:      sharpe,
		MaxDrawdown: MaxDrawdown(days),
		HitRate:     float64(hits) / float64(n),
		AvgTurnover: sumTurn / float64(n),
	}, nil
}

// CAGR annualises the growth from domain.EquityBase to last over n days.
// A non-positive terminal equity yields -1.
func CAGR(last float64, n int) float64 {
	if n == 0 {
		return math.NaN()
	}
	if last <= 0 {
		return -1
	}
	return math.Pow(last/domain.EquityBase, float64(TradingDaysPerYear)/float64(n)) - 1
}

// MaxDrawdown returns min_d(equity[d]/max(equity[0..d]) - 1), a value <= 0.
func MaxDrawdown(days []domain.DailyResult) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, d := range days {
		if d.Equity > peak {
			peak = d.Equity
		}
		if peak > 0 {
			if dd := d.Equity/peak - 1; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}
