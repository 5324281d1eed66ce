package metrics

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdash/internal/domain"
)

func series(pnl, turn []float64) []domain.DailyResult {
	out := make([]domain.DailyResult, len(pnl))
	eq := domain.EquityBase
	for i := range pnl {
		eq *= 1 + pnl[i]
		out[i] = domain.DailyResult{
			Date:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			DailyPnL: pnl[i],
			Turnover: turn[i],
			Equity:   eq,
		}
	}
	return out
}

func TestCompute(t *testing.T) {
	days := series(
		[]float64{0.01, -0.02, 0.03, 0, 0.01},
		[]float64{1, 0, 2, 0, 1},
	)
	m, err := Compute(days)
	require.NoError(t, err)

	mean := 0.03 / 5
	var ss float64
	for _, d := range days {
		ss += (d.DailyPnL - mean) * (d.DailyPnL - mean)
	}
	sd := math.Sqrt(ss / 5)

	assert.InDelta(t, sd*math.Sqrt(252), m.Volatility, 1e-12)
	assert.InDelta(t, mean/sd*math.Sqrt(252), m.Sharpe, 1e-9)
	assert.InDelta(t, 0.6, m.HitRate, 1e-15)
	assert.InDelta(t, 0.8, m.AvgTurnover, 1e-15)
	assert.InDelta(t, math.Pow(days[4].Equity, 252.0/5)-1, m.CAGR, 1e-9)
	assert.InDelta(t, -0.02, m.MaxDrawdown, 1e-12)
}

func TestComputeZeroVariance(t *testing.T) {
	m, err := Compute(series([]float64{0, 0, 0}, []float64{1, 0, 0}))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m.Sharpe), "Sharpe = %v, want NaN", m.Sharpe)
	assert.Equal(t, 0.0, m.Volatility)
	assert.Equal(t, 0.0, m.CAGR)
	assert.Equal(t, 0.0, m.HitRate)
}

func TestComputeEmpty(t *testing.T) {
	_, err := Compute(nil)
	assert.True(t, errors.Is(err, domain.ErrEmptySeries))
}

func TestMaxDrawdown(t *testing.T) {
	days := []domain.DailyResult{{Equity: 1}, {Equity: 1.2}, {Equity: 0.9}, {Equity: 1.3}, {Equity: 1.0}}
	assert.InDelta(t, 0.9/1.2-1, MaxDrawdown(days), 1e-12)

	rising := []domain.DailyResult{{Equity: 1}, {Equity: 1.1}}
	assert.Equal(t, 0.0, MaxDrawdown(rising))
}

func TestCAGR(t *testing.T) {
	assert.InDelta(t, 0.1, CAGR(1.21, 504), 1e-12)
	assert.Equal(t, -1.0, CAGR(0, 10))
}

func TestComputeCAGRIncludesFirstDay(t *testing.T) {
	// All growth happens on the first day; later days are flat.
	days := series([]float64{0.1, 0, 0, 0}, []float64{1, 0, 0, 0})
	m, err := Compute(days)
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(1.1, 252.0/4)-1, m.CAGR, 1e-9)
	assert.Greater(t, m.CAGR, 0.0)
}
