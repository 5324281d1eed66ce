package panel

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"quantdash/internal/domain"
	"quantdash/internal/util"
)

// DefaultSampleTickers is the universe of the built-in synthetic panel.
var DefaultSampleTickers = []string{"AAPL", "MSFT", "AMZN"}

// Bounds on a generated sample.
const (
	MaxSampleDays    = 10_000
	MaxSampleTickers = 100
)

// CheckSampleSize reports a *domain.ParamError when a sample of nDays over
// nTickers tickers is outside the generator's bounds.
func CheckSampleSize(nDays, nTickers int) error {
	if nDays < 1 || nDays > MaxSampleDays {
		return &domain.ParamError{Field: "days", Reason: fmt.Sprintf("must be in [1, %d], got %d", MaxSampleDays, nDays)}
	}
	if nTickers > MaxSampleTickers {
		return &domain.ParamError{Field: "tickers", Reason: fmt.Sprintf("at most %d tickers, got %d", MaxSampleTickers, nTickers)}
	}
	return nil
}

// Sample generates a synthetic business-day panel of nDays closes per
// ticker ending on or before end. Each close is a random walk from 100 with
// unit normal steps, floored at 5 and rounded to cents. The same seed always
// yields the same panel.
func Sample(nDays int, tickers []string, seed uint64, end time.Time) []domain.PricePoint {
	if len(tickers) == 0 {
		tickers = DefaultSampleTickers
	}
	dates := util.NewTradingCalendar().Sessions(end, nDays)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	points := make([]domain.PricePoint, 0, nDays*len(tickers))
	for _, t := range tickers {
		walk := 100.0
		for _, d := range dates {
			walk += rng.NormFloat64()
			px := math.Round(math.Max(5.0, walk)*100) / 100
			vol := math.Floor((1 + 2*rng.Float64()) * 1e6)
			points = append(points, domain.PricePoint{Date: d, Ticker: t, Close: px, Volume: vol})
		}
	}
	return points
}
