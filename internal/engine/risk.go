package engine

import (
	"fmt"
	"math"

	"quantdash/internal/domain"
)

// limitTolerance absorbs floating-point noise in limit comparisons.
const limitTolerance = 1e-12

// RiskManager enforces the position limits every weight vector must meet
// before it reaches the P&L engine.
type RiskManager struct {
	maxPosition float64
	tolerance   float64
}

// NewRiskManager creates a RiskManager with the per-name absolute weight
// cap maxPosition (e.g. 0.02 for 2%).
func NewRiskManager(maxPosition float64) *RiskManager {
	return &RiskManager{
		maxPosition: maxPosition,
		tolerance:   limitTolerance,
	}
}

// CheckWeights verifies that every |weight| is within the cap and that a
// vector with equal long and short counts is dollar-neutral. It returns a
// *domain.LimitError on the first breach.
func (rm *RiskManager) CheckWeights(v domain.WeightVector) error {
	longs, shorts := 0, 0
	for _, t := range v.Tickers() {
		w := v.Weights[t]
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return &domain.LimitError{Date: v.Date, Ticker: t, Weight: w, Limit: rm.maxPosition,
				Reason: "weight is not finite"}
		}
		if math.Abs(w) > rm.maxPosition+rm.tolerance {
			return &domain.LimitError{Date: v.Date, Ticker: t, Weight: w, Limit: rm.maxPosition,
				Reason: "position cap exceeded"}
		}
		switch {
		case w > 0:
			longs++
		case w < 0:
			shorts++
		}
	}
	if longs == shorts {
		if net := v.Net(); math.Abs(net) > rm.tolerance*float64(len(v.Weights)+1) {
			return &domain.LimitError{Date: v.Date, Weight: net,
				Reason: fmt.Sprintf("net exposure %.3g with %d longs and %d shorts", net, longs, shorts)}
		}
	}
	return nil
}

// CheckAll runs CheckWeights over vectors in order.
func (rm *RiskManager) CheckAll(vectors []domain.WeightVector) error {
	for _, v := range vectors {
		if err := rm.CheckWeights(v); err != nil {
			return err
		}
	}
	return nil
}
