// Package portfolio turns per-date signal cross-sections into long/short
// baskets and dollar-neutral, capped weight vectors.
package portfolio

import (
	"math"
	"sort"
	"time"

	"quantdash/internal/domain"
)

// CrossSection is the set of defined signals sharing one date.
type CrossSection struct {
	Date    time.Time
	Signals []domain.SignalPoint
}

// CrossSections groups the defined signals by date, one section per date of
// the panel's date axis in ascending order. Dates where no ticker has a
// defined signal yield an empty section.
func CrossSections(panel *domain.Panel, signals map[string][]domain.SignalPoint) []CrossSection {
	byDate := make(map[int64][]domain.SignalPoint, len(panel.Dates))
	for _, t := range panel.Tickers {
		for _, sp := range signals[t] {
			if !sp.Defined || math.IsNaN(sp.Value) || math.IsInf(sp.Value, 0) {
				continue
			}
			k := sp.Date.Unix()
			byDate[k] = append(byDate[k], sp)
		}
	}

	out := make([]CrossSection, len(panel.Dates))
	for i, d := range panel.Dates {
		out[i] = CrossSection{Date: d, Signals: byDate[d.Unix()]}
	}
	return out
}

// BasketSize returns how many names each side holds for n eligible tickers:
// ceil(quantile*n), clamped so the two sides never overlap.
func BasketSize(n int, quantile float64) int {
	if n < 2 {
		return 0
	}
	k := int(math.Ceil(quantile * float64(n)))
	if k > n/2 {
		k = n / 2
	}
	if k < 0 {
		k = 0
	}
	return k
}

// BuildBaskets ranks each section by value descending, ties broken by
// ticker ascending, and takes the top k as longs and the bottom k as shorts.
// Sections too small to hold one name per side produce an empty basket.
func BuildBaskets(sections []CrossSection, quantile float64) []domain.Basket {
	out := make([]domain.Basket, len(sections))
	for i, cs := range sections {
		out[i] = domain.Basket{Date: cs.Date}

		k := BasketSize(len(cs.Signals), quantile)
		if k == 0 {
			continue
		}

		ranked := make([]domain.SignalPoint, len(cs.Signals))
		copy(ranked, cs.Signals)
		sort.Slice(ranked, func(a, b int) bool {
			if ranked[a].Value != ranked[b].Value {
				return ranked[a].Value > ranked[b].Value
			}
			return ranked[a].Ticker < ranked[b].Ticker
		})

		long := make([]string, k)
		short := make([]string, k)
		for j := 0; j < k; j++ {
			long[j] = ranked[j].Ticker
			short[j] = ranked[len(ranked)-1-j].Ticker
		}
		out[i].Long = long
		out[i].Short = short
	}
	return out
}
