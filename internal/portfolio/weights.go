package portfolio

import (
	"math"

	"quantdash/internal/domain"
)

// SideWeight returns the per-name weight magnitude for a side of size n
// under the given cap. The cap is a ceiling; the side is not rescaled back
// up to unit gross.
func SideWeight(n int, maxPosition float64) float64 {
	if n == 0 {
		return 0
	}
	return math.Min(1/float64(n), maxPosition)
}

// BuildWeights converts baskets into signed weight vectors: longs get
// +SideWeight, shorts get -SideWeight. An empty basket yields an empty
// vector (a flat day).
func BuildWeights(baskets []domain.Basket, maxPosition float64) []domain.WeightVector {
	out := make([]domain.WeightVector, len(baskets))
	for i, b := range baskets {
		out[i] = domain.WeightVector{Date: b.Date}
		if b.Empty() {
			continue
		}
		w := make(map[string]float64, len(b.Long)+len(b.Short))
		lw := SideWeight(len(b.Long), maxPosition)
		for _, t := range b.Long {
			w[t] = lw
		}
		sw := SideWeight(len(b.Short), maxPosition)
		for _, t := range b.Short {
			w[t] = -sw
		}
		out[i].Weights = w
	}
	return out
}
