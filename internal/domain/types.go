// Package domain defines the core types shared by every stage of the
// backtest pipeline: price panels, signals, baskets, weights, daily results
// and run metrics.
package domain

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// DateLayout is the canonical calendar-day format used on every boundary.
const DateLayout = "2006-01-02"

// EquityBase is the equity level before the first tradable day.
const EquityBase = 1.0

// PricePoint is a single daily observation for one ticker.
type PricePoint struct {
	Date   time.Time // UTC midnight
	Ticker string
	Close  float64
	Volume float64
}

// PriceSeries holds the observations of one ticker sorted ascending by date.
type PriceSeries struct {
	Ticker string
	Points []PricePoint
}

// Len returns the number of observations in the series.
func (s *PriceSeries) Len() int { return len(s.Points) }

// IndexOf returns the position of date in the series, or -1.
func (s *PriceSeries) IndexOf(date time.Time) int {
	i := sort.Search(len(s.Points), func(i int) bool {
		return !s.Points[i].Date.Before(date)
	})
	if i < len(s.Points) && s.Points[i].Date.Equal(date) {
		return i
	}
	return -1
}

// Panel is the canonical in-memory price table: one series per ticker plus
// the sorted set of distinct dates across all series.
type Panel struct {
	Series  map[string]*PriceSeries
	Tickers []string    // sorted ascending
	Dates   []time.Time // sorted ascending, distinct
}

// Rows returns the total number of observations in the panel.
func (p *Panel) Rows() int {
	n := 0
	for _, s := range p.Series {
		n += s.Len()
	}
	return n
}

// Start returns the first date of the panel (zero if empty).
func (p *Panel) Start() time.Time {
	if len(p.Dates) == 0 {
		return time.Time{}
	}
	return p.Dates[0]
}

// End returns the last date of the panel (zero if empty).
func (p *Panel) End() time.Time {
	if len(p.Dates) == 0 {
		return time.Time{}
	}
	return p.Dates[len(p.Dates)-1]
}

// Filter returns a new panel restricted to [start, end]. A zero bound is
// treated as unbounded. Series left without observations are dropped. The
// receiver is not modified.
func (p *Panel) Filter(start, end time.Time) *Panel {
	in := func(d time.Time) bool {
		if !start.IsZero() && d.Before(start) {
			return false
		}
		if !end.IsZero() && d.After(end) {
			return false
		}
		return true
	}

	out := &Panel{Series: make(map[string]*PriceSeries, len(p.Series))}
	for _, t := range p.Tickers {
		src := p.Series[t]
		var pts []PricePoint
		for _, pt := range src.Points {
			if in(pt.Date) {
				pts = append(pts, pt)
			}
		}
		if len(pts) == 0 {
			continue
		}
		out.Series[t] = &PriceSeries{Ticker: t, Points: pts}
		out.Tickers = append(out.Tickers, t)
	}
	for _, d := range p.Dates {
		if in(d) {
			out.Dates = append(out.Dates, d)
		}
	}
	return out
}

// Points flattens the panel into date-then-ticker order.
func (p *Panel) Points() []PricePoint {
	pts := make([]PricePoint, 0, p.Rows())
	for _, t := range p.Tickers {
		pts = append(pts, p.Series[t].Points...)
	}
	sort.SliceStable(pts, func(i, j int) bool {
		if !pts[i].Date.Equal(pts[j].Date) {
			return pts[i].Date.Before(pts[j].Date)
		}
		return pts[i].Ticker < pts[j].Ticker
	})
	return pts
}

// SignalPoint is the score of one ticker on one date. Defined is false when
// the ticker does not yet have enough history.
type SignalPoint struct {
	Date    time.Time
	Ticker  string
	Value   float64
	Defined bool
}

// Basket is the long/short ticker selection for one date.
type Basket struct {
	Date  time.Time
	Long  []string
	Short []string
}

// Empty reports whether the basket holds no names.
func (b Basket) Empty() bool { return len(b.Long) == 0 && len(b.Short) == 0 }

// WeightVector maps ticker to signed portfolio weight for one date.
type WeightVector struct {
	Date    time.Time
	Weights map[string]float64
}

// Get returns the weight of ticker (0 when absent).
func (v WeightVector) Get(ticker string) float64 { return v.Weights[ticker] }

// Empty reports whether the vector holds no positions.
func (v WeightVector) Empty() bool { return len(v.Weights) == 0 }

// Tickers returns the held tickers sorted ascending.
func (v WeightVector) Tickers() []string {
	ts := make([]string, 0, len(v.Weights))
	for t := range v.Weights {
		ts = append(ts, t)
	}
	sort.Strings(ts)
	return ts
}

// Gross returns the sum of absolute weights.
func (v WeightVector) Gross() float64 {
	g := 0.0
	for _, t := range v.Tickers() {
		g += math.Abs(v.Weights[t])
	}
	return g
}

// Net returns the sum of signed weights.
func (v WeightVector) Net() float64 {
	n := 0.0
	for _, t := range v.Tickers() {
		n += v.Weights[t]
	}
	return n
}

// DailyResult is one row of the engine's primary output.
type DailyResult struct {
	Date     time.Time `json:"-"`
	DailyPnL float64   `json:"daily_pnl"`
	Turnover float64   `json:"turnover"`
	Equity   float64   `json:"equity"`
}

// MarshalJSON encodes the date as YYYY-MM-DD.
func (d DailyResult) MarshalJSON() ([]byte, error) {
	type alias DailyResult
	return json.Marshal(struct {
		Date string `json:"date"`
		alias
	}{Date: d.Date.Format(DateLayout), alias: alias(d)})
}

// UnmarshalJSON decodes the YYYY-MM-DD date form written by MarshalJSON.
func (d *DailyResult) UnmarshalJSON(data []byte) error {
	type alias DailyResult
	aux := struct {
		Date string `json:"date"`
		*alias
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := time.Parse(DateLayout, aux.Date)
	if err != nil {
		return err
	}
	d.Date = t
	return nil
}

// RunMetrics summarises a DailyResult sequence. Sharpe is NaN when the
// P&L series has zero variance.
type RunMetrics struct {
	CAGR        float64
	Volatility  float64
	Sharpe      float64
	MaxDrawdown float64
	HitRate     float64
	AvgTurnover float64
}

type runMetricsJSON struct {
	CAGR        *float64 `json:"cagr"`
	Volatility  *float64 `json:"vol"`
	Sharpe      *float64 `json:"sharpe"`
	MaxDrawdown *float64 `json:"max_dd"`
	HitRate     *float64 `json:"hit_rate"`
	AvgTurnover *float64 `json:"avg_turn"`
}

// MarshalJSON encodes non-finite values as null.
func (m RunMetrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(runMetricsJSON{
		CAGR:        finite(m.CAGR),
		Volatility:  finite(m.Volatility),
		Sharpe:      finite(m.Sharpe),
		MaxDrawdown: finite(m.MaxDrawdown),
		HitRate:     finite(m.HitRate),
		AvgTurnover: finite(m.AvgTurnover),
	})
}

// UnmarshalJSON decodes null fields back to NaN.
func (m *RunMetrics) UnmarshalJSON(data []byte) error {
	var aux runMetricsJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.CAGR = orNaN(aux.CAGR)
	m.Volatility = orNaN(aux.Volatility)
	m.Sharpe = orNaN(aux.Sharpe)
	m.MaxDrawdown = orNaN(aux.MaxDrawdown)
	m.HitRate = orNaN(aux.HitRate)
	m.AvgTurnover = orNaN(aux.AvgTurnover)
	return nil
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
