package domain

import (
	"encoding/json"
	"time"
)

// Window is the date span a run actually used.
type Window struct {
	PanelStart time.Time // first date of the filtered panel
	PanelEnd   time.Time // last date of the filtered panel
	Start      time.Time // first tradable date (after warm-up)
	End        time.Time // last tradable date
}

type windowJSON struct {
	PanelStart string `json:"panel_start"`
	PanelEnd   string `json:"panel_end"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

// MarshalJSON encodes the window as YYYY-MM-DD strings.
func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(windowJSON{
		PanelStart: formatDate(w.PanelStart),
		PanelEnd:   formatDate(w.PanelEnd),
		Start:      formatDate(w.Start),
		End:        formatDate(w.End),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (w *Window) UnmarshalJSON(data []byte) error {
	var aux windowJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	for _, f := range []struct {
		src string
		dst *time.Time
	}{
		{aux.PanelStart, &w.PanelStart},
		{aux.PanelEnd, &w.PanelEnd},
		{aux.Start, &w.Start},
		{aux.End, &w.End},
	} {
		if f.src == "" {
			*f.dst = time.Time{}
			continue
		}
		t, err := time.Parse(DateLayout, f.src)
		if err != nil {
			return err
		}
		*f.dst = t
	}
	return nil
}

// Result is the output bundle of one backtest run.
type Result struct {
	RunID     string        `json:"run_id"`
	CreatedAt time.Time     `json:"created_at"`
	Params    Params        `json:"params"`
	Window    Window        `json:"window"`
	Tickers   int           `json:"tickers"`
	Days      []DailyResult `json:"days"`
	Metrics   RunMetrics    `json:"metrics"`
}

// NDays returns the number of tradable days.
func (r *Result) NDays() int { return len(r.Days) }

// Dates returns the tradable dates in order.
func (r *Result) Dates() []time.Time {
	out := make([]time.Time, len(r.Days))
	for i, d := range r.Days {
		out[i] = d.Date
	}
	return out
}

// PnL returns the daily P&L series.
func (r *Result) PnL() []float64 {
	out := make([]float64, len(r.Days))
	for i, d := range r.Days {
		out[i] = d.DailyPnL
	}
	return out
}

// Turnover returns the daily turnover series.
func (r *Result) Turnover() []float64 {
	out := make([]float64, len(r.Days))
	for i, d := range r.Days {
		out[i] = d.Turnover
	}
	return out
}

// Equity returns the equity curve.
func (r *Result) Equity() []float64 {
	out := make([]float64, len(r.Days))
	for i, d := range r.Days {
		out[i] = d.Equity
	}
	return out
}

// RunSummary is the archive listing entry for a run.
type RunSummary struct {
	RunID     string     `json:"run_id"`
	CreatedAt time.Time  `json:"created_at"`
	Params    Params     `json:"params"`
	Window    Window     `json:"window"`
	NDays     int        `json:"n_days"`
	Metrics   RunMetrics `json:"metrics"`
}

// Summary returns the listing entry for r.
func (r *Result) Summary() RunSummary {
	return RunSummary{
		RunID:     r.RunID,
		CreatedAt: r.CreatedAt,
		Params:    r.Params,
		Window:    r.Window,
		NDays:     r.NDays(),
		Metrics:   r.Metrics,
	}
}
