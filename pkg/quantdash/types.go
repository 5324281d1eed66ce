package quantdash

import (
	"fmt"
	"time"
)

// Params are backtest run parameters. Nil fields take the server defaults.
type Params struct {
	StartDate   string   `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate     string   `json:"end_date,omitempty"`   // YYYY-MM-DD
	Window      *int     `json:"window,omitempty"`
	Gap         *int     `json:"gap,omitempty"`
	Quantile    *float64 `json:"quantile,omitempty"`
	MaxPosition *float64 `json:"max_position,omitempty"`
	CostBps     *float64 `json:"cost_bps,omitempty"`
	Signal      string   `json:"signal,omitempty"`
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Window is the date span a run used.
type Window struct {
	PanelStart string `json:"panel_start"`
	PanelEnd   string `json:"panel_end"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

// Day is one row of a run's daily output.
type Day struct {
	Date     string  `json:"date"`
	DailyPnL float64 `json:"daily_pnl"`
	Turnover float64 `json:"turnover"`
	Equity   float64 `json:"equity"`
}

// Metrics are a run's summary statistics. A nil field is undefined, e.g.
// Sharpe when the P&L has no variance.
type Metrics struct {
	CAGR        *float64 `json:"cagr"`
	Volatility  *float64 `json:"vol"`
	Sharpe      *float64 `json:"sharpe"`
	MaxDrawdown *float64 `json:"max_dd"`
	HitRate     *float64 `json:"hit_rate"`
	AvgTurnover *float64 `json:"avg_turn"`
}

// Result is the output bundle of one run.
type Result struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Params    Params    `json:"params"`
	Window    Window    `json:"window"`
	Tickers   int       `json:"tickers"`
	Days      []Day     `json:"days"`
	Metrics   Metrics   `json:"metrics"`
}

// RunSummary is an archive listing entry.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Params    Params    `json:"params"`
	Window    Window    `json:"window"`
	NDays     int       `json:"n_days"`
	Metrics   Metrics   `json:"metrics"`
}

// PanelSummary describes the server's current price panel.
type PanelSummary struct {
	Rows    int      `json:"rows"`
	Tickers []string `json:"tickers"`
	Dates   int      `json:"dates"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
}

// UploadResult is returned when the panel is replaced.
type UploadResult struct {
	Panel   PanelSummary `json:"panel"`
	Rows    int          `json:"rows_read"`
	Dropped int          `json:"rows_dropped"`
	Errors  []string     `json:"errors"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Kind    string // e.g. "malformed_row", "empty_panel", "not_found"
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quantdash: %d %s: %s", e.Status, e.Kind, e.Message)
}
