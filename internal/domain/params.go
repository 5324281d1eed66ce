package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SignalMomentum is the name of the built-in momentum signal.
const SignalMomentum = "momentum"

// Params is the parameter bundle of a single backtest run.
type Params struct {
	StartDate   time.Time // inclusive; zero means unbounded
	EndDate     time.Time // inclusive; zero means unbounded
	Window      int
	Gap         int
	Quantile    float64
	MaxPosition float64
	CostBps     float64
	Signal      string
}

// DefaultParams returns the dashboard defaults.
func DefaultParams() Params {
	return Params{
		Window:      60,
		Gap:         5,
		Quantile:    0.2,
		MaxPosition: 0.02,
		CostBps:     10,
		Signal:      SignalMomentum,
	}
}

// Validate checks every field against its allowed range.
func (p Params) Validate() error {
	switch {
	case p.Window < 1:
		return &ParamError{Field: "window", Reason: fmt.Sprintf("must be >= 1, got %d", p.Window)}
	case p.Gap < 0:
		return &ParamError{Field: "gap", Reason: fmt.Sprintf("must be >= 0, got %d", p.Gap)}
	case math.IsNaN(p.Quantile) || p.Quantile <= 0 || p.Quantile > 0.5:
		return &ParamError{Field: "quantile", Reason: fmt.Sprintf("must be in (0, 0.5], got %v", p.Quantile)}
	case math.IsNaN(p.MaxPosition) || math.IsInf(p.MaxPosition, 0) || p.MaxPosition <= 0:
		return &ParamError{Field: "max_position", Reason: fmt.Sprintf("must be > 0, got %v", p.MaxPosition)}
	case math.IsNaN(p.CostBps) || math.IsInf(p.CostBps, 0) || p.CostBps < 0:
		return &ParamError{Field: "cost_bps", Reason: fmt.Sprintf("must be >= 0, got %v", p.CostBps)}
	case !p.StartDate.IsZero() && !p.EndDate.IsZero() && p.EndDate.Before(p.StartDate):
		return &ParamError{Field: "end_date", Reason: "must not be before start_date"}
	}
	return nil
}

// paramsJSON is the wire form of Params. Dates are YYYY-MM-DD strings and
// may be empty.
type paramsJSON struct {
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	Window      *int     `json:"window,omitempty"`
	Gap         *int     `json:"gap,omitempty"`
	Quantile    *float64 `json:"quantile,omitempty"`
	MaxPosition *float64 `json:"max_position,omitempty"`
	CostBps     *float64 `json:"cost_bps,omitempty"`
	Signal      string   `json:"signal,omitempty"`
}

// MarshalJSON writes every field, dates as YYYY-MM-DD.
func (p Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(paramsJSON{
		StartDate:   formatDate(p.StartDate),
		EndDate:     formatDate(p.EndDate),
		Window:      &p.Window,
		Gap:         &p.Gap,
		Quantile:    &p.Quantile,
		MaxPosition: &p.MaxPosition,
		CostBps:     &p.CostBps,
		Signal:      p.Signal,
	})
}

// paramsInput is the decoding form of Params. Dates stay raw so an absent
// key can be told apart from an explicit null.
type paramsInput struct {
	StartDate   json.RawMessage `json:"start_date"`
	EndDate     json.RawMessage `json:"end_date"`
	Window      *int            `json:"window"`
	Gap         *int            `json:"gap"`
	Quantile    *float64        `json:"quantile"`
	MaxPosition *float64        `json:"max_position"`
	CostBps     *float64        `json:"cost_bps"`
	Signal      string          `json:"signal"`
}

// UnmarshalJSON overlays the decoded fields on the receiver, so callers can
// start from DefaultParams and decode a partial request on top of it. A date
// given as null or "" clears the bound.
func (p *Params) UnmarshalJSON(data []byte) error {
	var aux paramsInput
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := overlayDate(&p.StartDate, aux.StartDate, "start_date"); err != nil {
		return err
	}
	if err := overlayDate(&p.EndDate, aux.EndDate, "end_date"); err != nil {
		return err
	}
	if aux.Window != nil {
		p.Window = *aux.Window
	}
	if aux.Gap != nil {
		p.Gap = *aux.Gap
	}
	if aux.Quantile != nil {
		p.Quantile = *aux.Quantile
	}
	if aux.MaxPosition != nil {
		p.MaxPosition = *aux.MaxPosition
	}
	if aux.CostBps != nil {
		p.CostBps = *aux.CostBps
	}
	if aux.Signal != "" {
		p.Signal = aux.Signal
	}
	return nil
}

// overlayDate applies a raw date value to dst. An absent value keeps dst.
func overlayDate(dst *time.Time, raw json.RawMessage, field string) error {
	if len(raw) == 0 {
		return nil
	}
	if string(raw) == "null" {
		*dst = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return &ParamError{Field: field, Reason: "must be a YYYY-MM-DD string"}
	}
	if s == "" {
		*dst = time.Time{}
		return nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return &ParamError{Field: field, Reason: err.Error()}
	}
	*dst = t
	return nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
