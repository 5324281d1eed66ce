package util

import (
	"time"
)

// TradingCalendar is a weekday calendar for daily bars. It has no holiday
// table: every Monday to Friday counts as a session, which matches how
// synthetic panels and business-day ranges are generated.
type TradingCalendar struct{}

// NewTradingCalendar creates a weekday TradingCalendar.
func NewTradingCalendar() *TradingCalendar {
	return &TradingCalendar{}
}

// IsTradingDay reports whether t falls on a weekday.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// Next returns the first trading day strictly after t, as a UTC midnight.
func (tc *TradingCalendar) Next(t time.Time) time.Time {
	d := truncateDay(t).AddDate(0, 0, 1)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// Prev returns the last trading day strictly before t, as a UTC midnight.
func (tc *TradingCalendar) Prev(t time.Time) time.Time {
	d := truncateDay(t).AddDate(0, 0, -1)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// Sessions returns n consecutive trading days ending at or before end, in
// ascending order.
func (tc *TradingCalendar) Sessions(end time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, n)
	d := truncateDay(end)
	if !tc.IsTradingDay(d) {
		d = tc.Prev(d)
	}
	for i := n - 1; i >= 0; i-- {
		out[i] = d
		d = tc.Prev(d)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
