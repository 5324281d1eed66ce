package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyPanel is returned when no usable price rows remain after
	// parsing and date filtering.
	ErrEmptyPanel = errors.New("empty panel: no price rows left after filtering")

	// ErrEmptySeries is returned when a run produces no tradable dates, so
	// there is nothing to compute metrics from.
	ErrEmptySeries = errors.New("empty series: no tradable dates in result")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// MalformedRowError reports an input row whose date, ticker, close or
// volume field could not be parsed or failed validation.
type MalformedRowError struct {
	Line   int    // 1-based input line; header is line 1
	Field  string // "date", "ticker", "close", "volume" or a missing column name
	Value  string
	Reason string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row at line %d: %s %q: %s", e.Line, e.Field, e.Value, e.Reason)
}

// DuplicateRowError reports two rows sharing the same (date, ticker) key.
type DuplicateRowError struct {
	Ticker string
	Date   time.Time
	Lines  [2]int
}

func (e *DuplicateRowError) Error() string {
	return fmt.Sprintf("duplicate row for %s on %s (lines %d and %d)",
		e.Ticker, e.Date.Format(DateLayout), e.Lines[0], e.Lines[1])
}

// ParamError reports an out-of-range backtest parameter.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

// LimitError reports a weight vector that breaks a position limit.
type LimitError struct {
	Date   time.Time
	Ticker string
	Weight float64
	Limit  float64
	Reason string
}

func (e *LimitError) Error() string {
	if e.Ticker == "" {
		return fmt.Sprintf("weight limit breached on %s: %s", e.Date.Format(DateLayout), e.Reason)
	}
	return fmt.Sprintf("weight limit breached on %s: %s weight %.6f exceeds %.6f",
		e.Date.Format(DateLayout), e.Ticker, e.Weight, e.Limit)
}
