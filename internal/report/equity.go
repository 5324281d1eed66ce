// Package report exports a run's daily results. The CSV layout
// date,daily_pnl,equity is a fixed contract for downstream consumers.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"quantdash/internal/domain"
)

// EquityHeader is the exact column layout of the equity export.
var EquityHeader = []string{"date", "daily_pnl", "equity"}

// WriteEquityCSV writes days as date,daily_pnl,equity. Dates are
// YYYY-MM-DD and floats use the shortest exact decimal form.
func WriteEquityCSV(w io.Writer, days []domain.DailyResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EquityHeader); err != nil {
		return err
	}
	for _, d := range days {
		if err := cw.Write([]string{
			d.Date.Format(domain.DateLayout),
			formatFloat(d.DailyPnL),
			formatFloat(d.Equity),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// EquityRecord is the Parquet schema of the equity export.
type EquityRecord struct {
	Date     string  `parquet:"date"`
	DailyPnL float64 `parquet:"daily_pnl"`
	Equity   float64 `parquet:"equity"`
	Turnover float64 `parquet:"turnover"`
}

// WriteEquityParquet writes days to a Parquet file at path with the same
// leading columns as the CSV export plus turnover.
func WriteEquityParquet(path string, days []domain.DailyResult) error {
	records := make([]EquityRecord, len(days))
	for i, d := range days {
		records[i] = EquityRecord{
			Date:     d.Date.Format(domain.DateLayout),
			DailyPnL: d.DailyPnL,
			Equity:   d.Equity,
			Turnover: d.Turnover,
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing equity parquet %s: %w", path, err)
	}
	return nil
}

// ReadEquityParquet reads a file written by WriteEquityParquet.
func ReadEquityParquet(path string) ([]domain.DailyResult, error) {
	records, err := parquet.ReadFile[EquityRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading equity parquet %s: %w", path, err)
	}
	out := make([]domain.DailyResult, len(records))
	for i, r := range records {
		d, err := time.Parse(domain.DateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("equity parquet %s row %d: %w", path, i, err)
		}
		out[i] = domain.DailyResult{Date: d, DailyPnL: r.DailyPnL, Turnover: r.Turnover, Equity: r.Equity}
	}
	return out, nil
}
