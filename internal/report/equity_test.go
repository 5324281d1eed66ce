package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"quantdash/internal/domain"
)

func testDays() []domain.DailyResult {
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return []domain.DailyResult{
		{Date: d, DailyPnL: -0.001, Turnover: 0.04, Equity: 0.999},
		{Date: d.AddDate(0, 0, 1), DailyPnL: 0.0125, Turnover: 0, Equity: 1.0114875},
	}
}

func TestWriteEquityCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEquityCSV(&buf, testDays()); err != nil {
		t.Fatalf("WriteEquityCSV: %v", err)
	}
	want := "date,daily_pnl,equity\n" +
		"2024-01-02,-0.001,0.999\n" +
		"2024-01-03,0.0125,1.0114875\n"
	if got := buf.String(); got != want {
		t.Errorf("csv =\n%s\nwant\n%s", got, want)
	}
}

func TestWriteEquityCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEquityCSV(&buf, nil); err != nil {
		t.Fatalf("WriteEquityCSV: %v", err)
	}
	if got := buf.String(); got != "date,daily_pnl,equity\n" {
		t.Errorf("csv = %q, want header only", got)
	}
}

func TestEquityParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "equity.parquet")
	days := testDays()
	if err := WriteEquityParquet(path, days); err != nil {
		t.Fatalf("WriteEquityParquet: %v", err)
	}
	got, err := ReadEquityParquet(path)
	if err != nil {
		t.Fatalf("ReadEquityParquet: %v", err)
	}
	if len(got) != len(days) {
		t.Fatalf("read %d rows, want %d", len(got), len(days))
	}
	for i := range days {
		if !got[i].Date.Equal(days[i].Date) || got[i].Equity != days[i].Equity || got[i].Turnover != days[i].Turnover {
			t.Errorf("row %d = %+v, want %+v", i, got[i], days[i])
		}
	}
}
