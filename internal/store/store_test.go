package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quantdash/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.pricePath("aapl", 2024)
	want := filepath.Join("/data", "prices", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("pricePath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadPrices(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	points := []domain.PricePoint{
		{Date: day(2023, 12, 29), Ticker: "AAPL", Close: 192.5, Volume: 42e6},
		{Date: day(2024, 1, 3), Ticker: "AAPL", Close: 184.25, Volume: 58e6},
		{Date: day(2024, 1, 2), Ticker: "AAPL", Close: 185.5, Volume: 50e6},
		{Date: day(2024, 1, 2), Ticker: "MSFT", Close: 370.0, Volume: 25e6},
	}
	if err := ps.WritePrices(ctx, points); err != nil {
		t.Fatalf("WritePrices: %v", err)
	}

	got, err := ps.ReadPrices(ctx, "AAPL", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadPrices: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadPrices returned %d points, want 3", len(got))
	}
	if !got[0].Date.Equal(day(2023, 12, 29)) || !got[2].Date.Equal(day(2024, 1, 3)) {
		t.Errorf("points not in date order: %+v", got)
	}
	if got[1].Close != 185.5 || got[1].Volume != 50e6 {
		t.Errorf("point = %+v, want close 185.5 volume 5e7", got[1])
	}

	ranged, err := ps.ReadPrices(ctx, "AAPL", day(2024, 1, 1), day(2024, 1, 2))
	if err != nil {
		t.Fatalf("ReadPrices range: %v", err)
	}
	if len(ranged) != 1 || ranged[0].Close != 185.5 {
		t.Errorf("ranged read = %+v, want the 2024-01-02 point", ranged)
	}

	// Overwrite one point; merge keeps the newest value.
	if err := ps.WritePrices(ctx, []domain.PricePoint{{Date: day(2024, 1, 2), Ticker: "AAPL", Close: 186}}); err != nil {
		t.Fatalf("WritePrices merge: %v", err)
	}
	got, _ = ps.ReadPrices(ctx, "AAPL", day(2024, 1, 2), day(2024, 1, 2))
	if len(got) != 1 || got[0].Close != 186 {
		t.Errorf("after merge = %+v, want close 186", got)
	}

	tickers, err := ps.ListTickers(ctx)
	if err != nil {
		t.Fatalf("ListTickers: %v", err)
	}
	if len(tickers) != 2 || tickers[0] != "AAPL" || tickers[1] != "MSFT" {
		t.Errorf("ListTickers = %v, want [AAPL MSFT]", tickers)
	}

	all, err := ReadPanelPoints(ctx, ps, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadPanelPoints: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ReadPanelPoints returned %d points, want 4", len(all))
	}

	if err := ReplacePanel(ctx, ps, []domain.PricePoint{{Date: day(2024, 2, 1), Ticker: "NVDA", Close: 600}}); err != nil {
		t.Fatalf("ReplacePanel: %v", err)
	}
	tickers, _ = ps.ListTickers(ctx)
	if len(tickers) != 1 || tickers[0] != "NVDA" {
		t.Errorf("after ReplacePanel tickers = %v, want [NVDA]", tickers)
	}
}

func TestReplacePanelFailureKeepsPreviousTree(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	old := []domain.PricePoint{
		{Date: day(2024, 1, 2), Ticker: "AAPL", Close: 185.5},
		{Date: day(2024, 1, 3), Ticker: "AAPL", Close: 184.25},
	}
	if err := ReplacePanel(ctx, ps, old); err != nil {
		t.Fatalf("ReplacePanel: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := ReplacePanel(cancelled, ps, []domain.PricePoint{{Date: day(2024, 2, 1), Ticker: "NVDA", Close: 600}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ReplacePanel(cancelled) = %v, want context.Canceled", err)
	}

	got, err := ReadPanelPoints(ctx, ps, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadPanelPoints: %v", err)
	}
	if len(got) != 2 || got[0].Ticker != "AAPL" {
		t.Errorf("after failed replace = %+v, want the two AAPL points", got)
	}
	if _, err := os.Stat(filepath.Join(dir, ".staging")); !os.IsNotExist(err) {
		t.Errorf("staging dir left behind: %v", err)
	}

	if err := ReplacePanel(ctx, ps, nil); err != nil {
		t.Fatalf("ReplacePanel(nil): %v", err)
	}
	if tickers, _ := ps.ListTickers(ctx); len(tickers) != 0 {
		t.Errorf("after empty replace tickers = %v, want none", tickers)
	}
}

func TestReplacePanelConcurrent(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pts := []domain.PricePoint{
				{Date: day(2024, 1, 2), Ticker: fmt.Sprintf("T%d", i), Close: 10},
				{Date: day(2024, 1, 3), Ticker: fmt.Sprintf("T%d", i), Close: 11},
			}
			errs[i] = ReplacePanel(ctx, ps, pts)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("ReplacePanel %d: %v", i, err)
		}
	}

	tickers, err := ps.ListTickers(ctx)
	if err != nil {
		t.Fatalf("ListTickers: %v", err)
	}
	if len(tickers) != 1 {
		t.Errorf("tickers after concurrent replaces = %v, want exactly one panel", tickers)
	}
}

func TestParquetStoreEmpty(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	tickers, err := ps.ListTickers(ctx)
	if err != nil || len(tickers) != 0 {
		t.Errorf("ListTickers on empty store = %v, %v", tickers, err)
	}
	pts, err := ps.ReadPrices(ctx, "NONE", time.Time{}, time.Time{})
	if err != nil || len(pts) != 0 {
		t.Errorf("ReadPrices on empty store = %v, %v", pts, err)
	}
	if err := ps.Reset(ctx); err != nil {
		t.Errorf("Reset on empty store: %v", err)
	}
}

func sameJSON(t *testing.T, a, b any) bool {
	t.Helper()
	ja, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	jb, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return string(ja) == string(jb)
}

func testResult(id string, created time.Time) *domain.Result {
	p := domain.DefaultParams()
	p.StartDate = day(2024, 1, 1)
	return &domain.Result{
		RunID:     id,
		CreatedAt: created,
		Params:    p,
		Window: domain.Window{
			PanelStart: day(2024, 1, 1), PanelEnd: day(2024, 1, 5),
			Start: day(2024, 1, 3), End: day(2024, 1, 5),
		},
		Tickers: 3,
		Days: []domain.DailyResult{
			{Date: day(2024, 1, 3), DailyPnL: -0.001, Turnover: 0.04, Equity: 0.999},
			{Date: day(2024, 1, 4), DailyPnL: 0.002, Turnover: 0, Equity: 0.999 * 1.002},
		},
		Metrics: domain.RunMetrics{CAGR: 0.1, Volatility: 0.2, Sharpe: math.NaN(), MaxDrawdown: -0.001, HitRate: 0.5, AvgTurnover: 0.02},
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	older := testResult("aaaa1111", base)
	newer := testResult("bbbb2222", base.Add(time.Minute))
	for _, r := range []*domain.Result{older, newer} {
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.RunID, err)
		}
	}

	got, err := s.GetRun(ctx, "aaaa1111")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.NDays() != 2 || got.Days[1].Equity != older.Days[1].Equity {
		t.Errorf("GetRun days = %+v, want %+v", got.Days, older.Days)
	}
	if !got.Days[0].Date.Equal(day(2024, 1, 3)) {
		t.Errorf("first day = %v, want 2024-01-03", got.Days[0].Date)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if !sameJSON(t, got.Params, older.Params) {
		t.Errorf("Params = %+v, want %+v", got.Params, older.Params)
	}
	if !got.Window.Start.Equal(older.Window.Start) || !got.Window.PanelEnd.Equal(older.Window.PanelEnd) {
		t.Errorf("Window = %+v, want %+v", got.Window, older.Window)
	}
	if got.Tickers != 3 {
		t.Errorf("Tickers = %d, want 3", got.Tickers)
	}
	if !math.IsNaN(got.Metrics.Sharpe) || got.Metrics.CAGR != 0.1 {
		t.Errorf("Metrics = %+v, want NaN Sharpe and CAGR 0.1", got.Metrics)
	}

	list, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "bbbb2222" {
		t.Errorf("ListRuns = %+v, want newest first", list)
	}
	if list[1].NDays != 2 {
		t.Errorf("summary NDays = %d, want 2", list[1].NDays)
	}
	if limited, _ := s.ListRuns(ctx, 1); len(limited) != 1 {
		t.Errorf("ListRuns(1) returned %d", len(limited))
	}

	if err := s.SaveRun(ctx, older); err == nil {
		t.Error("SaveRun with duplicate id should fail")
	}

	if err := s.DeleteRun(ctx, "aaaa1111"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(ctx, "aaaa1111"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetRun after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteRun(ctx, "aaaa1111"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("DeleteRun twice = %v, want ErrNotFound", err)
	}
}
