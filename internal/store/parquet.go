package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"quantdash/internal/domain"
)

// Compile-time interface checks.
var (
	_ PriceStore    = (*ParquetStore)(nil)
	_ PanelReplacer = (*ParquetStore)(nil)
)

// ParquetStore implements PriceStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string

	replaceMu sync.Mutex
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// PriceRecord is the Parquet schema for daily close data.
type PriceRecord struct {
	Ticker    string  `parquet:"ticker"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, UTC midnight
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// WritePrices writes points to Parquet files organized by ticker and year.
// Each ticker+year combination produces a separate file at:
//
//	<DataDir>/prices/<TICKER>/<YYYY>.parquet
func (s *ParquetStore) WritePrices(ctx context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	type key struct {
		ticker string
		year   int
	}
	groups := make(map[key][]PriceRecord)
	for _, p := range points {
		k := key{ticker: strings.ToUpper(p.Ticker), year: p.Date.Year()}
		groups[k] = append(groups[k], PriceRecord{
			Ticker:    k.ticker,
			Timestamp: p.Date.UnixMilli(),
			Close:     p.Close,
			Volume:    p.Volume,
		})
	}

	for k, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.pricePath(k.ticker, k.year)

		var existing []PriceRecord
		if _, err := os.Stat(path); err == nil {
			if existing, err = readParquetFile[PriceRecord](path); err != nil {
				return fmt.Errorf("reading prices for %s/%d: %w", k.ticker, k.year, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		merged := mergePriceRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing prices for %s/%d: %w", k.ticker, k.year, err)
		}
	}
	return nil
}

// ReadPrices reads points from Parquet files for the given ticker and date
// range.
func (s *ParquetStore) ReadPrices(_ context.Context, ticker string, start, end time.Time) ([]domain.PricePoint, error) {
	years, err := s.years(ticker)
	if err != nil {
		return nil, err
	}

	var points []domain.PricePoint
	for _, year := range years {
		if !start.IsZero() && year < start.Year() {
			continue
		}
		if !end.IsZero() && year > end.Year() {
			continue
		}
		records, err := readParquetFile[PriceRecord](s.pricePath(ticker, year))
		if err != nil {
			return nil, fmt.Errorf("reading prices for %s/%d: %w", ticker, year, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if !start.IsZero() && ts.Before(start) {
				continue
			}
			if !end.IsZero() && ts.After(end) {
				continue
			}
			points = append(points, domain.PricePoint{
				Date:   ts,
				Ticker: r.Ticker,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	return points, nil
}

// ListTickers lists all tickers that have price data.
func (s *ParquetStore) ListTickers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.priceDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		if e.IsDir() {
			tickers = append(tickers, e.Name())
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// Reset removes the whole price tree.
func (s *ParquetStore) Reset(_ context.Context) error {
	if err := os.RemoveAll(s.priceDir()); err != nil {
		return fmt.Errorf("resetting price store: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole price tree for points. The new tree is built
// under <DataDir>/.staging and renamed into place, so a failed write leaves
// the previous tree intact. Concurrent calls are serialized.
func (s *ParquetStore) ReplaceAll(ctx context.Context, points []domain.PricePoint) error {
	s.replaceMu.Lock()
	defer s.replaceMu.Unlock()

	staging := filepath.Join(s.DataDir, ".staging")
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clearing staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	next := &ParquetStore{DataDir: staging}
	if err := os.MkdirAll(next.priceDir(), 0o755); err != nil {
		return err
	}
	if err := next.WritePrices(ctx, points); err != nil {
		return fmt.Errorf("staging price tree: %w", err)
	}

	live, retired := s.priceDir(), filepath.Join(staging, "retired")
	if err := os.Rename(live, retired); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("retiring price tree: %w", err)
	}
	if err := os.Rename(next.priceDir(), live); err != nil {
		if rerr := os.Rename(retired, live); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return errors.Join(fmt.Errorf("installing price tree: %w", err), rerr)
		}
		return fmt.Errorf("installing price tree: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func (s *ParquetStore) priceDir() string {
	return filepath.Join(s.DataDir, "prices")
}

// pricePath returns the filesystem path for a price Parquet file.
// Layout: <dataDir>/prices/<TICKER>/<YYYY>.parquet
func (s *ParquetStore) pricePath(ticker string, year int) string {
	return filepath.Join(s.priceDir(), strings.ToUpper(ticker), strconv.Itoa(year)+".parquet")
}

// years returns the years with a file for ticker, ascending.
func (s *ParquetStore) years(ticker string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.priceDir(), strings.ToUpper(ticker)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if !ok || e.IsDir() {
			continue
		}
		if y, err := strconv.Atoi(name); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergePriceRecords deduplicates records by (ticker, timestamp), preferring
// incoming records over existing ones. Results are sorted by timestamp.
func mergePriceRecords(existing, incoming []PriceRecord) []PriceRecord {
	type key struct {
		ticker string
		ts     int64
	}
	seen := make(map[key]PriceRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Ticker, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Ticker, r.Timestamp}] = r
	}

	merged := make([]PriceRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
