// Package panel turns raw long-format price rows (date, ticker, close,
// volume) into a validated, per-ticker sorted domain.Panel.
package panel

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quantdash/internal/domain"
)

// Row is one raw input record. Line is the 1-based source line used in
// error reports (the CSV header is line 1).
type Row struct {
	Line   int
	Date   string
	Ticker string
	Close  string
	Volume string
}

// Options controls how tolerant Load is of bad rows.
type Options struct {
	// Lenient drops malformed rows instead of failing the load. Duplicate
	// (date, ticker) pairs are fatal either way.
	Lenient bool
}

// maxReportedErrors caps how many dropped-row errors a Report keeps.
const maxReportedErrors = 20

// Report describes what Load did with its input.
type Report struct {
	Rows    int // rows read
	Kept    int // rows in the panel
	Dropped int // malformed rows skipped in lenient mode
	Errors  []*domain.MalformedRowError
}

var dateLayouts = []string{
	domain.DateLayout,
	"2006/01/02",
	"20060102",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseDate parses s in any supported layout and truncates it to a UTC
// calendar day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date format")
}

// ParseRow validates a single raw row.
func ParseRow(r Row) (domain.PricePoint, error) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return domain.PricePoint{}, &domain.MalformedRowError{Line: r.Line, Field: "date", Value: r.Date, Reason: err.Error()}
	}

	ticker := strings.ToUpper(strings.TrimSpace(r.Ticker))
	if ticker == "" {
		return domain.PricePoint{}, &domain.MalformedRowError{Line: r.Line, Field: "ticker", Value: r.Ticker, Reason: "empty ticker"}
	}

	closePx, err := parseNumber(r.Close)
	if err != nil {
		return domain.PricePoint{}, &domain.MalformedRowError{Line: r.Line, Field: "close", Value: r.Close, Reason: err.Error()}
	}
	if closePx <= 0 {
		return domain.PricePoint{}, &domain.MalformedRowError{Line: r.Line, Field: "close", Value: r.Close, Reason: "close must be positive"}
	}

	var volume float64
	if strings.TrimSpace(r.Volume) != "" {
		volume, err = parseNumber(r.Volume)
		if err != nil {
			return domain.PricePoint{}, &domain.MalformedRowError{Line: r.Line, Field: "volume", Value: r.Volume, Reason: err.Error()}
		}
		if volume < 0 {
			return domain.PricePoint{}, &domain.MalformedRowError{Line: r.Line, Field: "volume", Value: r.Volume, Reason: "volume must not be negative"}
		}
	}

	return domain.PricePoint{Date: date, Ticker: ticker, Close: closePx, Volume: volume}, nil
}

func parseNumber(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

// Load validates rows and builds a panel. In strict mode the first
// malformed row aborts the load; in lenient mode malformed rows are dropped
// and counted. A duplicate (date, ticker) pair always fails with
// *domain.DuplicateRowError, and an empty result fails with
// domain.ErrEmptyPanel.
func Load(rows []Row, opts Options) (*domain.Panel, *Report, error) {
	rep := &Report{Rows: len(rows)}
	points := make([]domain.PricePoint, 0, len(rows))
	lines := make([]int, 0, len(rows))

	for _, r := range rows {
		pt, err := ParseRow(r)
		if err != nil {
			mre := err.(*domain.MalformedRowError)
			if !opts.Lenient {
				return nil, rep, mre
			}
			rep.Dropped++
			if len(rep.Errors) < maxReportedErrors {
				rep.Errors = append(rep.Errors, mre)
			}
			continue
		}
		points = append(points, pt)
		lines = append(lines, r.Line)
	}

	p, err := build(points, lines)
	if err != nil {
		return nil, rep, err
	}
	rep.Kept = p.Rows()
	return p, rep, nil
}

// FromPoints builds a panel from already-typed points, applying the same
// duplicate and emptiness checks as Load.
func FromPoints(points []domain.PricePoint) (*domain.Panel, error) {
	for _, pt := range points {
		if pt.Close <= 0 || math.IsNaN(pt.Close) || math.IsInf(pt.Close, 0) {
			return nil, &domain.MalformedRowError{Field: "close", Value: fmt.Sprint(pt.Close), Reason: "close must be positive"}
		}
	}
	return build(points, nil)
}

func build(points []domain.PricePoint, lines []int) (*domain.Panel, error) {
	if len(points) == 0 {
		return nil, domain.ErrEmptyPanel
	}

	type key struct {
		ticker string
		date   int64
	}
	seen := make(map[key]int, len(points))
	series := make(map[string]*domain.PriceSeries)
	dateSet := make(map[int64]time.Time)

	for i, pt := range points {
		k := key{pt.Ticker, pt.Date.Unix()}
		if j, dup := seen[k]; dup {
			e := &domain.DuplicateRowError{Ticker: pt.Ticker, Date: pt.Date}
			if lines != nil {
				e.Lines = [2]int{lines[j], lines[i]}
			}
			return nil, e
		}
		seen[k] = i

		s, ok := series[pt.Ticker]
		if !ok {
			s = &domain.PriceSeries{Ticker: pt.Ticker}
			series[pt.Ticker] = s
		}
		s.Points = append(s.Points, pt)
		dateSet[k.date] = pt.Date
	}

	p := &domain.Panel{Series: series}
	for t, s := range series {
		sort.Slice(s.Points, func(i, j int) bool { return s.Points[i].Date.Before(s.Points[j].Date) })
		p.Tickers = append(p.Tickers, t)
	}
	sort.Strings(p.Tickers)

	for _, d := range dateSet {
		p.Dates = append(p.Dates, d)
	}
	sort.Slice(p.Dates, func(i, j int) bool { return p.Dates[i].Before(p.Dates[j]) })
	return p, nil
}
