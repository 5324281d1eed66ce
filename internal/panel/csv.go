package panel

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"quantdash/internal/domain"
)

// Required column names of the long-format price table.
var requiredColumns = []string{"date", "ticker", "close", "volume"}

// ReadCSV reads a long-format price table. Columns are located by header
// name, so their order does not matter and extra columns are ignored.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.ErrEmptyPanel
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			return nil, &domain.MalformedRowError{
				Line:   1,
				Field:  c,
				Value:  strings.Join(header, ","),
				Reason: "missing required column (need date,ticker,close,volume)",
			}
		}
	}

	field := func(rec []string, name string) string {
		i := idx[name]
		if i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		rows = append(rows, Row{
			Line:   line,
			Date:   field(rec, "date"),
			Ticker: field(rec, "ticker"),
			Close:  field(rec, "close"),
			Volume: field(rec, "volume"),
		})
	}
	return rows, nil
}

// LoadCSV is ReadCSV followed by Load.
func LoadCSV(r io.Reader, opts Options) (*domain.Panel, *Report, error) {
	rows, err := ReadCSV(r)
	if err != nil {
		return nil, nil, err
	}
	return Load(rows, opts)
}

// WriteCSV writes points as date,ticker,close,volume.
func WriteCSV(w io.Writer, points []domain.PricePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(requiredColumns); err != nil {
		return err
	}
	for _, pt := range points {
		if err := cw.Write([]string{
			pt.Date.Format(domain.DateLayout),
			pt.Ticker,
			strconv.FormatFloat(pt.Close, 'f', -1, 64),
			strconv.FormatFloat(pt.Volume, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
