// Package export renders query results as CSV or XLSX tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/tealeg/xlsx/v2"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

const sheetName = "results"

// Table is the tabular form shared by every export format: a label column,
// the sorted union of statistic names, then lat/lon when any result carries
// a point.
type Table struct {
	Stats     []string
	WithPoint bool
	results   []model.Result
}

func NewTable(results []model.Result) (*Table, error) {
	if len(results) == 0 {
		return nil, model.Invalidf("no results")
	}
	seen := map[string]struct{}{}
	t := &Table{results: results}
	for _, r := range results {
		for k := range r.Stats {
			if strings.HasPrefix(k, "_") {
				continue
			}
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				t.Stats = append(t.Stats, k)
			}
		}
		if r.Point != nil {
			t.WithPoint = true
		}
	}
	sort.Strings(t.Stats)
	return t, nil
}

func (t *Table) Header() []string {
	h := append([]string{"label"}, t.Stats...)
	if t.WithPoint {
		h = append(h, "lat", "lon")
	}
	return h
}

// Rows returns the cells of each result; nil marks an empty cell.
func (t *Table) Rows() [][]*float64 {
	out := make([][]*float64, len(t.results))
	for i, r := range t.results {
		row := make([]*float64, 0, len(t.Stats)+2)
		for _, k := range t.Stats {
			row = append(row, r.Stats[k])
		}
		if t.WithPoint {
			if r.Point != nil {
				row = append(row, model.Float(r.Point.Lat), model.Float(r.Point.Lon))
			} else {
				row = append(row, nil, nil)
			}
		}
		out[i] = row
	}
	return out
}

func (t *Table) Label(i int) string { return t.results[i].Label }

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func CSV(w io.Writer, results []model.Result) error {
	t, err := NewTable(results)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, cells := range t.Rows() {
		rec := make([]string, 0, len(cells)+1)
		rec = append(rec, t.Label(i))
		for _, c := range cells {
			rec = append(rec, formatNumber(c))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// CSVString is CSV into a string, the shape of the JSON export endpoint.
func CSVString(results []model.Result) (string, error) {
	var b strings.Builder
	if err := CSV(&b, results); err != nil {
		return "", err
	}
	return b.String(), nil
}

func XLSX(w io.Writer, results []model.Result) error {
	t, err := NewTable(results)
	if err != nil {
		return err
	}
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	hdr := sheet.AddRow()
	for _, h := range t.Header() {
		hdr.AddCell().SetString(h)
	}
	for i, cells := range t.Rows() {
		row := sheet.AddRow()
		row.AddCell().SetString(t.Label(i))
		for _, c := range cells {
			cell := row.AddCell()
			if c != nil {
				cell.SetFloat(*c)
			}
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
