package export

import (
	"bytes"
	"errors"
	"testing"

	"github.com/tealeg/xlsx/v2"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

func sample() []model.Result {
	return []model.Result{
		{Label: "A", Stats: model.Stats{"sum": model.Float(12.5), "mean": model.Float(2)}, Point: &model.Point{Name: "A", Lat: 59.3, Lon: 18.1}},
		{Label: "B", Stats: model.Stats{"sum": nil, "mean": nil, "_debug": model.Float(1)}, Outside: true},
	}
}

func TestCSV_ColumnsAndNulls(t *testing.T) {
	got, err := CSVString(sample())
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	want := "label,mean,sum,lat,lon\nA,2,12.5,59.3,18.1\nB,,,,\n"
	if got != want {
		t.Fatalf("csv=\n%q\nwant\n%q", got, want)
	}
}

func TestCSV_NoPointColumnsWithoutPoints(t *testing.T) {
	got, err := CSVString([]model.Result{{Label: "r=5 km", Stats: model.Stats{"count": model.Float(3)}}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "label,count\nr=5 km,3\n" {
		t.Fatalf("csv=%q", got)
	}
}

func TestExport_EmptyResults(t *testing.T) {
	if _, err := CSVString(nil); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("csv: %v", err)
	}
	if err := XLSX(&bytes.Buffer{}, nil); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("xlsx: %v", err)
	}
}

func TestXLSX_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := XLSX(&buf, sample()); err != nil {
		t.Fatalf("XLSX: %v", err)
	}
	f, err := xlsx.OpenBinary(buf.Bytes())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sheet, ok := f.Sheet[sheetName]
	if !ok {
		t.Fatalf("sheet %q missing", sheetName)
	}
	if len(sheet.Rows) != 3 {
		t.Fatalf("rows=%d want 3", len(sheet.Rows))
	}
	hdr := sheet.Rows[0].Cells
	if hdr[0].String() != "label" || hdr[2].String() != "sum" || hdr[4].String() != "lon" {
		t.Fatalf("header %v %v %v", hdr[0], hdr[2], hdr[4])
	}
	a := sheet.Rows[1].Cells
	if v, err := a[2].Float(); err != nil || v != 12.5 {
		t.Fatalf("sum cell %v %v", v, err)
	}
	if sheet.Rows[2].Cells[0].String() != "B" {
		t.Fatal("row order changed")
	}
}
