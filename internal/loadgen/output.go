package loadgen

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// SampleWriter streams samples as CSV rows.
type SampleWriter struct {
	cw *csv.Writer
}

func NewSampleWriter(w io.Writer) (*SampleWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "latency_ms", "status", "cache", "error", "centre_idx", "lat", "lon"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &SampleWriter{cw: cw}, nil
}

func (w *SampleWriter) Write(s Sample) {
	_ = w.cw.Write([]string{
		s.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(float64(s.Latency.Microseconds())/1000.0, 'f', 3, 64),
		strconv.Itoa(s.Status),
		s.Cache,
		s.Err,
		strconv.Itoa(s.Index),
		strconv.FormatFloat(s.Centre.Lat, 'f', 6, 64),
		strconv.FormatFloat(s.Centre.Lon, 'f', 6, 64),
	})
}

func (w *SampleWriter) Flush() error {
	w.cw.Flush()
	return w.cw.Error()
}

func WriteSummary(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
