package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

type Config struct {
	// Target is the server base URL, e.g. http://localhost:8964.
	Target      string
	RasterID    string
	RadiusKM    float64
	Stats       []string
	Concurrency int
	Duration    time.Duration
	ZipfS       float64
	ZipfV       float64
	Centres     int
	Seed        int64
}

// Sample is one request.
type Sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Cache     string
	Err       string
	Index     int
	Centre    model.Point
}

func (s Sample) OK() bool { return s.Err == "" && s.Status >= 200 && s.Status < 300 }

type Summary struct {
	StartTime     time.Time        `json:"start"`
	EndTime       time.Time        `json:"end"`
	DurationSec   float64          `json:"duration_sec"`
	TotalRequests int64            `json:"total"`
	SuccessCount  int64            `json:"success"`
	ErrorCount    int64            `json:"errors"`
	ThroughputRPS float64          `json:"throughput_rps"`
	P50Ms         float64          `json:"p50_ms"`
	P95Ms         float64          `json:"p95_ms"`
	P99Ms         float64          `json:"p99_ms"`
	CacheClasses  map[string]int64 `json:"cache_classes"`
	HitRatio      float64          `json:"hit_ratio"`
	Concurrency   int              `json:"concurrency"`
	ZipfS         float64          `json:"zipf_s"`
	ZipfV         float64          `json:"zipf_v"`
	Centres       int              `json:"centres"`
	RadiusKM      float64          `json:"radius_km"`
	Target        string           `json:"target"`
	RasterID      string           `json:"raster_id"`
}

// FetchRaster reads the raster's metadata from the server.
func FetchRaster(ctx context.Context, client *http.Client, target, id string) (model.RasterInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(target, "/")+"/api/rasters/"+id, nil)
	if err != nil {
		return model.RasterInfo{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.RasterInfo{}, fmt.Errorf("get raster: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.RasterInfo{}, fmt.Errorf("get raster: status %d: %s", resp.StatusCode, b)
	}
	var info model.RasterInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return model.RasterInfo{}, fmt.Errorf("decode raster: %w", err)
	}
	return info, nil
}

type collected struct {
	total, success, errors int64
	latMs                  []float64
	classes                map[string]int64
}

// Run issues circle queries around centres inside bounds until cfg.Duration
// elapses or ctx is done. onSample, when set, sees every sample from a
// single goroutine.
func Run(ctx context.Context, cfg Config, client *http.Client, bounds model.Bounds, onSample func(Sample)) (Summary, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	centres := Centres(bounds, cfg.Centres, rand.New(rand.NewSource(seed)))
	if len(centres) == 0 {
		return Summary{}, fmt.Errorf("%w: no query centres for bounds %+v", model.ErrInvalidInput, bounds)
	}
	url := strings.TrimRight(cfg.Target, "/") + "/api/query/circle"

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	samples := make(chan Sample, 4096)
	done := make(chan collected, 1)
	go func() {
		agg := collected{classes: map[string]int64{}}
		for s := range samples {
			agg.total++
			if s.OK() {
				agg.success++
				agg.latMs = append(agg.latMs, float64(s.Latency.Microseconds())/1000.0)
				agg.classes[s.Cache]++
			} else {
				agg.errors++
			}
			if onSample != nil {
				onSample(s)
			}
		}
		done <- agg
	}()

	start := time.Now()
	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			pick := NewPicker(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, len(centres))
			for ctx.Err() == nil {
				idx := pick.Next()
				s := query(ctx, client, url, cfg, idx, centres[idx])
				if ctx.Err() != nil && !s.OK() {
					// cut short by the deadline
					return
				}
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(samples)
	agg := <-done
	end := time.Now()

	sort.Float64s(agg.latMs)
	elapsed := end.Sub(start).Seconds()
	sum := Summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		P50Ms:         finite(Percentile(agg.latMs, 50)),
		P95Ms:         finite(Percentile(agg.latMs, 95)),
		P99Ms:         finite(Percentile(agg.latMs, 99)),
		CacheClasses:  agg.classes,
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Centres:       len(centres),
		RadiusKM:      cfg.RadiusKM,
		Target:        cfg.Target,
		RasterID:      cfg.RasterID,
	}
	if elapsed > 0 {
		sum.ThroughputRPS = float64(agg.total) / elapsed
	}
	if agg.success > 0 {
		sum.HitRatio = float64(agg.classes["full_hit"]) / float64(agg.success)
	}
	return sum, nil
}

// finite maps NaN to 0, which encoding/json cannot encode.
func finite(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func query(ctx context.Context, client *http.Client, url string, cfg Config, idx int, c model.Point) Sample {
	s := Sample{Index: idx, Centre: c}
	body, _ := json.Marshal(map[string]any{
		"raster_id": cfg.RasterID,
		"lat":       c.Lat,
		"lon":       c.Lon,
		"radius_km": cfg.RadiusKM,
		"stats":     cfg.Stats,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.Err = err.Error()
		return s
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	s.Timestamp = time.Now()
	resp, err := client.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.Err = err.Error()
		return s
	}
	s.Status = resp.StatusCode
	s.Cache = resp.Header.Get("X-Cache")
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if !s.OK() {
		s.Err = fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return s
}
