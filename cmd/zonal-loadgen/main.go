// Command zonal-loadgen replays skewed circle queries against a running
// zonal-server and writes per-request samples plus a summary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/zonalstats/internal/core/httpclient"
	"github.com/mohammed-shakir/zonalstats/internal/loadgen"
	"github.com/mohammed-shakir/zonalstats/internal/logger"
)

var (
	cfg      loadgen.Config
	timeout  time.Duration
	outPref  string
	appendTS bool
)

var rootCmd = &cobra.Command{
	Use:           "zonal-loadgen",
	Short:         "Load generator for the zonal statistics API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		zl := logger.Build(logger.Config{Level: "info", Console: true, Service: "zonal-loadgen"}, os.Stderr)
		log := logger.NewSlog(&zl)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := httpclient.NewOutbound(timeout, cfg.Concurrency)
		info, err := loadgen.FetchRaster(ctx, client, cfg.Target, cfg.RasterID)
		if err != nil {
			return err
		}

		prefix := outPref
		if appendTS {
			prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
		}
		if err := os.MkdirAll(filepath.Dir(prefix), 0o750); err != nil {
			return fmt.Errorf("mkdir results: %w", err)
		}
		csvPath, jsonPath := prefix+"_samples.csv", prefix+"_summary.json"

		csvFile, err := os.Create(filepath.Clean(csvPath))
		if err != nil {
			return fmt.Errorf("create samples: %w", err)
		}
		defer func() { _ = csvFile.Close() }()
		sw, err := loadgen.NewSampleWriter(csvFile)
		if err != nil {
			return err
		}

		log.Info("loadgen start",
			"target", cfg.Target, "raster_id", cfg.RasterID, "duration", cfg.Duration,
			"concurrency", cfg.Concurrency, "zipf_s", cfg.ZipfS, "centres", cfg.Centres)

		sum, err := loadgen.Run(ctx, cfg, client, info.Bounds, sw.Write)
		if err != nil {
			return err
		}
		if err := sw.Flush(); err != nil {
			return fmt.Errorf("flush samples: %w", err)
		}

		jsonFile, err := os.Create(filepath.Clean(jsonPath))
		if err != nil {
			return fmt.Errorf("create summary: %w", err)
		}
		defer func() { _ = jsonFile.Close() }()
		if err := loadgen.WriteSummary(jsonFile, sum); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}

		log.Info("loadgen done",
			"total", sum.TotalRequests, "errors", sum.ErrorCount,
			"rps", sum.ThroughputRPS, "p50_ms", sum.P50Ms, "p95_ms", sum.P95Ms, "p99_ms", sum.P99Ms,
			"hit_ratio", sum.HitRatio, "samples", csvPath, "summary", jsonPath)
		return nil
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfg.Target, "target", "http://localhost:8964", "server base URL")
	f.StringVar(&cfg.RasterID, "raster", "", "raster id to query")
	f.Float64Var(&cfg.RadiusKM, "radius", 2, "circle radius in km")
	f.StringSliceVar(&cfg.Stats, "stats", []string{"mean"}, "statistics to request")
	f.IntVar(&cfg.Concurrency, "concurrency", 32, "concurrent workers")
	f.DurationVar(&cfg.Duration, "duration", 60*time.Second, "test duration")
	f.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	f.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	f.IntVar(&cfg.Centres, "centres", 128, "distinct query centres in the pool")
	f.Int64Var(&cfg.Seed, "seed", 0, "random seed (0 = time based)")
	f.DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
	f.StringVar(&outPref, "out", "results/zonal", "output file prefix")
	f.BoolVar(&appendTS, "append-ts", true, "append a UTC timestamp to the output prefix")
	_ = rootCmd.MarkFlagRequired("raster")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
