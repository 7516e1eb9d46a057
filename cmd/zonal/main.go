// Command zonal runs zonal statistics queries against local GeoTIFF files.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/zonalstats/internal/core/config"
	"github.com/mohammed-shakir/zonalstats/internal/logger"
)

var (
	cfg    config.Config
	appLog *slog.Logger

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "zonal",
	Short:         "Zonal statistics over GeoTIFF rasters",
	Long:          "Computes statistics of a raster band over circles, distance bands, rectangles and multi-point comparisons.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		zl := logger.Build(logger.Config{
			Level:     logLevel,
			Console:   true,
			Service:   "zonal",
			Component: cmd.Name(),
		}, os.Stderr)
		appLog = logger.NewSlog(&zl)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
