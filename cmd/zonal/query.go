package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/zonalstats/internal/composer"
	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/export"
	"github.com/mohammed-shakir/zonalstats/internal/query"
	"github.com/mohammed-shakir/zonalstats/internal/raster"
	"github.com/mohammed-shakir/zonalstats/internal/region"
	"github.com/mohammed-shakir/zonalstats/internal/registry"
	"github.com/mohammed-shakir/zonalstats/internal/zonal"
)

// queryFlags are shared by every query subcommand.
type queryFlags struct {
	lat, lon float64
	stats    []string
	band     int
	strategy string
	format   string
}

func (f *queryFlags) bind(cmd *cobra.Command, center bool) {
	if center {
		cmd.Flags().Float64Var(&f.lat, "lat", 0, "centre latitude (degrees)")
		cmd.Flags().Float64Var(&f.lon, "lon", 0, "centre longitude (degrees)")
		_ = cmd.MarkFlagRequired("lat")
		_ = cmd.MarkFlagRequired("lon")
	}
	cmd.Flags().StringSliceVar(&f.stats, "stats", []string{"sum"}, "statistics to compute")
	cmd.Flags().IntVar(&f.band, "band", 1, "1-based band index")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "pixel coverage strategy (exact, centroid)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "json", "output format (json, geojson, csv)")
}

func (f *queryFlags) request(kind model.QueryKind) model.QueryRequest {
	return model.QueryRequest{
		Kind:     kind,
		Center:   model.Point{Lat: f.lat, Lon: f.lon},
		Stats:    f.stats,
		Band:     f.band,
		Strategy: strings.ToLower(f.strategy),
	}
}

// openStore loads path into a fresh registry and returns its id.
func openStore(path string) (*registry.Store, model.RasterInfo, error) {
	bands, err := raster.NewBandCache(cfg.BandCacheSize)
	if err != nil {
		return nil, model.RasterInfo{}, err
	}
	reg, err := registry.New(registry.Options{Tombstones: 1, MaxPixels: cfg.RasterMaxPixels, BandCache: bands, Logger: appLog})
	if err != nil {
		return nil, model.RasterInfo{}, err
	}
	info, err := reg.LoadFile(path)
	if err != nil {
		_ = reg.Close()
		return nil, model.RasterInfo{}, err
	}
	return reg, info, nil
}

func runQuery(cmd *cobra.Command, path string, f *queryFlags, q model.QueryRequest) error {
	reg, info, err := openStore(path)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	sel, err := zonal.NewSelector(cfg.StatsStrategy, cfg.StatsExactEnabled, appLog)
	if err != nil {
		return err
	}
	svc := query.New(reg, region.NewBuilder(cfg.RegionCirclePoints), sel, appLog, query.WithWorkers(cfg.QueryWorkers))

	q.RasterID = info.ID
	resp, err := svc.Run(cmd.Context(), q)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), f.format, resp)
}

func render(w io.Writer, format string, resp model.QueryResponse) error {
	switch strings.ToLower(format) {
	case "csv":
		return export.CSV(w, resp.Results)
	case "json", "geojson":
		out, err := composer.Compose(composer.Request{Response: resp, OutputFormat: format})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", out.Body)
		return err
	default:
		return fmt.Errorf("%w: unknown format %q", model.ErrInvalidInput, format)
	}
}

var infoCmd = &cobra.Command{
	Use:   "info <file.tif>",
	Short: "Print raster metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, info, err := openStore(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()
		info.Filename = args[0]
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

func circleCmd() *cobra.Command {
	var f queryFlags
	var radii []float64
	cmd := &cobra.Command{
		Use:   "circle <file.tif>",
		Short: "Statistics inside one or more geodesic circles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := f.request(model.QueryCircle)
			q.RadiiKM = radii
			return runQuery(cmd, args[0], &f, q)
		},
	}
	f.bind(cmd, true)
	cmd.Flags().Float64SliceVarP(&radii, "radius", "r", nil, "radius in km (repeatable)")
	_ = cmd.MarkFlagRequired("radius")
	return cmd
}

func bandCmd() *cobra.Command {
	var f queryFlags
	var edges []float64
	cmd := &cobra.Command{
		Use:   "band <file.tif>",
		Short: "Statistics inside concentric distance rings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := f.request(model.QueryBand)
			q.EdgesKM = edges
			return runQuery(cmd, args[0], &f, q)
		},
	}
	f.bind(cmd, true)
	cmd.Flags().Float64SliceVar(&edges, "edges", nil, "strictly increasing ring edges in km")
	_ = cmd.MarkFlagRequired("edges")
	return cmd
}

func rectCmd() *cobra.Command {
	var f queryFlags
	var halfW, halfH float64
	cmd := &cobra.Command{
		Use:   "rect <file.tif>",
		Short: "Statistics inside a rectangle centred on a point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := f.request(model.QueryRect)
			q.HalfWKM, q.HalfHKM = halfW, halfH
			return runQuery(cmd, args[0], &f, q)
		},
	}
	f.bind(cmd, true)
	cmd.Flags().Float64Var(&halfW, "half-w", 0, "half width in km")
	cmd.Flags().Float64Var(&halfH, "half-h", 0, "half height in km")
	_ = cmd.MarkFlagRequired("half-w")
	_ = cmd.MarkFlagRequired("half-h")
	return cmd
}

func compareCmd() *cobra.Command {
	var f queryFlags
	var radius float64
	var points []string
	cmd := &cobra.Command{
		Use:   "compare <file.tif>",
		Short: "Statistics around several points with the same radius",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := f.request(model.QueryCompare)
			q.RadiiKM = []float64{radius}
			for _, s := range points {
				p, err := parsePoint(s)
				if err != nil {
					return err
				}
				q.Points = append(q.Points, p)
			}
			return runQuery(cmd, args[0], &f, q)
		},
	}
	f.bind(cmd, false)
	cmd.Flags().Float64VarP(&radius, "radius", "r", 0, "radius in km")
	cmd.Flags().StringArrayVarP(&points, "point", "p", nil, "point as [name=]lat,lon (repeatable)")
	_ = cmd.MarkFlagRequired("radius")
	_ = cmd.MarkFlagRequired("point")
	return cmd
}

// parsePoint reads "[name=]lat,lon".
func parsePoint(s string) (model.Point, error) {
	var p model.Point
	coords := s
	if name, rest, ok := strings.Cut(s, "="); ok {
		p.Name = strings.TrimSpace(name)
		coords = rest
	}
	latS, lonS, ok := strings.Cut(coords, ",")
	if !ok {
		return p, fmt.Errorf("%w: point %q: want [name=]lat,lon", model.ErrInvalidInput, s)
	}
	var err error
	if p.Lat, err = strconv.ParseFloat(strings.TrimSpace(latS), 64); err != nil {
		return p, fmt.Errorf("%w: point %q: bad latitude", model.ErrInvalidInput, s)
	}
	if p.Lon, err = strconv.ParseFloat(strings.TrimSpace(lonS), 64); err != nil {
		return p, fmt.Errorf("%w: point %q: bad longitude", model.ErrInvalidInput, s)
	}
	return p, nil
}

func init() {
	rootCmd.AddCommand(infoCmd, circleCmd(), bandCmd(), rectCmd(), compareCmd())
}
