package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/zonalstats/internal/admission"
	"github.com/mohammed-shakir/zonalstats/internal/cache"
	"github.com/mohammed-shakir/zonalstats/internal/cache/memstore"
	"github.com/mohammed-shakir/zonalstats/internal/cache/redisstore"
	"github.com/mohammed-shakir/zonalstats/internal/core/config"
	"github.com/mohammed-shakir/zonalstats/internal/core/health"
	"github.com/mohammed-shakir/zonalstats/internal/core/router"
	"github.com/mohammed-shakir/zonalstats/internal/core/server"
	"github.com/mohammed-shakir/zonalstats/internal/hotness/expdecay"
	"github.com/mohammed-shakir/zonalstats/internal/invalidation"
	"github.com/mohammed-shakir/zonalstats/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/zonalstats/internal/logger"
	h3mapper "github.com/mohammed-shakir/zonalstats/internal/mapper/h3"
	"github.com/mohammed-shakir/zonalstats/internal/metrics"
	"github.com/mohammed-shakir/zonalstats/internal/query"
	"github.com/mohammed-shakir/zonalstats/internal/raster"
	"github.com/mohammed-shakir/zonalstats/internal/region"
	"github.com/mohammed-shakir/zonalstats/internal/registry"
	"github.com/mohammed-shakir/zonalstats/internal/zonal"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "zonal-server",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	appLog.Info("starting zonal-server",
		"addr", cfg.Addr,
		"version", Version,
		"instance", cfg.InstanceID,
		"strategy", cfg.StatsStrategy,
		"cache", cfg.CacheDriver)

	bands, err := raster.NewBandCache(cfg.BandCacheSize)
	if err != nil {
		appLog.Error("band cache setup failed", "err", err)
		return 1
	}
	reg, err := registry.New(registry.Options{
		Dir:          cfg.UploadDir,
		SingleActive: cfg.RegistrySingleActive,
		Tombstones:   cfg.RegistryTombstones,
		MaxPixels:    cfg.RasterMaxPixels,
		BandCache:    bands,
		Logger:       appLog,
	})
	if err != nil {
		appLog.Error("registry setup failed", "err", err)
		return 1
	}
	defer func() { _ = reg.Close() }()

	sel, err := zonal.NewSelector(cfg.StatsStrategy, cfg.StatsExactEnabled, appLog)
	if err != nil {
		appLog.Error("strategy setup failed", "err", err)
		return 1
	}

	store, err := openCache(ctx, cfg)
	if err != nil {
		appLog.Error("cache setup failed", "driver", cfg.CacheDriver, "err", err)
		return 1
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	var hot *expdecay.Tracker
	opts := []query.Option{query.WithWorkers(cfg.QueryWorkers)}
	if store != nil {
		opts = append(opts, query.WithCache(store, cfg.CacheTTL, cfg.CacheOpTimeout))
		if cfg.AdmissionEnabled {
			hot = expdecay.New(expdecay.Options{HalfLife: cfg.HotHalfLife, Floor: cfg.HotSweepFloor})
			opts = append(opts, query.WithAdmission(&admission.Engine{
				Hot:       hot,
				Threshold: cfg.HotThreshold,
				Res:       cfg.H3Res,
				Mapper:    h3mapper.New(),
				Logger:    appLog,
			}))
		}
	}
	svc := query.New(reg, region.NewBuilder(cfg.RegionCirclePoints), sel, appLog, opts...)

	ready := map[string]health.ReadinessReporter{}
	var pub *invalidation.Publisher
	var consumer *kafkaconsumer.Consumer
	if cfg.Invalidation.Enabled && store != nil {
		brokers := kafkaconsumer.SplitCSV(cfg.Invalidation.Brokers)
		pub, err = invalidation.NewPublisher(brokers, cfg.Invalidation.Topic, 256, appLog)
		if err != nil {
			appLog.Error("invalidation publisher setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()

		// every replica must see every event, so the default group is per instance
		group := cfg.Invalidation.GroupID
		if group == "" {
			group = "zonal-cache-" + cfg.InstanceID
		}
		kcfg := kafkaconsumer.DefaultConfig(cfg.Invalidation.Brokers, cfg.Invalidation.Topic, group)
		consumer = kafkaconsumer.New(kcfg, appLog, store, cfg.InstanceID, &zl)
		ready["invalidation"] = consumer
	}
	if store != nil {
		var sink invalidation.Sink
		if pub != nil {
			sink = pub
		}
		reg.OnRetire(invalidation.RetireHook(store, sink, cfg.InstanceID, cfg.CacheOpTimeout*4, appLog))
	}

	api := router.New(appLog, reg, svc, cfg.UploadMaxBytes)
	handler := server.NewHandler(appLog, api, server.Options{
		Metrics:     prov.Handler(),
		MetricsPath: prov.Path(),
		StaticDir:   cfg.StaticDir,
		Rasters:     reg.Len,
		Ready:       ready,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, cfg, appLog, handler) })
	g.Go(func() error { return prov.Serve(gctx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Start(gctx) })
	}
	if hot != nil {
		g.Go(func() error {
			hot.Run(gctx, appLog)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		appLog.Error("server exited", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}

func openCache(ctx context.Context, cfg config.Config) (cache.Interface, error) {
	switch cfg.CacheDriver {
	case config.CacheMemory:
		s, err := memstore.New(cfg.CacheMemoryEntries)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.CacheRedis:
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstore.New(dialCtx, cfg.RedisAddr, redisstore.WithPoolSize(cfg.RedisPoolSize))
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, nil
	}
}
