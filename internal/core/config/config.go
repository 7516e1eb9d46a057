// Package config loads service settings from the environment, optionally
// layered over a YAML file named by CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr                 string
	LogLevel             string
	LogConsole           bool
	LogSampleN           int
	InstanceID           string
	StaticDir            string
	UploadDir            string
	UploadMaxBytes       int64
	RegistrySingleActive bool
	RegistryTombstones   int
	BandCacheSize        int
	RasterMaxPixels      int64
	StatsStrategy        string
	StatsExactEnabled    bool
	RegionCirclePoints   int
	QueryWorkers         int
	CacheDriver          string
	CacheMemoryEntries   int
	CacheTTL             time.Duration
	CacheOpTimeout       time.Duration
	RedisAddr            string
	RedisPoolSize        int
	AdmissionEnabled     bool
	H3Res                int
	HotThreshold         float64
	HotHalfLife          time.Duration
	HotSweepFloor        float64
	Invalidation         InvalidationCfg
	Metrics              MetricsCfg
}

const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// FromEnv reads the environment only.
func FromEnv() Config {
	return build(source{})
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		cfg := FromEnv()
		return cfg, cfg.Validate()
	}
	src, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := build(src)
	return cfg, cfg.Validate()
}

func build(s source) Config {
	res := s.getint("H3_RES", 8)
	if res < 1 {
		res = 1
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:                 s.getenv("ADDR", ":8964"),
		LogLevel:             s.getenv("LOG_LEVEL", "info"),
		LogConsole:           s.getbool("LOG_CONSOLE", false),
		LogSampleN:           s.getint("LOG_SAMPLE_N", 0),
		InstanceID:           s.getenv("INSTANCE_ID", hostname()),
		StaticDir:            s.getenv("STATIC_DIR", ""),
		UploadDir:            s.getenv("UPLOAD_DIR", ""),
		UploadMaxBytes:       s.getint64("UPLOAD_MAX_BYTES", 1<<30),
		RegistrySingleActive: s.getbool("REGISTRY_SINGLE_ACTIVE", true),
		RegistryTombstones:   s.getint("REGISTRY_TOMBSTONES", 256),
		BandCacheSize:        s.getint("BAND_CACHE_SIZE", 16),
		RasterMaxPixels:      s.getint64("RASTER_MAX_PIXELS", 1<<28),
		StatsStrategy:        strings.ToLower(s.getenv("STATS_STRATEGY", "exact")),
		StatsExactEnabled:    s.getbool("STATS_EXACT_ENABLED", true),
		RegionCirclePoints:   s.getint("REGION_CIRCLE_POINTS", 360),
		QueryWorkers:         s.getint("QUERY_WORKERS", 4),
		CacheDriver:          strings.ToLower(s.getenv("CACHE_DRIVER", CacheNone)),
		CacheMemoryEntries:   s.getint("CACHE_MEMORY_ENTRIES", 10000),
		CacheTTL:             s.getduration("CACHE_TTL", 10*time.Minute),
		CacheOpTimeout:       s.getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		RedisAddr:            s.getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:        s.getint("REDIS_POOL_SIZE", 0),
		AdmissionEnabled:     s.getbool("ADMISSION_ENABLED", false),
		H3Res:                res,
		HotThreshold:         s.getfloat("HOT_THRESHOLD", 3),
		HotHalfLife:          s.getduration("HOT_HALF_LIFE", time.Minute),
		HotSweepFloor:        s.getfloat("HOT_SWEEP_FLOOR", 0.05),
		Invalidation: InvalidationCfg{
			Enabled: s.getbool("INVALIDATION_ENABLED", false),
			Topic:   s.getenv("KAFKA_TOPIC", "zonal-invalidation"),
			Brokers: s.getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: s.getenv("KAFKA_GROUP_ID", ""),
		},
		Metrics: MetricsCfg{
			Enabled: s.getbool("METRICS_ENABLED", true),
			Addr:    s.getenv("METRICS_ADDR", ""),
			Path:    s.getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func (c Config) Validate() error {
	switch c.CacheDriver {
	case CacheNone, CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("CACHE_DRIVER must be none|memory|redis, got %q", c.CacheDriver)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	if c.Invalidation.Enabled && c.CacheDriver == CacheNone {
		return fmt.Errorf("INVALIDATION_ENABLED requires a cache driver")
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "zonal"
	}
	return h
}

// source resolves a key from the environment first, then the config file.
// File keys are the environment names in any case ("cache_driver").
type source struct {
	file map[string]string
}

func readFile(path string) (source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return source{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(k))
		if list, ok := v.([]any); ok {
			parts := make([]string, 0, len(list))
			for _, e := range list {
				parts = append(parts, fmt.Sprint(e))
			}
			out[key] = strings.Join(parts, ",")
			continue
		}
		out[key] = fmt.Sprint(v)
	}
	return source{file: out}, nil
}

func (s source) lookup(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return s.file[k]
}

func (s source) getenv(k, def string) string {
	if v := s.lookup(k); v != "" {
		return v
	}
	return def
}

func (s source) getint(k string, def int) int {
	if v := s.lookup(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (s source) getint64(k string, def int64) int64 {
	if v := s.lookup(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func (s source) getbool(k string, def bool) bool {
	if v := s.lookup(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func (s source) getfloat(k string, def float64) float64 {
	if v := s.lookup(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (s source) getduration(k string, def time.Duration) time.Duration {
	if v := s.lookup(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
