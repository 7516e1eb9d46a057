package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonalstats/internal/cache"
	obs "github.com/mohammed-shakir/zonalstats/internal/core/observability"
	"github.com/mohammed-shakir/zonalstats/internal/invalidation"
	mylog "github.com/mohammed-shakir/zonalstats/internal/logger"
)

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  cache.Interface
	source string
	zlog   *zerolog.Logger
	dedupe *versionDedupe

	mu    sync.Mutex
	ready bool
	parts []int32
}

// New returns a consumer that evicts cache entries of retired rasters.
// Events published by source (this process) are ignored.
func New(cfg Config, logger *slog.Logger, c cache.Interface, source string, zl *zerolog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := mylog.WithComponent(context.Background(), "kafka_consumer")
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		cache:  c,
		source: source,
		zlog:   mylog.FromContext(ctx, zl),
		dedupe: newVersionDedupe(8192),
	}
}

// consumes invalidation events from kafka until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, assigned: c.setAssigned}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

func (c *Consumer) setAssigned(parts []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slices.Sort(parts)
	c.ready = parts != nil
	c.parts = parts
}

// Readiness reports whether the group session is active and which
// partitions this member owns.
func (c *Consumer) Readiness() (bool, []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready, slices.Clone(c.parts)
}

// ProcessOne handles a single invalidation message. Undecodable or invalid
// events are logged and skipped so they do not block the partition; cache
// failures are returned so the message is retried.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("consume", "invalid")
		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation("consume", "invalid")
		c.logger.Warn("invalid invalidation event", "err", err, "offset", msg.Offset)
		return nil
	}
	if c.source != "" && ev.Source == c.source {
		obs.IncInvalidation("consume", "skipped")
		return nil
	}
	if c.dedupe.seen(ev.RasterID, ev.RasterVersion) {
		obs.IncInvalidation("consume", "duplicate")
		return nil
	}

	n, err := c.cache.DelRaster(ctx, ev.RasterID)
	if err != nil {
		obs.IncInvalidation("consume", "error")
		mylog.FromContext(mylog.WithRasterID(ctx, ev.RasterID), c.zlog).Error().
			Str("kind", "cache_del").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Err(err).
			Msg("kafka error")
		return fmt.Errorf("cache del: %w", err)
	}

	c.dedupe.mark(ev.RasterID, ev.RasterVersion)
	obs.IncInvalidation("consume", "ok")
	c.logger.Debug("invalidated raster", "raster_id", ev.RasterID, "reason", ev.Reason, "entries", n)
	mylog.FromContext(mylog.WithRasterID(ctx, ev.RasterID), c.zlog).Info().
		Str("event", "invalidation").
		Str("reason", ev.Reason).
		Str("source", ev.Source).
		Int("entries", n).
		Msg("invalidated raster")
	return nil
}
