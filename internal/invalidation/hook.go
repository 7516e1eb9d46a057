package invalidation

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/zonalstats/internal/cache"
	"github.com/mohammed-shakir/zonalstats/internal/registry"
)

// Sink receives events for other replicas. *Publisher implements it.
type Sink interface {
	Publish(ev Event)
}

// RetireHook returns a registry hook that evicts the retired raster from
// the local cache and announces the retirement on pub. Either may be nil.
func RetireHook(c cache.Interface, pub Sink, source string, timeout time.Duration, logger *slog.Logger) func(registry.Retired) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(r registry.Retired) {
		if c != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			n, err := c.DelRaster(ctx, r.ID)
			cancel()
			if err != nil {
				logger.Warn("cache eviction failed", "raster_id", r.ID, "err", err)
			} else {
				logger.Debug("cache evicted", "raster_id", r.ID, "entries", n, "reason", r.Reason)
			}
		}
		if pub != nil {
			pub.Publish(Event{
				Version:       1,
				Op:            OpRetire,
				RasterID:      r.ID,
				RasterVersion: r.Version,
				Reason:        r.Reason,
				ReplacedBy:    r.ReplacedBy,
				Source:        source,
				TS:            time.Now().UTC(),
				BBox:          BBoxOf(r.Bounds),
			})
		}
	}
}
