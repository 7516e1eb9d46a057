package registry

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/raster"
)

// Handle is one loaded raster. Its fields are immutable.
type Handle struct {
	ID       string
	Version  uint64
	Filename string
	Dataset  *raster.Dataset
	LoadedAt time.Time

	owned bool
	log   *slog.Logger

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

func (h *Handle) Info() model.RasterInfo {
	info := h.Dataset.Info()
	info.ID = h.ID
	info.Version = h.Version
	info.Filename = h.Filename
	return info
}

func (h *Handle) acquire() {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

func (h *Handle) release() {
	h.mu.Lock()
	h.refs--
	done := h.retired && h.refs <= 0
	h.mu.Unlock()
	if done {
		h.destroy()
	}
}

func (h *Handle) retire() {
	h.mu.Lock()
	h.retired = true
	done := h.refs <= 0
	h.mu.Unlock()
	if done {
		h.destroy()
	}
}

// Closed reports whether the dataset has been released.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) destroy() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	if err := h.Dataset.Close(); err != nil {
		h.log.Warn("close raster", "raster_id", h.ID, "error", err)
	}
	if h.owned {
		if err := os.Remove(h.Dataset.Path); err != nil && !os.IsNotExist(err) {
			h.log.Warn("remove raster file", "raster_id", h.ID, "error", err)
		}
	}
}
