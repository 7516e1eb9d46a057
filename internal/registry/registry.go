// Package registry owns the loaded raster handles: upload persistence,
// versioned ids, atomic replacement and reference-counted release.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/core/observability"
	"github.com/mohammed-shakir/zonalstats/internal/raster"
)

// Retirement reasons.
const (
	ReasonUnload  = "unload"
	ReasonReplace = "replace"
)

// Retired describes a handle that left the registry.
type Retired struct {
	ID         string
	Version    uint64
	Reason     string
	ReplacedBy string
	Bounds     model.Bounds
}

type Options struct {
	// Dir receives uploaded files. Empty creates a private temp dir that is
	// removed by Close.
	Dir          string
	SingleActive bool
	Tombstones   int
	// MaxPixels caps Width*Height*Bands of a loaded raster.
	MaxPixels int64
	BandCache *raster.BandCache
	Logger    *slog.Logger
}

type tombstone struct {
	version    uint64
	replacedBy string
}

// Store is the process-wide set of raster handles.
type Store struct {
	dir     string
	ownsDir bool
	single  bool
	maxPx   int64
	bands   *raster.BandCache
	log     *slog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	tombs   *lru.Cache[string, tombstone]
	hooks   []func(Retired)
	closed  bool

	version atomic.Uint64
}

func New(opts Options) (*Store, error) {
	s := &Store{
		dir:     opts.Dir,
		single:  opts.SingleActive,
		maxPx:   opts.MaxPixels,
		bands:   opts.BandCache,
		log:     opts.Logger,
		handles: make(map[string]*Handle),
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.dir == "" {
		d, err := os.MkdirTemp("", "zonal_")
		if err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
		s.dir, s.ownsDir = d, true
	} else if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	n := opts.Tombstones
	if n <= 0 {
		n = 256
	}
	tombs, err := lru.New[string, tombstone](n)
	if err != nil {
		return nil, err
	}
	s.tombs = tombs
	return s, nil
}

// OnRetire registers fn to run after a handle is retired. Hooks run outside
// the registry lock.
func (s *Store) OnRetire(fn func(Retired)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Dir is the upload directory.
func (s *Store) Dir() string { return s.dir }

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	switch ext {
	case ".tif", ".tiff", ".gtiff":
		return ext
	}
	return ".tif"
}

// Load persists the upload read from r and registers it as a new handle.
func (s *Store) Load(ctx context.Context, filename string, r io.Reader) (model.RasterInfo, error) {
	if err := ctx.Err(); err != nil {
		return model.RasterInfo{}, err
	}
	id := newID()
	path := filepath.Join(s.dir, id+uploadExt(filename))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return model.RasterInfo{}, fmt.Errorf("persist upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(path)
		return model.RasterInfo{}, fmt.Errorf("persist upload: %w", err)
	}
	if n == 0 {
		_ = os.Remove(path)
		return model.RasterInfo{}, model.Invalidf("empty upload")
	}
	observability.ObserveUpload(n)

	info, err := s.register(id, path, filename, true)
	if err != nil {
		_ = os.Remove(path)
		return model.RasterInfo{}, err
	}
	return info, nil
}

// LoadFile registers a raster already on disk. The file is left in place
// when the handle is released.
func (s *Store) LoadFile(path string) (model.RasterInfo, error) {
	return s.register(newID(), path, filepath.Base(path), false)
}

func (s *Store) register(id, path, filename string, owned bool) (model.RasterInfo, error) {
	ds, err := raster.Open(path, s.bands, s.maxPx)
	if err != nil {
		return model.RasterInfo{}, err
	}
	if ds.AssumedCRS {
		s.log.Warn("raster has no CRS keys; assuming EPSG:4326", "raster_id", id, "filename", filename)
	}

	h := &Handle{
		ID:       id,
		Version:  s.version.Add(1),
		Filename: filename,
		Dataset:  ds,
		LoadedAt: time.Now().UTC(),
		owned:    owned,
		log:      s.log,
	}

	var retired []Retired
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ds.Close()
		return model.RasterInfo{}, errors.New("registry closed")
	}
	if s.single {
		for oldID, old := range s.handles {
			retired = append(retired, s.retireLocked(oldID, old, ReasonReplace, id))
		}
	}
	s.handles[id] = h
	loaded := len(s.handles)
	hooks := append([]func(Retired){}, s.hooks...)
	s.mu.Unlock()

	observability.SetRastersLoaded(loaded)
	s.log.Info("raster loaded", "raster_id", id, "version", h.Version, "filename", filename,
		"crs", ds.Proj.Code(), "width", ds.Width, "height", ds.Height, "bands", ds.Bands)
	s.notify(hooks, retired)
	return h.Info(), nil
}

// retireLocked removes h from the live set. Caller holds s.mu.
func (s *Store) retireLocked(id string, h *Handle, reason, replacedBy string) Retired {
	r := Retired{
		ID:         id,
		Version:    h.Version,
		Reason:     reason,
		ReplacedBy: replacedBy,
		Bounds:     h.Info().Bounds,
	}
	delete(s.handles, id)
	s.tombs.Add(id, tombstone{version: h.Version, replacedBy: replacedBy})
	h.retire()
	return r
}

func (s *Store) notify(hooks []func(Retired), retired []Retired) {
	for _, r := range retired {
		s.log.Info("raster retired", "raster_id", r.ID, "version", r.Version, "reason", r.Reason, "replaced_by", r.ReplacedBy)
		for _, fn := range hooks {
			fn(r)
		}
	}
}

// Acquire returns the live handle for id and a release func that must be
// called once the caller is done with it. A non-zero version must match the
// handle's version.
func (s *Store) Acquire(id string, version uint64) (*Handle, func(), error) {
	s.mu.RLock()
	h, ok := s.handles[id]
	if ok {
		h.acquire()
	}
	s.mu.RUnlock()

	if !ok {
		if t, ok := s.tombs.Get(id); ok {
			return nil, nil, &model.StaleError{RasterID: id, Version: t.version, CurrentID: t.replacedBy}
		}
		return nil, nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if version != 0 && version != h.Version {
		h.release()
		return nil, nil, &model.StaleError{RasterID: id, Version: version}
	}
	var once sync.Once
	return h, func() { once.Do(h.release) }, nil
}

// Get returns the info of a live handle.
func (s *Store) Get(id string) (model.RasterInfo, error) {
	h, release, err := s.Acquire(id, 0)
	if err != nil {
		return model.RasterInfo{}, err
	}
	defer release()
	return h.Info(), nil
}

// List returns live handles ordered by version.
func (s *Store) List() []model.RasterInfo {
	s.mu.RLock()
	out := make([]model.RasterInfo, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h.Info())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Remove unloads id. The handle closes once in-flight queries release it.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	if !ok {
		s.mu.Unlock()
		if _, stale := s.tombs.Peek(id); stale {
			return nil
		}
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	r := s.retireLocked(id, h, ReasonUnload, "")
	loaded := len(s.handles)
	hooks := append([]func(Retired){}, s.hooks...)
	s.mu.Unlock()

	observability.SetRastersLoaded(loaded)
	s.notify(hooks, []Retired{r})
	return nil
}

// Close retires every handle and removes the private upload dir.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var retired []Retired
	for id, h := range s.handles {
		retired = append(retired, s.retireLocked(id, h, ReasonUnload, ""))
	}
	hooks := append([]func(Retired){}, s.hooks...)
	s.mu.Unlock()

	observability.SetRastersLoaded(0)
	s.notify(hooks, retired)
	if s.ownsDir {
		return os.RemoveAll(s.dir)
	}
	return nil
}
