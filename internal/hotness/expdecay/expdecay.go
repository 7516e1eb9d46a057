// Package expdecay keeps a per-cell query count that halves every half-life,
// so cells stop counting as hot once traffic moves elsewhere.
package expdecay

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/zonalstats/internal/hotness"
)

const (
	shardCount = 64
	// DefaultFloor is the score under which Sweep forgets a cell: a single
	// query about four half-lives ago.
	DefaultFloor = 0.05
)

type Options struct {
	HalfLife time.Duration
	// Floor is the decayed score under which a cell is dropped by Sweep.
	Floor float64
	// SweepEvery is the Run period; zero sweeps once per half-life.
	SweepEvery time.Duration
}

// Tracker is a sharded map of cell -> decayed query count.
type Tracker struct {
	halfLife float64 // seconds
	floor    float64
	every    time.Duration
	clock    func() time.Time

	shards [shardCount]struct {
		sync.Mutex
		cells map[string]sample
	}
}

// sample is the score as of at.
type sample struct {
	score float64
	at    time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

func New(o Options) *Tracker {
	if o.HalfLife <= 0 {
		o.HalfLife = time.Minute
	}
	if o.Floor <= 0 {
		o.Floor = DefaultFloor
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = o.HalfLife
	}
	t := &Tracker{
		halfLife: o.HalfLife.Seconds(),
		floor:    o.Floor,
		every:    o.SweepEvery,
		clock:    time.Now,
	}
	for i := range t.shards {
		t.shards[i].cells = make(map[string]sample)
	}
	return t
}

// at returns the score of s decayed to now.
func (t *Tracker) at(s sample, now time.Time) float64 {
	dt := now.Sub(s.at).Seconds()
	if dt <= 0 {
		return s.score
	}
	return s.score * math.Exp2(-dt/t.halfLife)
}

func (t *Tracker) shard(cell string) int {
	return int(xxhash.Sum64String(cell) % shardCount)
}

func (t *Tracker) Inc(cell string) {
	if cell == "" {
		return
	}
	now := t.clock()
	sh := &t.shards[t.shard(cell)]
	sh.Lock()
	s := sh.cells[cell]
	sh.cells[cell] = sample{score: t.at(s, now) + 1, at: now}
	sh.Unlock()
}

func (t *Tracker) Score(cell string) float64 {
	if cell == "" {
		return 0
	}
	sh := &t.shards[t.shard(cell)]
	sh.Lock()
	s, ok := sh.cells[cell]
	sh.Unlock()
	if !ok {
		return 0
	}
	return t.at(s, t.clock())
}

// Reset forgets the given cells, or every cell when none are given.
func (t *Tracker) Reset(cells ...string) {
	if len(cells) == 0 {
		for i := range t.shards {
			sh := &t.shards[i]
			sh.Lock()
			clear(sh.cells)
			sh.Unlock()
		}
		return
	}
	for _, c := range cells {
		sh := &t.shards[t.shard(c)]
		sh.Lock()
		delete(sh.cells, c)
		sh.Unlock()
	}
}

// Sweep drops cells whose score decayed below the floor and returns how
// many went.
func (t *Tracker) Sweep() int {
	now := t.clock()
	removed := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.Lock()
		for c, s := range sh.cells {
			if t.at(s, now) < t.floor {
				delete(sh.cells, c)
				removed++
			}
		}
		sh.Unlock()
	}
	return removed
}

// Run sweeps on the configured period until ctx is done.
func (t *Tracker) Run(ctx context.Context, logger *slog.Logger) {
	tick := time.NewTicker(t.every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := t.Sweep(); n > 0 && logger != nil {
				logger.Debug("hotness sweep", "removed", n, "tracked", t.Len())
			}
		}
	}
}

// Len is the number of tracked cells.
func (t *Tracker) Len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.Lock()
		n += len(sh.cells)
		sh.Unlock()
	}
	return n
}
