package expdecay

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	h3mapper "github.com/mohammed-shakir/zonalstats/internal/mapper/h3"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestTracker(o Options) (*Tracker, *fakeClock) {
	fc := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	tr := New(o)
	tr.clock = fc.Now
	return tr, fc
}

// centre returns the res-8 cell and res-7 parent of a query centre, the
// keys admission feeds into the tracker.
func centre(t *testing.T, lat, lon float64) (cell, parent string) {
	t.Helper()
	m := h3mapper.New()
	cell, err := m.CellForPoint(lat, lon, 8)
	if err != nil {
		t.Fatal(err)
	}
	parent, err = m.ToParent(cell, 7)
	if err != nil {
		t.Fatal(err)
	}
	return cell, parent
}

// siblingOf finds a nearby centre in another cell under the same parent.
func siblingOf(t *testing.T, lat, lon float64, cell, parent string) string {
	t.Helper()
	for dy := -10; dy <= 10; dy++ {
		for dx := -10; dx <= 10; dx++ {
			c, p := centre(t, lat+float64(dy)*0.001, lon+float64(dx)*0.001)
			if c != cell && p == parent {
				return c
			}
		}
	}
	t.Fatalf("no sibling of %s near (%v, %v)", cell, lat, lon)
	return ""
}

func near(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %g, want %g", got, want)
	}
}

func TestInc_CellAndParentCountSeparately(t *testing.T) {
	tr, _ := newTestTracker(Options{HalfLife: time.Minute})
	cell, parent := centre(t, 59.33, 18.06)
	sibling := siblingOf(t, 59.33, 18.06, cell, parent)

	for _, k := range []string{cell, parent, sibling, parent} {
		tr.Inc(k)
	}
	near(t, tr.Score(cell), 1)
	near(t, tr.Score(sibling), 1)
	near(t, tr.Score(parent), 2)
	if tr.Len() != 3 {
		t.Fatalf("Len=%d, want 3", tr.Len())
	}
}

func TestScore_HalvesEachHalfLife(t *testing.T) {
	tr, fc := newTestTracker(Options{HalfLife: 30 * time.Second})
	cell, _ := centre(t, 48.8566, 2.3522)

	for range 4 {
		tr.Inc(cell)
	}
	fc.Add(30 * time.Second)
	near(t, tr.Score(cell), 2)
	fc.Add(60 * time.Second)
	near(t, tr.Score(cell), 0.5)

	// A new query adds to the decayed value.
	tr.Inc(cell)
	near(t, tr.Score(cell), 1.5)
}

func TestInc_EmptyCellIgnored(t *testing.T) {
	tr, _ := newTestTracker(Options{HalfLife: time.Minute})
	tr.Inc("")
	if tr.Len() != 0 || tr.Score("") != 0 {
		t.Fatalf("empty cell tracked: len=%d", tr.Len())
	}
}

func TestInc_ConcurrentQueriesOnOneCentre(t *testing.T) {
	tr, _ := newTestTracker(Options{HalfLife: time.Minute})
	cell, parent := centre(t, -33.8688, 151.2093)

	const n = 200
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Inc(cell)
			tr.Inc(parent)
		}()
	}
	wg.Wait()
	near(t, tr.Score(cell), n)
	near(t, tr.Score(parent), n)
}

func TestReset_SelectedAndAll(t *testing.T) {
	tr, _ := newTestTracker(Options{HalfLife: time.Minute})
	a, pa := centre(t, 40.7128, -74.0060)
	b, _ := centre(t, 35.6762, 139.6503)
	for _, k := range []string{a, pa, b} {
		tr.Inc(k)
	}

	tr.Reset(a)
	if tr.Score(a) != 0 || tr.Score(pa) == 0 || tr.Score(b) == 0 {
		t.Fatalf("Reset(a) touched other cells")
	}
	tr.Reset()
	if tr.Len() != 0 {
		t.Fatalf("Reset() left %d cells", tr.Len())
	}
}

func TestSweep_UsesConfiguredFloor(t *testing.T) {
	tr, fc := newTestTracker(Options{HalfLife: time.Second, Floor: 0.2})
	cold, _ := centre(t, 52.52, 13.405)
	warm, _ := centre(t, 41.9028, 12.4964)

	tr.Inc(cold)
	fc.Add(3 * time.Second) // 0.125
	tr.Inc(warm)

	if n := tr.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if tr.Score(cold) != 0 || tr.Score(warm) == 0 {
		t.Fatalf("wrong cell swept")
	}
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Options{})
	if tr.halfLife != 60 || tr.floor != DefaultFloor || tr.every != time.Minute {
		t.Fatalf("defaults: halfLife=%g floor=%g every=%s", tr.halfLife, tr.floor, tr.every)
	}
	tr = New(Options{HalfLife: 10 * time.Second})
	if tr.every != 10*time.Second {
		t.Fatalf("sweep period should follow half-life, got %s", tr.every)
	}
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	tr, fc := newTestTracker(Options{HalfLife: time.Second, SweepEvery: 5 * time.Millisecond})
	cell, parent := centre(t, 59.33, 18.06)
	tr.Inc(cell)
	tr.Inc(parent)
	fc.Add(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, nil)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for tr.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Run did not sweep; %d cells left", tr.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
