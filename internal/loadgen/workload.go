// Package loadgen drives a running server with skewed circle queries and
// summarizes latency and cache behaviour.
package loadgen

import (
	"math"
	"math/rand"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

// Centres returns count query centres inside b. A quarter of them (at
// least min(8, count)) cluster around a few hotspots so the Zipf head
// lands on nearby locations; the rest are uniform.
func Centres(b model.Bounds, count int, r *rand.Rand) []model.Point {
	if count <= 0 || b.East <= b.West || b.North <= b.South {
		return nil
	}
	w, h := b.East-b.West, b.North-b.South
	hotspots := []model.Point{
		{Lon: b.West + 0.5*w, Lat: b.South + 0.5*h},
		{Lon: b.West + 0.25*w, Lat: b.South + 0.7*h},
		{Lon: b.West + 0.75*w, Lat: b.South + 0.3*h},
	}

	out := make([]model.Point, 0, count)
	hot := min(count, int(math.Max(8, float64(count/4))))
	for i := range hot {
		c := hotspots[i%len(hotspots)]
		out = append(out, model.Point{
			Lon: clamp(c.Lon+(r.Float64()-0.5)*0.02*w, b.West, b.East),
			Lat: clamp(c.Lat+(r.Float64()-0.5)*0.02*h, b.South, b.North),
		})
	}
	for len(out) < count {
		out = append(out, model.Point{
			Lon: b.West + r.Float64()*w,
			Lat: b.South + r.Float64()*h,
		})
	}
	return out
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

// Picker draws pool indexes with a Zipf(s, v) skew.
type Picker struct {
	z *rand.Zipf
	n int
}

func NewPicker(r *rand.Rand, s, v float64, n int) *Picker {
	if s <= 1 {
		s = 1.3
	}
	if v < 1 {
		v = 1
	}
	if n < 1 {
		n = 1
	}
	return &Picker{z: rand.NewZipf(r, s, v, uint64(n-1)), n: n}
}

func (p *Picker) Next() int {
	return int(p.z.Uint64() % uint64(p.n))
}

// Percentile interpolates the p-th percentile of ascending values.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	k := (p / 100.0) * float64(len(sorted)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	d := k - f
	return sorted[i]*(1-d) + sorted[i+1]*d
}
