package zonal

import (
	"math"
	"sort"
	"strings"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

// Statistic names.
const (
	StatSum      = "sum"
	StatMean     = "mean"
	StatMin      = "min"
	StatMax      = "max"
	StatCount    = "count"
	StatStdev    = "stdev"
	StatVariance = "variance"
	StatMedian   = "median"
)

var aliases = map[string]string{
	"std": StatStdev,
	"avg": StatMean,
}

var known = map[string]bool{
	StatSum: true, StatMean: true, StatMin: true, StatMax: true,
	StatCount: true, StatStdev: true, StatVariance: true, StatMedian: true,
}

// Names returns the supported statistic names, sorted.
func Names() []string {
	out := make([]string, 0, len(known))
	for n := range known {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Normalize canonicalizes requested statistic names. Unknown names are
// returned in dropped; an empty result falls back to sum.
func Normalize(names []string) (kept, dropped []string) {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		c := strings.ToLower(strings.TrimSpace(n))
		if a, ok := aliases[c]; ok {
			c = a
		}
		if !known[c] {
			dropped = append(dropped, n)
			continue
		}
		if !seen[c] {
			seen[c] = true
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		kept = []string{StatSum}
	}
	return kept, dropped
}

type sample struct {
	v, w float64
}

// accumulator folds weighted pixel values.
type accumulator struct {
	weight   float64
	sum      float64
	min, max float64
	n        int

	// weighted running mean and sum of squares
	mean, m2 float64

	keep    bool
	samples []sample
}

func newAccumulator(names []string) *accumulator {
	a := &accumulator{min: math.Inf(1), max: math.Inf(-1)}
	for _, n := range names {
		if n == StatMedian {
			a.keep = true
		}
	}
	return a
}

func (a *accumulator) add(v, w float64) {
	if w <= 0 {
		return
	}
	a.n++
	a.weight += w
	a.sum += w * v
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
	d := v - a.mean
	a.mean += w / a.weight * d
	a.m2 += w * d * (v - a.mean)
	if a.keep {
		a.samples = append(a.samples, sample{v: v, w: w})
	}
}

func (a *accumulator) median() float64 {
	sort.Slice(a.samples, func(i, j int) bool { return a.samples[i].v < a.samples[j].v })
	half := a.weight / 2
	eps := a.weight * 1e-12
	var cum float64
	for i, s := range a.samples {
		cum += s.w
		if math.Abs(cum-half) <= eps && i+1 < len(a.samples) {
			return (s.v + a.samples[i+1].v) / 2
		}
		if cum >= half {
			return s.v
		}
	}
	return a.samples[len(a.samples)-1].v
}

// result renders names. count and sum are always defined; the rest are nil
// when nothing was covered.
func (a *accumulator) result(names []string) model.Stats {
	out := make(model.Stats, len(names))
	for _, n := range names {
		if a.n == 0 && n != StatCount && n != StatSum {
			out[n] = nil
			continue
		}
		var v float64
		switch n {
		case StatCount:
			v = a.weight
		case StatSum:
			v = a.sum
		case StatMean:
			v = a.sum / a.weight
		case StatMin:
			v = a.min
		case StatMax:
			v = a.max
		case StatVariance:
			v = math.Max(a.m2/a.weight, 0)
		case StatStdev:
			v = math.Sqrt(math.Max(a.m2/a.weight, 0))
		case StatMedian:
			v = a.median()
		default:
			continue
		}
		out[n] = model.Float(v)
	}
	return out
}
