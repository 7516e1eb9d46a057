package zonal

import (
	"math"
	"reflect"
	"testing"
)

func TestNormalize_AliasesUnknownAndDefault(t *testing.T) {
	kept, dropped := Normalize([]string{"std", " MEAN ", "bogus", "mean", "median"})
	if !reflect.DeepEqual(kept, []string{"stdev", "mean", "median"}) {
		t.Fatalf("kept=%v", kept)
	}
	if !reflect.DeepEqual(dropped, []string{"bogus"}) {
		t.Fatalf("dropped=%v", dropped)
	}

	kept, _ = Normalize(nil)
	if !reflect.DeepEqual(kept, []string{"sum"}) {
		t.Fatalf("empty request should default to sum, got %v", kept)
	}
	kept, _ = Normalize([]string{"nope"})
	if !reflect.DeepEqual(kept, []string{"sum"}) {
		t.Fatalf("all-unknown request should default to sum, got %v", kept)
	}
}

func TestAccumulator_UnitWeights(t *testing.T) {
	names := Names()
	a := newAccumulator(names)
	for _, v := range []float64{4, 1, 3, 2} {
		a.add(v, 1)
	}
	got := a.result(names)
	want := map[string]float64{
		"count":    4,
		"sum":      10,
		"mean":     2.5,
		"min":      1,
		"max":      4,
		"median":   2.5,
		"variance": 1.25,
		"stdev":    math.Sqrt(1.25),
	}
	for k, w := range want {
		if got[k] == nil || math.Abs(*got[k]-w) > 1e-12 {
			t.Fatalf("%s=%v want %v", k, got[k], w)
		}
	}
}

func TestAccumulator_Weighted(t *testing.T) {
	a := newAccumulator([]string{"median"})
	a.add(10, 1)
	a.add(1, 3)
	a.add(99, 0) // ignored
	got := a.result([]string{"count", "sum", "mean", "median", "max", "variance"})

	if *got["count"] != 4 || *got["sum"] != 13 || *got["mean"] != 3.25 {
		t.Fatalf("unexpected totals %v %v %v", *got["count"], *got["sum"], *got["mean"])
	}
	if *got["median"] != 1 {
		t.Fatalf("median=%v want 1", *got["median"])
	}
	if *got["max"] != 10 {
		t.Fatalf("zero-weight sample leaked into max: %v", *got["max"])
	}
	// E[(v-3.25)^2] with weights 1 and 3.
	wantVar := (1*math.Pow(10-3.25, 2) + 3*math.Pow(1-3.25, 2)) / 4
	if math.Abs(*got["variance"]-wantVar) > 1e-9 {
		t.Fatalf("variance=%v want %v", *got["variance"], wantVar)
	}
}

func TestAccumulator_MedianHalfSplit(t *testing.T) {
	a := newAccumulator([]string{"median"})
	a.add(2, 0.5)
	a.add(6, 0.25)
	a.add(4, 0.25)
	// cumulative weight reaches exactly half at 2, so average with 4
	if got := *a.result([]string{"median"})["median"]; got != 3 {
		t.Fatalf("median=%v want 3", got)
	}
}

func TestAccumulator_Empty(t *testing.T) {
	names := Names()
	got := newAccumulator(names).result(names)
	if *got["count"] != 0 || *got["sum"] != 0 {
		t.Fatalf("count/sum should be zero, got %v %v", got["count"], got["sum"])
	}
	for _, k := range []string{"mean", "min", "max", "median", "stdev", "variance"} {
		v, ok := got[k]
		if !ok || v != nil {
			t.Fatalf("%s should be present and null, got %v (present=%t)", k, v, ok)
		}
	}
}
