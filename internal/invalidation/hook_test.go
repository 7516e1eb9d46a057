package invalidation_test

import (
	"context"
	"testing"
	"time"

	"github.com/mohammed-shakir/zonalstats/internal/cache/memstore"
	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/invalidation"
	"github.com/mohammed-shakir/zonalstats/internal/registry"
)

type sink struct{ got []invalidation.Event }

func (s *sink) Publish(ev invalidation.Event) { s.got = append(s.got, ev) }

func TestRetireHook_EvictsAndPublishes(t *testing.T) {
	st, err := memstore.New(16)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = st.Set(ctx, "aaa", "k1", []byte("1"), time.Minute)
	_ = st.Set(ctx, "bbb", "k2", []byte("2"), time.Minute)

	s := &sink{}
	hook := invalidation.RetireHook(st, s, "node-a", time.Second, nil)
	hook(registry.Retired{
		ID: "aaa", Version: 3, Reason: registry.ReasonReplace, ReplacedBy: "bbb",
		Bounds: model.Bounds{West: 10, South: 59, East: 11, North: 60},
	})

	got, _ := st.MGet(ctx, []string{"k1", "k2"})
	if _, ok := got["k1"]; ok {
		t.Fatal("retired raster entry still cached")
	}
	if _, ok := got["k2"]; !ok {
		t.Fatal("other raster entry evicted")
	}

	if len(s.got) != 1 {
		t.Fatalf("published %d events", len(s.got))
	}
	ev := s.got[0]
	if err := ev.Validate(); err != nil {
		t.Fatalf("published invalid event: %v", err)
	}
	if ev.RasterID != "aaa" || ev.ReplacedBy != "bbb" || ev.Source != "node-a" || ev.RasterVersion != 3 {
		t.Fatalf("event=%+v", ev)
	}
}

func TestRetireHook_NilDeps(t *testing.T) {
	invalidation.RetireHook(nil, nil, "", 0, nil)(registry.Retired{ID: "x"})
}
