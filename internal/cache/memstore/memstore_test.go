package memstore

import (
	"context"
	"testing"
	"time"
)

func TestSetMGetDelRaster(t *testing.T) {
	s, err := New(8)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = s.Set(ctx, "r1", "k1", []byte("v1"), time.Minute)
	_ = s.Set(ctx, "r1", "k2", []byte("v2"), 0)
	_ = s.Set(ctx, "r2", "k3", []byte("v3"), time.Minute)

	got, err := s.MGet(ctx, []string{"k1", "k2", "k3", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 3 || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}

	n, err := s.DelRaster(ctx, "r1")
	if err != nil || n != 2 {
		t.Fatalf("DelRaster=%d,%v want 2", n, err)
	}
	got, _ = s.MGet(ctx, []string{"k1", "k2", "k3"})
	if len(got) != 1 || string(got["k3"]) != "v3" {
		t.Fatalf("other raster affected: %+v", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	s, _ := New(8)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "r", "ttl-key", []byte("v"), 2*time.Second)
	if got, _ := s.MGet(ctx, []string{"ttl-key"}); string(got["ttl-key"]) != "v" {
		t.Fatalf("pre expiry got=%v", got)
	}
	now = now.Add(3 * time.Second)
	if got, _ := s.MGet(ctx, []string{"ttl-key"}); len(got) != 0 {
		t.Fatalf("expected expiry, got %v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry not removed, len=%d", s.Len())
	}
}

func TestBoundedSize(t *testing.T) {
	s, _ := New(2)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		_ = s.Set(ctx, "r", k, []byte(k), 0)
	}
	got, _ := s.MGet(ctx, []string{"a", "b", "c"})
	if _, ok := got["a"]; ok || len(got) != 2 {
		t.Fatalf("oldest entry should be evicted: %v", got)
	}
}

func TestCanceledContext(t *testing.T) {
	s, _ := New(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Set(ctx, "r", "k", []byte("v"), 0); err == nil {
		t.Fatal("expected error on Set with canceled context")
	}
	if _, err := s.MGet(ctx, []string{"k"}); err == nil {
		t.Fatal("expected error on MGet with canceled context")
	}
}
