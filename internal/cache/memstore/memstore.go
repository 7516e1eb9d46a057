// Package memstore is an in-process LRU implementation of cache.Interface.
package memstore

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/zonalstats/internal/cache"
	"github.com/mohammed-shakir/zonalstats/internal/core/observability"
)

type entry struct {
	raster  string
	val     []byte
	expires time.Time
}

type Store struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

var _ cache.Interface = (*Store)(nil)

func New(size int) (*Store, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Store{lru: c, now: time.Now}, nil
}

func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	now := s.now()
	for _, k := range keys {
		e, ok := s.lru.Get(k)
		if !ok {
			continue
		}
		if !e.expires.IsZero() && now.After(e.expires) {
			s.lru.Remove(k)
			continue
		}
		out[k] = e.val
	}
	observability.ObserveCacheOp("mget", nil, time.Since(start).Seconds())
	return out, nil
}

func (s *Store) Set(ctx context.Context, rasterID, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
		return err
	}
	e := entry{raster: rasterID, val: val}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.lru.Add(key, e)
	observability.ObserveCacheOp("set", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) DelRaster(_ context.Context, rasterID string) (int, error) {
	start := time.Now()
	n := 0
	for _, k := range s.lru.Keys() {
		if e, ok := s.lru.Peek(k); ok && e.raster == rasterID {
			s.lru.Remove(k)
			n++
		}
	}
	observability.ObserveCacheOp("del_raster", nil, time.Since(start).Seconds())
	return n, nil
}

func (s *Store) Len() int { return s.lru.Len() }

func (s *Store) Close() error {
	s.lru.Purge()
	return nil
}
