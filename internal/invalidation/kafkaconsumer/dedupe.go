package kafkaconsumer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// versionDedupe remembers the newest raster version evicted per raster id,
// so redelivered events do not evict twice.
type versionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newVersionDedupe(size int) *versionDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &versionDedupe{lru: c}
}

// seen reports whether an event for id at version v or newer was already
// applied. Version 0 is never deduplicated.
func (d *versionDedupe) seen(id string, v uint64) bool {
	if v == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(id); ok && v <= last {
		return true
	}
	return false
}

func (d *versionDedupe) mark(id string, v uint64) {
	if v == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(id); ok && v <= last {
		return
	}
	d.lru.Add(id, v)
}
