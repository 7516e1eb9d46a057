package raster

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BandCache keeps recently decoded bands across datasets.
type BandCache struct {
	lru *lru.Cache[string, *Band]
}

// NewBandCache holds at most size bands.
func NewBandCache(size int) (*BandCache, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, *Band](size)
	if err != nil {
		return nil, err
	}
	return &BandCache{lru: c}, nil
}

func bandKey(dataset string, band int) string {
	return dataset + "#" + strconv.Itoa(band)
}

func (c *BandCache) get(dataset string, band int) (*Band, bool) {
	return c.lru.Get(bandKey(dataset, band))
}

func (c *BandCache) add(dataset string, band int, b *Band) {
	c.lru.Add(bandKey(dataset, band), b)
}

func (c *BandCache) evict(dataset string) {
	prefix := dataset + "#"
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
}

// Len reports the number of cached bands.
func (c *BandCache) Len() int { return c.lru.Len() }
