// Package cache stores computed region statistics between queries.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

type Interface interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	// Set stores val under key and indexes it under rasterID.
	Set(ctx context.Context, rasterID, key string, val []byte, ttl time.Duration) error
	// DelRaster drops every entry indexed under rasterID and returns how
	// many were removed.
	DelRaster(ctx context.Context, rasterID string) (int, error)
	Close() error
}

// Entry is the cached outcome of one region.
type Entry struct {
	Stats   model.Stats `json:"stats"`
	Outside bool        `json:"outside,omitempty"`
}

func Encode(e Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, nil
}
