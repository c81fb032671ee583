// Package cache implements the Build Cache: a mapping from state hash to
// layer id, with live-layer validation on read. There is no explicit
// invalidation — stale entries are silently treated as a miss and swept by
// a separate prune pass.
package cache

import (
	"os"
	"strings"

	"github.com/onkernel/zocker/lib/layers"
	"github.com/onkernel/zocker/lib/paths"
	"github.com/onkernel/zocker/lib/zockererr"
)

type Cache struct {
	paths  *paths.Paths
	layers *layers.Store
}

func New(p *paths.Paths, layerStore *layers.Store) *Cache {
	return &Cache{paths: p, layers: layerStore}
}

// Register writes <cache>/<hash> containing the layer id.
func (c *Cache) Register(hash, layerID string) error {
	if err := os.WriteFile(c.paths.CacheEntry(hash), []byte(layerID), 0644); err != nil {
		return zockererr.IO("write cache entry", err)
	}
	return nil
}

// Lookup reads <cache>/<hash>, strips a trailing newline, and checks the
// referenced layer directory still exists. Any failure (missing file,
// stale layer) is reported as a plain miss, not an error.
func (c *Cache) Lookup(hash string) (layerID string, hit bool) {
	data, err := os.ReadFile(c.paths.CacheEntry(hash))
	if err != nil {
		return "", false
	}
	id := strings.TrimRight(string(data), "\r\n")
	if id == "" || !c.layers.Exists(id) {
		return "", false
	}
	return id, true
}
