package terrain

import (
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/geoforge/ctod/internal/cog"
	"github.com/geoforge/ctod/internal/metrics"
)

// DefaultCacheBytes bounds the processed-window cache.
const DefaultCacheBytes = 256 << 20

// windowCacheTTL expires windows that stop being requested; neighboring
// requests arrive within seconds of each other, so a short lifetime is
// enough to serve a panning client.
const windowCacheTTL = 5 * time.Minute

// cachedGrid adapts a grid to ccache's sized-item interface so the cache is
// bounded in bytes rather than entries.
type cachedGrid struct {
	grid *cog.ElevationGrid
}

func (c cachedGrid) Size() int64 { return c.grid.SizeBytes() }

// WindowCache is the in-memory LRU of processed elevation windows, shared
// by reference. Insertions are idempotent by key.
type WindowCache struct {
	cache *ccache.Cache[cachedGrid]
}

// NewWindowCache creates a cache bounded to maxBytes (0 means the default).
func NewWindowCache(maxBytes int64) *WindowCache {
	if maxBytes == 0 {
		maxBytes = DefaultCacheBytes
	}
	return &WindowCache{
		cache: ccache.New(ccache.Configure[cachedGrid]().MaxSize(maxBytes).ItemsToPrune(8)),
	}
}

// Get returns the cached grid for a window fingerprint.
func (c *WindowCache) Get(fingerprint string) (*cog.ElevationGrid, bool) {
	item := c.cache.Get(fingerprint)
	if item == nil || item.Expired() {
		metrics.WindowCacheMisses.Inc()
		return nil, false
	}
	metrics.WindowCacheHits.Inc()
	return item.Value().grid, true
}

// Set publishes a grid under a window fingerprint.
func (c *WindowCache) Set(fingerprint string, grid *cog.ElevationGrid) {
	c.cache.Set(fingerprint, cachedGrid{grid: grid}, windowCacheTTL)
}

// Stop releases the cache's background worker.
func (c *WindowCache) Stop() {
	c.cache.Stop()
}
