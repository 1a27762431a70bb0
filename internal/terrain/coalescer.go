package terrain

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/geoforge/ctod/internal/cog"
	"github.com/geoforge/ctod/internal/metrics"
)

// Coalescer guarantees at most one in-flight fetch per window fingerprint
// and fans the shared result out to every waiter. Adjacent tile requests
// overlap in eight of their nine windows, so this is what keeps concurrent
// panning from multiplying COG reads.
//
// Cancellation policy: a waiter abandoning its request never cancels the
// shared work. The fetch runs to completion and populates the cache, so the
// next request for the same window is a hit even if every original waiter
// disconnected.
type Coalescer struct {
	cache *WindowCache
	group singleflight.Group
}

// NewCoalescer creates a coalescer publishing into the given cache.
func NewCoalescer(cache *WindowCache) *Coalescer {
	return &Coalescer{cache: cache}
}

// GetOrFetch returns the window from the cache, or attaches to the single
// fetch in flight for its fingerprint, spawning one if needed. All waiters
// observe the same grid handle or the same error, in attach order.
func (c *Coalescer) GetOrFetch(ctx context.Context, key WindowKey, produce func() (*cog.ElevationGrid, error)) (*cog.ElevationGrid, error) {
	fingerprint := key.Fingerprint()
	if grid, ok := c.cache.Get(fingerprint); ok {
		return grid, nil
	}

	ch := c.group.DoChan(fingerprint, func() (any, error) {
		// A fetch that finished between the cache check and here already
		// published; don't read the source twice.
		if grid, ok := c.cache.Get(fingerprint); ok {
			return grid, nil
		}
		grid, err := produce()
		if err != nil {
			return nil, err
		}
		c.cache.Set(fingerprint, grid)
		return grid, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.CoalescedWaiters.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cog.ElevationGrid), nil
	case <-ctx.Done():
		// The shared fetch keeps running to populate the cache.
		return nil, ctx.Err()
	}
}
