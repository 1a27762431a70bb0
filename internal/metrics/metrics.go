// Package metrics exposes prometheus instrumentation for the terrain pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CogReads counts window reads that reached the COG reader.
	CogReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctod_cog_reads_total",
		Help: "Window reads that reached the COG reader.",
	})

	// WindowCacheHits counts processed-window cache hits.
	WindowCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctod_window_cache_hits_total",
		Help: "Processed-window cache hits.",
	})

	// WindowCacheMisses counts processed-window cache misses.
	WindowCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctod_window_cache_misses_total",
		Help: "Processed-window cache misses.",
	})

	// CoalescedWaiters counts waiters that received a window fetch result
	// shared with at least one other waiter, the waiter that started the
	// fetch included.
	CoalescedWaiters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctod_coalesced_waiters_total",
		Help: "Waiters served by a window fetch shared with other waiters.",
	})

	// TilesServed counts terrain tiles served, by meshing method.
	TilesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctod_tiles_served_total",
		Help: "Terrain tiles served.",
	}, []string{"method"})

	// EmptyTiles counts empty tiles synthesized.
	EmptyTiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctod_empty_tiles_total",
		Help: "Empty terrain tiles synthesized.",
	})

	// DiskCacheHits counts tiles served straight from the disk cache.
	DiskCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctod_disk_cache_hits_total",
		Help: "Tiles served from the on-disk tile cache.",
	})

	// TileDuration observes end-to-end tile generation time.
	TileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ctod_tile_duration_seconds",
		Help:    "End-to-end terrain tile generation duration.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
