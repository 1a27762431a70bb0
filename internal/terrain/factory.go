package terrain

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/cog"
	"github.com/geoforge/ctod/internal/config"
	"github.com/geoforge/ctod/internal/logger"
	"github.com/geoforge/ctod/internal/mesher"
	"github.com/geoforge/ctod/internal/metrics"
	"github.com/geoforge/ctod/internal/qmesh"
	"github.com/geoforge/ctod/internal/tilecache"
	"github.com/geoforge/ctod/internal/tms"
)

// windowSize is the pixel size elevation windows are read at.
const windowSize = 256

// DefaultTimeout bounds one tile request end to end.
const DefaultTimeout = 30 * time.Second

// Source is what the factory reads elevation from. The production
// implementation wraps the COG reader pool; tests substitute counting stubs.
type Source interface {
	// Footprint returns the dataset's geographic envelope.
	Footprint(ctx context.Context, dataset string) (tms.Bounds, error)

	// ReadWindow reads a window of the dataset; fully-outside windows
	// return a grid with Empty set.
	ReadWindow(ctx context.Context, dataset string, bounds tms.Bounds, w, h int, resampling string, noData float64) (*cog.ElevationGrid, error)
}

// PoolSource adapts the COG reader pool to the factory's Source.
type PoolSource struct {
	Pool *cog.Pool
}

func (s PoolSource) Footprint(_ context.Context, dataset string) (tms.Bounds, error) {
	r, err := s.Pool.Get(dataset)
	if err != nil {
		return tms.Bounds{}, err
	}
	return r.Footprint(), nil
}

func (s PoolSource) ReadWindow(ctx context.Context, dataset string, bounds tms.Bounds, w, h int, resampling string, noData float64) (*cog.ElevationGrid, error) {
	r, err := s.Pool.Get(dataset)
	if err != nil {
		return nil, err
	}
	return r.ReadWindow(ctx, bounds, w, h, resampling, noData)
}

// Options tune the factory.
type Options struct {
	CacheBytes  int64            // processed-window cache budget, 0 = 256 MiB
	Workers     int              // CPU worker pool size, 0 = NumCPU
	MaxRequests int              // concurrent requests admitted, 0 = 2x workers
	Timeout     time.Duration    // per-request wall clock, 0 = 30 s
	DiskCache   *tilecache.Cache // nil disables the on-disk tile cache
}

// Factory orchestrates terrain tile production: it plans the nine windows a
// tile needs, fans the fetches out through the coalescer, meshes and
// stitches on the worker pool, encodes, and persists.
type Factory struct {
	src       Source
	cache     *WindowCache
	coalescer *Coalescer
	pool      *WorkerPool
	admission chan struct{}
	disk      *tilecache.Cache
	timeout   time.Duration
}

// NewFactory creates a factory over a source.
func NewFactory(src Source, opts Options) *Factory {
	cache := NewWindowCache(opts.CacheBytes)
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	maxRequests := opts.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 2 * workers
	}
	return &Factory{
		src:       src,
		cache:     cache,
		coalescer: NewCoalescer(cache),
		pool:      NewWorkerPool(workers),
		admission: make(chan struct{}, maxRequests),
		disk:      opts.DiskCache,
		timeout:   timeout,
	}
}

// Close releases the factory's workers and cache.
func (f *Factory) Close() {
	f.pool.Close()
	f.cache.Stop()
}

// request states; strictly sequential per request, FAILED reachable from
// any of them, none re-entered.
type state int

const (
	statePlanning state = iota
	stateFetching
	stateMeshing
	stateStitching
	stateEncoding
	statePersisting
	stateDone
	stateFailed
)

var stateNames = [...]string{"PLANNING", "FETCHING", "MESHING", "STITCHING", "ENCODING", "PERSISTING", "DONE", "FAILED"}

// tileRun tracks one request through its states.
type tileRun struct {
	tile  tms.Tile
	state state
}

func (r *tileRun) advance(to state) {
	r.state = to
	logger.Log.Debug("tile state", zap.String("tile", r.tile.String()), zap.String("state", stateNames[to]))
}

// GetTile produces the terrain artifact for one tile. Requests above the
// admission limit are rejected with Overloaded rather than buffered.
func (f *Factory) GetTile(ctx context.Context, matrix *tms.TileMatrixSet, tile tms.Tile, opts config.TileOptions) (*tilecache.Artifact, error) {
	select {
	case f.admission <- struct{}{}:
		defer func() { <-f.admission }()
	default:
		return nil, apperr.New(apperr.Overloaded, "too many requests in flight")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	run := &tileRun{tile: tile, state: statePlanning}

	art, err := f.getTile(ctx, run, matrix, tile, opts)
	if err != nil {
		run.advance(stateFailed)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.Timeout, err, "tile "+tile.String())
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, err
	}
	run.advance(stateDone)
	metrics.TileDuration.Observe(time.Since(start).Seconds())
	metrics.TilesServed.WithLabelValues(opts.MeshingMethod).Inc()
	return art, nil
}

func (f *Factory) getTile(ctx context.Context, run *tileRun, matrix *tms.TileMatrixSet, tile tms.Tile, opts config.TileOptions) (*tilecache.Artifact, error) {
	fingerprint := cog.Fingerprint(opts.Cog)

	// Disk cache first.
	if f.disk != nil && !opts.SkipCache {
		if art, ok := f.disk.Get(fingerprint, opts.MeshingMethod, opts.ResamplingMethod, tile.Z, tile.X, tile.Y); ok {
			metrics.DiskCacheHits.Inc()
			return art, nil
		}
	}

	bounds, err := matrix.Bounds(tile)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, err, "tile index")
	}

	// Empty-tile fast path: below minZoom no COG I/O happens at all.
	if tile.Z < opts.MinZoom {
		return f.emptyTile(run, fingerprint, opts, tile, bounds)
	}

	footprint, err := f.src.Footprint(ctx, opts.Cog)
	if err != nil {
		return nil, err
	}
	if !bounds.Intersects(footprint) {
		return f.emptyTile(run, fingerprint, opts, tile, bounds)
	}

	// Plan the nine windows: self plus the neighbors inside the footprint.
	plan := f.planWindows(matrix, tile, footprint, opts)

	run.advance(stateFetching)
	grids, err := f.fetchWindows(ctx, plan)
	if err != nil {
		return nil, err
	}

	selfGrid := grids[selfSlot]
	if selfGrid == nil || selfGrid.Empty {
		return f.emptyTile(run, fingerprint, opts, tile, bounds)
	}

	run.advance(stateMeshing)
	meshes, err := f.meshWindows(ctx, tile.Z, grids, opts)
	if err != nil {
		return nil, err
	}

	run.advance(stateStitching)
	selfMesh := meshes[selfSlot]
	neighborMeshes := make(map[Direction]*mesher.Mesh, 8)
	for _, d := range Directions {
		neighborMeshes[d] = meshes[slotFor(d)]
	}
	if err := f.pool.Run(ctx, func() error {
		Stitch(selfMesh, neighborMeshes)
		return nil
	}); err != nil {
		return nil, err
	}

	run.advance(stateEncoding)
	var encoded []byte
	if err := f.pool.Run(ctx, func() error {
		var encErr error
		encoded, encErr = qmesh.Encode(selfMesh)
		return encErr
	}); err != nil {
		return nil, err
	}

	run.advance(statePersisting)
	return f.persist(fingerprint, opts, tile, encoded), nil
}

// Window slots: 0 is the self tile, 1..8 the directions in Directions order.
const selfSlot = 0

func slotFor(d Direction) int { return int(d) + 1 }

// plannedWindow is one of a request's wanted windows.
type plannedWindow struct {
	key    WindowKey
	bounds tms.Bounds
	absent bool
}

func (f *Factory) planWindows(matrix *tms.TileMatrixSet, tile tms.Tile, footprint tms.Bounds, opts config.TileOptions) []plannedWindow {
	plan := make([]plannedWindow, 9)
	mk := func(t tms.Tile) plannedWindow {
		b, err := matrix.Bounds(t)
		if err != nil {
			return plannedWindow{absent: true}
		}
		return plannedWindow{
			key: WindowKey{
				Dataset:    opts.Cog,
				TMS:        matrix.ID(),
				Z:          t.Z,
				X:          t.X,
				Y:          t.Y,
				Resampling: opts.ResamplingMethod,
				NoData:     opts.NoData,
				MeshParam:  opts.MeshParam(t.Z),
				Method:     opts.MeshingMethod,
			},
			bounds: b,
			absent: !b.Intersects(footprint),
		}
	}

	plan[selfSlot] = mk(tile)
	for _, d := range Directions {
		x, y := Move(tile.X, tile.Y, d)
		n := tms.Tile{Z: tile.Z, X: x, Y: y}
		if !matrix.Valid(n) {
			plan[slotFor(d)] = plannedWindow{absent: true}
			continue
		}
		plan[slotFor(d)] = mk(n)
	}
	return plan
}

// fetchWindows resolves every planned window through the coalescer. The
// self window is fatal on failure; neighbors degrade to absent.
func (f *Factory) fetchWindows(ctx context.Context, plan []plannedWindow) ([]*cog.ElevationGrid, error) {
	grids := make([]*cog.ElevationGrid, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	for i := range plan {
		if plan[i].absent {
			continue
		}
		slot := i
		w := plan[i]
		g.Go(func() error {
			grid, err := f.coalescer.GetOrFetch(gctx, w.key, func() (*cog.ElevationGrid, error) {
				// Detached from the request: the fetch outlives cancelled
				// waiters and populates the cache for the next request.
				return f.readWindow(context.Background(), w)
			})
			if err != nil {
				if slot == selfSlot {
					return err
				}
				if apperr.IsKind(err, apperr.SourceUnavailable) {
					logger.Log.Warn("neighbor window unavailable, treating as absent",
						zap.String("window", w.key.Fingerprint()), zap.Error(err))
					return nil
				}
				return err
			}
			grids[slot] = grid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i := range grids {
		if grids[i] != nil && grids[i].Empty {
			if i != selfSlot {
				grids[i] = nil
			}
		}
	}
	return grids, nil
}

// readWindow performs the expensive load on the worker pool.
func (f *Factory) readWindow(ctx context.Context, w plannedWindow) (*cog.ElevationGrid, error) {
	var grid *cog.ElevationGrid
	err := f.pool.Run(ctx, func() error {
		var readErr error
		grid, readErr = f.src.ReadWindow(ctx, w.key.Dataset, w.bounds, windowSize, windowSize, w.key.Resampling, w.key.NoData)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return grid, nil
}

// meshWindows meshes the self window and every present neighbor on the
// worker pool. Neighbors are meshed fully; the stitcher consumes only their
// boundary.
func (f *Factory) meshWindows(ctx context.Context, z int, grids []*cog.ElevationGrid, opts config.TileOptions) ([]*mesher.Mesh, error) {
	m, err := mesher.For(opts.MeshingMethod)
	if err != nil {
		return nil, err
	}
	params := mesher.Params{
		GridSize:       opts.GridSizeFor(z),
		MaxError:       opts.MaxErrorFor(z),
		ComputeNormals: true,
	}

	meshes := make([]*mesher.Mesh, len(grids))
	g, gctx := errgroup.WithContext(ctx)
	for i := range grids {
		if grids[i] == nil {
			continue
		}
		slot := i
		grid := grids[i]
		g.Go(func() error {
			return f.pool.Run(gctx, func() error {
				mesh, meshErr := m.Mesh(grid, params)
				if meshErr != nil {
					return apperr.Wrap(apperr.MeshingFailed, meshErr, "window")
				}
				meshes[slot] = mesh
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return meshes, nil
}

func (f *Factory) emptyTile(run *tileRun, fingerprint string, opts config.TileOptions, tile tms.Tile, bounds tms.Bounds) (*tilecache.Artifact, error) {
	run.advance(stateEncoding)
	encoded, err := EncodeEmptyTile(bounds)
	if err != nil {
		return nil, err
	}
	metrics.EmptyTiles.Inc()
	run.advance(statePersisting)
	return f.persist(fingerprint, opts, tile, encoded), nil
}

// persist writes the tile to the disk cache when configured. Failures are
// logged and the tile is still served.
func (f *Factory) persist(fingerprint string, opts config.TileOptions, tile tms.Tile, encoded []byte) *tilecache.Artifact {
	if f.disk != nil {
		if err := f.disk.Put(fingerprint, opts.MeshingMethod, opts.ResamplingMethod, tile.Z, tile.X, tile.Y, encoded); err != nil {
			logger.Log.Warn("tile cache write failed", zap.String("tile", tile.String()), zap.Error(err))
		}
	}
	return &tilecache.Artifact{
		Bytes:       encoded,
		ContentType: qmesh.ContentType,
		ETag:        tilecache.ETag(encoded),
		CreatedAt:   time.Now(),
	}
}
