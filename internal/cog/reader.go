// Package cog reads elevation windows from Cloud Optimized GeoTIFFs.
//
// The reader is pure Go: it walks the TIFF/BigTIFF directory chain once,
// then serves windows with ranged reads against the tile grid of the best
// matching overview. Decoded tiles are cached per reader with a byte budget
// and concurrent fetches of the same tile are collapsed to a single read.
package cog

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/metrics"
	"github.com/geoforge/ctod/internal/tms"
)

const (
	defaultTileCacheBytes = 64 << 20
	tileCacheTTL          = 10 * time.Minute
)

// Options tune a Reader.
type Options struct {
	// Unsafe disables the pixel-budget refusal for under-overviewed reads.
	Unsafe bool

	// PixelBudget caps the source pixels a single window read may touch.
	// Zero means the 16 Mpx default.
	PixelBudget int64

	// TileCacheBytes bounds the decoded-tile cache. Zero means 64 MiB.
	TileCacheBytes int64
}

// Reader serves elevation windows from one dataset.
type Reader struct {
	path     string
	file     *tiffFile
	closer   io.Closer
	opts     Options
	cache    *ccache.Cache[sizedTile]
	inflight singleflight.Group
}

// sizedTile lets ccache track the decoded-tile cache in bytes.
type sizedTile struct {
	data []float32
}

func (t sizedTile) Size() int64 { return int64(len(t.data))*4 + 24 }

// Open opens a local or http(s) COG.
func Open(path string, opts Options) (*Reader, error) {
	if opts.PixelBudget == 0 {
		opts.PixelBudget = 16 << 20
	}
	cacheBytes := opts.TileCacheBytes
	if cacheBytes == 0 {
		cacheBytes = defaultTileCacheBytes
	}

	var src io.ReaderAt
	var closer io.Closer
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		hr, err := newHTTPReaderAt(path, http.DefaultClient)
		if err != nil {
			return nil, apperr.Wrap(apperr.SourceUnavailable, err, path)
		}
		src = hr
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, apperr.Wrap(apperr.SourceUnavailable, err, path)
		}
		src = f
		closer = f
	}

	file, err := parseTIFF(src)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, apperr.Wrap(apperr.SourceUnavailable, err, path)
	}

	return &Reader{
		path:   path,
		file:   file,
		closer: closer,
		opts:   opts,
		cache:  ccache.New(ccache.Configure[sizedTile]().MaxSize(cacheBytes).ItemsToPrune(16)),
	}, nil
}

// Close releases the underlying file handle, if any.
func (r *Reader) Close() error {
	r.cache.Stop()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Path returns the dataset path or URL.
func (r *Reader) Path() string { return r.path }

// Footprint returns the dataset's geographic envelope.
func (r *Reader) Footprint() tms.Bounds {
	full := &r.file.levels[0]
	w := float64(full.width) * r.file.pixelScaleX
	h := float64(full.height) * r.file.pixelScaleY
	return tms.Bounds{
		West:  r.file.originX,
		North: r.file.originY,
		East:  r.file.originX + w,
		South: r.file.originY - h,
	}
}

// NoDataValue returns the dataset's declared NoData value, if any.
func (r *Reader) NoDataValue() (float64, bool) {
	if r.file.noData == nil {
		return 0, false
	}
	return *r.file.noData, true
}

// ReadWindow reads a window of the dataset covering bounds into an
// outW x outH grid using the named resampling kernel. Dataset NoData cells
// are replaced with noData and flagged. A window fully outside the dataset
// returns a grid with Empty set rather than an error.
func (r *Reader) ReadWindow(ctx context.Context, bounds tms.Bounds, outW, outH int, resampling string, noData float64) (*ElevationGrid, error) {
	if outW <= 0 || outH <= 0 {
		return nil, apperr.New(apperr.BadRequest, "window size %dx%d", outW, outH)
	}
	if !bounds.Intersects(r.Footprint()) {
		return NewEmptyGrid(bounds), nil
	}

	kernel, err := kernelFor(resampling)
	if err != nil {
		return nil, err
	}

	targetRes := bounds.Width() / float64(outW)
	lvl := r.selectLevel(targetRes)

	// Window pixel coordinates at this level.
	res := lvl.resolution(&r.file.levels[0], r.file.pixelScaleX)
	resY := lvl.resolution(&r.file.levels[0], r.file.pixelScaleY)

	windowPixels := int64(bounds.Width()/res) * int64(bounds.Height()/resY)
	if !r.opts.Unsafe && windowPixels > r.opts.PixelBudget {
		return nil, apperr.New(apperr.UnsafeRequest,
			"window needs %d source pixels from %s, over the %d budget; add overviews or run with --unsafe",
			windowPixels, r.path, r.opts.PixelBudget)
	}

	metrics.CogReads.Inc()

	grid := &ElevationGrid{
		Width:      outW,
		Height:     outH,
		Data:       make([]float32, outW*outH),
		Bounds:     bounds,
		Resampling: resampling,
	}

	srcNoData := math.NaN()
	if r.file.noData != nil {
		srcNoData = *r.file.noData
	}

	sampler := &levelSampler{reader: r, lvl: lvl}
	for row := 0; row < outH; row++ {
		lat := bounds.North - (float64(row)+0.5)*bounds.Height()/float64(outH)
		py := (r.file.originY - lat) / resY
		for col := 0; col < outW; col++ {
			lon := bounds.West + (float64(col)+0.5)*bounds.Width()/float64(outW)
			px := (lon - r.file.originX) / res

			v, err := kernel(sampler, px, py, targetRes/res)
			if err != nil {
				return nil, apperr.Wrap(apperr.SourceUnavailable, err, r.path)
			}

			if isNoData(v, srcNoData) {
				if grid.NoData == nil {
					grid.NoData = make([]bool, outW*outH)
				}
				grid.NoData[row*outW+col] = true
				v = float32(noData)
			}
			grid.Data[row*outW+col] = v
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return grid, nil
}

// selectLevel picks the coarsest level whose resolution is still at least as
// fine as the target, so a window read touches roughly outW x outH source
// pixels or more. When no level is that fine the full-resolution image is
// chosen; when the overviews stop short of the target the coarsest one is
// read and the caller's pixel budget decides whether the read proceeds.
func (r *Reader) selectLevel(targetRes float64) *level {
	full := &r.file.levels[0]
	chosen := full
	for i := range r.file.levels {
		lvl := &r.file.levels[i]
		if lvl.resolution(full, r.file.pixelScaleX) <= targetRes*1.0001 {
			chosen = lvl
		}
	}
	return chosen
}

// levelSampler fetches decoded tiles on demand for the resampling kernels.
type levelSampler struct {
	reader *Reader
	lvl    *level
}

// at returns the sample at integer pixel coordinates, clamped to the level.
func (s *levelSampler) at(px, py int) (float32, error) {
	lvl := s.lvl
	if px < 0 {
		px = 0
	}
	if py < 0 {
		py = 0
	}
	if px >= int(lvl.width) {
		px = int(lvl.width) - 1
	}
	if py >= int(lvl.height) {
		py = int(lvl.height) - 1
	}

	tileX := px / int(lvl.tileWidth)
	tileY := py / int(lvl.tileHeight)
	tileNum := tileY*lvl.tilesAcross + tileX

	data, err := s.reader.tileData(lvl, tileNum)
	if err != nil {
		return 0, err
	}
	inX := px % int(lvl.tileWidth)
	inY := py % int(lvl.tileHeight)
	return data[inY*int(lvl.tileWidth)+inX], nil
}

// tileData returns the decoded samples of one tile, via the cache and with
// concurrent fetches collapsed.
func (r *Reader) tileData(lvl *level, tileNum int) ([]float32, error) {
	key := cacheKey(lvl, tileNum)
	if item := r.cache.Get(key); item != nil && !item.Expired() {
		return item.Value().data, nil
	}

	v, err, _ := r.inflight.Do(key, func() (any, error) {
		data, err := r.file.decodeTile(lvl, tileNum)
		if err != nil {
			return nil, err
		}
		r.cache.Set(key, sizedTile{data: data}, tileCacheTTL)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func cacheKey(lvl *level, tileNum int) string {
	return strconv.Itoa(int(lvl.width)) + "/" + strconv.Itoa(tileNum)
}

func isNoData(v float32, noData float64) bool {
	if math.IsNaN(float64(v)) {
		return true
	}
	if math.IsNaN(noData) {
		return false
	}
	return float64(v) == noData
}

// Fingerprint returns the stable dataset fingerprint used in cache keys and
// disk-cache paths.
func Fingerprint(path string) string {
	return fmt.Sprintf("%x", fnvHash(path))
}

func fnvHash(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
