package cog

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/tms"
)

// writeTestCOG builds a minimal tiled little-endian float32 GeoTIFF:
// one IFD, uncompressed, 16x16 tiles, georeferenced in degrees with the
// given origin and pixel scale. heights is width x height row-major.
func writeTestCOG(t *testing.T, path string, width, height int, originX, originY, scale float64, noData *float64, heights func(x, y int) float32) {
	t.Helper()

	const tileSize = 16
	tilesAcross := (width + tileSize - 1) / tileSize
	tilesDown := (height + tileSize - 1) / tileSize

	type entry struct {
		tag   uint16
		ftype uint16
		count uint32
		value uint32
	}

	var tileData bytes.Buffer
	tileOffsets := make([]uint32, tilesAcross*tilesDown)
	tileCounts := make([]uint32, tilesAcross*tilesDown)

	// Header (8) + IFD written later; tiles start far enough in.
	const dataStart = 4096
	for ty := 0; ty < tilesDown; ty++ {
		for tx := 0; tx < tilesAcross; tx++ {
			idx := ty*tilesAcross + tx
			tileOffsets[idx] = uint32(dataStart + tileData.Len())
			for py := 0; py < tileSize; py++ {
				for px := 0; px < tileSize; px++ {
					x := tx*tileSize + px
					y := ty*tileSize + py
					var v float32
					if x < width && y < height {
						v = heights(x, y)
					}
					binary.Write(&tileData, binary.LittleEndian, math.Float32bits(v))
				}
			}
			tileCounts[idx] = uint32(dataStart+tileData.Len()) - tileOffsets[idx]
		}
	}

	// External values (arrays > 4 bytes) live after the tile data.
	extStart := dataStart + tileData.Len()
	var ext bytes.Buffer
	extOffset := func() uint32 { return uint32(extStart + ext.Len()) }

	writeLongs := func(vals []uint32) uint32 {
		off := extOffset()
		for _, v := range vals {
			binary.Write(&ext, binary.LittleEndian, v)
		}
		return off
	}
	writeDoubles := func(vals []float64) uint32 {
		off := extOffset()
		for _, v := range vals {
			binary.Write(&ext, binary.LittleEndian, math.Float64bits(v))
		}
		return off
	}

	entries := []entry{
		{tagImageWidth, 4, 1, uint32(width)},
		{tagImageLength, 4, 1, uint32(height)},
		{tagBitsPerSample, 3, 1, 32},
		{tagCompression, 3, 1, compressionNone},
		{tagSampleFormat, 3, 1, sampleFormatFloat},
		{tagTileWidth, 3, 1, tileSize},
		{tagTileLength, 3, 1, tileSize},
	}
	if len(tileOffsets) == 1 {
		entries = append(entries,
			entry{tagTileOffsets, 4, 1, tileOffsets[0]},
			entry{tagTileByteCounts, 4, 1, tileCounts[0]},
		)
	} else {
		entries = append(entries,
			entry{tagTileOffsets, 4, uint32(len(tileOffsets)), writeLongs(tileOffsets)},
			entry{tagTileByteCounts, 4, uint32(len(tileCounts)), writeLongs(tileCounts)},
		)
	}
	entries = append(entries,
		entry{tagModelPixelScale, 12, 3, writeDoubles([]float64{scale, scale, 0})},
		entry{tagModelTiepoint, 12, 6, writeDoubles([]float64{0, 0, 0, originX, originY, 0})},
	)
	if noData != nil {
		s := []byte("-9999\x00")
		off := extOffset()
		ext.Write(s)
		entries = append(entries, entry{gdalNoDataTag, 2, uint32(len(s)), off})
	}

	var buf bytes.Buffer
	buf.Write([]byte{0x49, 0x49}) // little endian
	binary.Write(&buf, binary.LittleEndian, uint16(tiffIdentifier))
	binary.Write(&buf, binary.LittleEndian, uint32(8)) // IFD at offset 8

	binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, e.tag)
		binary.Write(&buf, binary.LittleEndian, e.ftype)
		binary.Write(&buf, binary.LittleEndian, e.count)
		binary.Write(&buf, binary.LittleEndian, e.value)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // no next IFD

	if buf.Len() > dataStart {
		t.Fatalf("IFD overflowed reserved header space: %d", buf.Len())
	}
	buf.Write(make([]byte, dataStart-buf.Len()))
	buf.Write(tileData.Bytes())
	buf.Write(ext.Bytes())

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func openTestCOG(t *testing.T, opts Options, heights func(x, y int) float32) *Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tif")
	// 64x64 pixels covering 6.4 x 6.4 degrees from (5N, 5E) southward.
	writeTestCOG(t, path, 64, 64, 5, 5, 0.1, nil, heights)
	r, err := Open(path, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFootprint(t *testing.T) {
	r := openTestCOG(t, Options{}, func(x, y int) float32 { return 0 })
	got := r.Footprint()
	want := tms.Bounds{West: 5, North: 5, East: 11.4, South: -1.4}
	const eps = 1e-9
	if math.Abs(got.West-want.West) > eps || math.Abs(got.East-want.East) > eps ||
		math.Abs(got.North-want.North) > eps || math.Abs(got.South-want.South) > eps {
		t.Errorf("Footprint() = %+v, want %+v", got, want)
	}
}

func TestReadWindowNearest(t *testing.T) {
	r := openTestCOG(t, Options{}, func(x, y int) float32 { return float32(x) })
	grid, err := r.ReadWindow(context.Background(), tms.Bounds{West: 5, South: 3.4, East: 6.6, North: 5}, 16, 16, ResamplingNearest, 0)
	if err != nil {
		t.Fatal(err)
	}
	if grid.Empty {
		t.Fatal("grid unexpectedly empty")
	}
	if grid.Width != 16 || grid.Height != 16 {
		t.Fatalf("grid is %dx%d", grid.Width, grid.Height)
	}
	// The window covers source pixels 0..15; each output column maps 1:1.
	if got := grid.At(0, 0); got != 0 {
		t.Errorf("At(0,0) = %v, want 0", got)
	}
	if got := grid.At(15, 0); got != 15 {
		t.Errorf("At(15,0) = %v, want 15", got)
	}
}

func TestReadWindowBilinearIsMonotone(t *testing.T) {
	r := openTestCOG(t, Options{}, func(x, y int) float32 { return float32(x) })
	grid, err := r.ReadWindow(context.Background(), tms.Bounds{West: 5, South: 3.4, East: 6.6, North: 5}, 16, 16, ResamplingBilinear, 0)
	if err != nil {
		t.Fatal(err)
	}
	for col := 1; col < grid.Width; col++ {
		if grid.At(col, 8) < grid.At(col-1, 8) {
			t.Fatalf("bilinear resample not monotone at col %d: %v < %v", col, grid.At(col, 8), grid.At(col-1, 8))
		}
	}
}

func TestReadWindowOutsideDataset(t *testing.T) {
	r := openTestCOG(t, Options{}, func(x, y int) float32 { return 1 })
	grid, err := r.ReadWindow(context.Background(), tms.Bounds{West: 100, South: 40, East: 101, North: 41}, 8, 8, ResamplingNearest, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !grid.Empty {
		t.Error("window fully outside the dataset should return an empty grid")
	}
}

func TestNoDataReplacement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodata.tif")
	nd := -9999.0
	writeTestCOG(t, path, 64, 64, 5, 5, 0.1, &nd, func(x, y int) float32 {
		if x == 3 && y == 2 {
			return -9999
		}
		return 7
	})
	r, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if v, ok := r.NoDataValue(); !ok || v != -9999 {
		t.Fatalf("NoDataValue() = %v, %v", v, ok)
	}

	grid, err := r.ReadWindow(context.Background(), tms.Bounds{West: 5, South: 3.4, East: 6.6, North: 5}, 16, 16, ResamplingNearest, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got := grid.At(3, 2); got != 42 {
		t.Errorf("NoData cell = %v, want the replacement 42", got)
	}
	if grid.NoData == nil || !grid.NoData[2*16+3] {
		t.Error("NoData cell not flagged")
	}
	if got := grid.At(4, 2); got != 7 {
		t.Errorf("data cell = %v, want 7", got)
	}
}

func TestUnsafeRequestRefused(t *testing.T) {
	r := openTestCOG(t, Options{PixelBudget: 100}, func(x, y int) float32 { return 0 })
	// Reading the whole dataset at 8x8 needs all 64x64 source pixels.
	_, err := r.ReadWindow(context.Background(), tms.Bounds{West: 5, South: -1.4, East: 11.4, North: 5}, 8, 8, ResamplingAverage, 0)
	if !apperr.IsKind(err, apperr.UnsafeRequest) {
		t.Errorf("err = %v, want UnsafeRequest", err)
	}

	unsafe := openTestCOG(t, Options{PixelBudget: 100, Unsafe: true}, func(x, y int) float32 { return 0 })
	if _, err := unsafe.ReadWindow(context.Background(), tms.Bounds{West: 5, South: -1.4, East: 11.4, North: 5}, 8, 8, ResamplingAverage, 0); err != nil {
		t.Errorf("unsafe read failed: %v", err)
	}
}

func TestSourceUnavailable(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.tif"), Options{})
	if !apperr.IsKind(err, apperr.SourceUnavailable) {
		t.Errorf("err = %v, want SourceUnavailable", err)
	}
}

func TestValidResampling(t *testing.T) {
	for _, name := range []string{"none", "nearest", "bilinear", "cubic", "cubic_spline", "lanczos", "average", "mode", "gauss", "rms"} {
		if !ValidResampling(name) {
			t.Errorf("%q should be valid", name)
		}
	}
	if ValidResampling("spline9000") {
		t.Error("unknown method accepted")
	}
}
