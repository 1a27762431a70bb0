// Package tms models the tile matrix sets the terrain endpoints understand.
//
// Two schemes are registered: WebMercatorQuad (one root tile, spherical
// mercator) and WGS1984Quad (two root tiles across the antimeridian, the
// scheme the Cesium quantized-mesh client requests tiles in). Tile indices
// use the TMS convention with row 0 at the north edge; the Cesium client
// sends rows flipped, callers unflip with FlipY.
package tms

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	WebMercatorQuad = "WebMercatorQuad"
	WGS1984Quad     = "WGS1984Quad"

	earthRadius = 6378137.0

	// Inset applied before computing index bounds so an envelope touching a
	// tile boundary does not claim the next tile over.
	llEpsilon = 1e-11
)

var (
	ErrNoSuchTMS       = errors.New("no such tile matrix set")
	ErrTileOutOfRange  = errors.New("tile out of range")
	webMercatorExtent  = Bounds{West: -180, South: -85.051128779806604, East: 180, North: 85.051128779806604}
	wgs1984QuadExtent  = Bounds{West: -180, South: -90, East: 180, North: 90}
	registeredMatrices = map[string]*TileMatrixSet{
		WebMercatorQuad: {id: WebMercatorQuad, rootTilesX: 1, extent: webMercatorExtent, mercator: true},
		WGS1984Quad:     {id: WGS1984Quad, rootTilesX: 2, extent: wgs1984QuadExtent},
	}
)

// Tile identifies a tile within a matrix set.
type Tile struct {
	Z, X, Y int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Bounds is a geographic envelope in degrees.
type Bounds struct {
	West, South, East, North float64
}

// Intersects reports whether two envelopes overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.West < o.East && b.East > o.West && b.South < o.North && b.North > o.South
}

// Width returns the longitudinal extent in degrees.
func (b Bounds) Width() float64 { return b.East - b.West }

// Height returns the latitudinal extent in degrees.
func (b Bounds) Height() float64 { return b.North - b.South }

// TileMatrixSet maps tile indices to geographic and native extents.
type TileMatrixSet struct {
	id         string
	rootTilesX int
	extent     Bounds
	mercator   bool
}

// Get returns the named tile matrix set.
func Get(id string) (*TileMatrixSet, error) {
	if id == "" {
		return Default(), nil
	}
	t, ok := registeredMatrices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchTMS, id)
	}
	return t, nil
}

// Default returns the WebMercatorQuad matrix set.
func Default() *TileMatrixSet {
	return registeredMatrices[WebMercatorQuad]
}

// ID returns the matrix set name.
func (t *TileMatrixSet) ID() string { return t.id }

// Extent returns the full geographic envelope of the matrix set.
func (t *TileMatrixSet) Extent() Bounds { return t.extent }

// MinMax returns the valid tile index range at a zoom level, inclusive.
func (t *TileMatrixSet) MinMax(z int) (minX, minY, maxX, maxY int) {
	return 0, 0, t.rootTilesX<<z - 1, 1<<z - 1
}

// Valid reports whether the tile index exists at its zoom level.
func (t *TileMatrixSet) Valid(tile Tile) bool {
	if tile.Z < 0 || tile.Z > 30 {
		return false
	}
	_, _, maxX, maxY := t.MinMax(tile.Z)
	return tile.X >= 0 && tile.X <= maxX && tile.Y >= 0 && tile.Y <= maxY
}

// Bounds returns the geographic envelope of a tile in degrees.
func (t *TileMatrixSet) Bounds(tile Tile) (Bounds, error) {
	if !t.Valid(tile) {
		return Bounds{}, fmt.Errorf("%w: %s in %s", ErrTileOutOfRange, tile, t.id)
	}
	if t.mercator {
		b := maptile.Tile{X: uint32(tile.X), Y: uint32(tile.Y), Z: maptile.Zoom(tile.Z)}.Bound()
		return Bounds{West: b.Min[0], South: b.Min[1], East: b.Max[0], North: b.Max[1]}, nil
	}
	cols := float64(t.rootTilesX << tile.Z)
	rows := float64(int(1) << tile.Z)
	dx := 360.0 / cols
	dy := 180.0 / rows
	return Bounds{
		West:  -180 + float64(tile.X)*dx,
		East:  -180 + float64(tile.X+1)*dx,
		North: 90 - float64(tile.Y)*dy,
		South: 90 - float64(tile.Y+1)*dy,
	}, nil
}

// NativeBounds returns the tile envelope in the matrix set's native units:
// spherical-mercator meters for WebMercatorQuad, degrees otherwise.
func (t *TileMatrixSet) NativeBounds(tile Tile) (Bounds, error) {
	b, err := t.Bounds(tile)
	if err != nil {
		return Bounds{}, err
	}
	if !t.mercator {
		return b, nil
	}
	return Bounds{
		West:  mercatorX(b.West),
		East:  mercatorX(b.East),
		South: mercatorY(b.South),
		North: mercatorY(b.North),
	}, nil
}

// FlipY converts between TMS rows and Cesium rows at a zoom level.
func (t *TileMatrixSet) FlipY(z, y int) int {
	_, _, _, maxY := t.MinMax(z)
	return maxY - y
}

// TileAt returns the tile containing a geographic point at a zoom level.
func (t *TileMatrixSet) TileAt(lon, lat float64, z int) Tile {
	if t.mercator {
		mt := maptile.At(orb.Point{lon, lat}, maptile.Zoom(z))
		return Tile{Z: z, X: int(mt.X), Y: int(mt.Y)}
	}
	cols := t.rootTilesX << z
	rows := 1 << z
	x := int(math.Floor((lon + 180) / 360 * float64(cols)))
	y := int(math.Floor((90 - lat) / 180 * float64(rows)))
	if x < 0 {
		x = 0
	}
	if x >= cols {
		x = cols - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= rows {
		y = rows - 1
	}
	return Tile{Z: z, X: x, Y: y}
}

// Neighbors returns the up-to-eight tiles surrounding a tile, clipped to the
// matrix set's index range.
func (t *TileMatrixSet) Neighbors(tile Tile) []Tile {
	var out []Tile
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := Tile{Z: tile.Z, X: tile.X + dx, Y: tile.Y + dy}
			if t.Valid(n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// IndexBounds returns the inclusive Cesium-row tile index range covering a
// geographic envelope at a zoom level. Used to build layer.json availability.
func (t *TileMatrixSet) IndexBounds(b Bounds, z int) (startX, startY, endX, endY int) {
	w := math.Max(t.extent.West, b.West)
	s := math.Max(t.extent.South, b.South)
	e := math.Min(t.extent.East, b.East)
	n := math.Min(t.extent.North, b.North)

	nw := t.TileAt(w+llEpsilon, n-llEpsilon, z)
	se := t.TileAt(e-llEpsilon, s+llEpsilon, z)

	minX := min(nw.X, se.X)
	maxX := max(nw.X, se.X)
	minY := min(nw.Y, se.Y)
	maxY := max(nw.Y, se.Y)

	// Flip rows for the Cesium client.
	return minX, t.FlipY(z, maxY), maxX, t.FlipY(z, minY)
}

func mercatorX(lon float64) float64 {
	return earthRadius * lon * math.Pi / 180
}

func mercatorY(lat float64) float64 {
	return earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
}
