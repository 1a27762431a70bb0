// Package terrain contains the terrain factory and the pieces it drives:
// the processed-window cache, the request coalescer, the worker pool, the
// edge stitcher and the empty-tile generator.
package terrain

import (
	"fmt"

	"github.com/geoforge/ctod/internal/cog"
	"github.com/geoforge/ctod/internal/tms"
)

// TileKey identifies one requested terrain tile.
type TileKey struct {
	TMS     string
	Z, X, Y int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.TMS, k.Z, k.X, k.Y)
}

// WindowKey identifies one processed elevation window. Everything that
// changes the window's content is part of the key, including the NoData
// replacement value so windows with different fill values never alias.
type WindowKey struct {
	Dataset    string
	TMS        string
	Z, X, Y    int
	Resampling string
	NoData     float64
	MeshParam  float64 // grid size for grid meshes, max error otherwise
	Method     string
}

// Fingerprint returns the stable cache identity of the window.
func (k WindowKey) Fingerprint() string {
	return fmt.Sprintf("%s/%s/%d/%d/%d/%s/%g/%g/%s",
		cog.Fingerprint(k.Dataset), k.TMS, k.Z, k.X, k.Y,
		k.Resampling, k.NoData, k.MeshParam, k.Method)
}

// Tile returns the tile index part of the key.
func (k WindowKey) Tile() tms.Tile {
	return tms.Tile{Z: k.Z, X: k.X, Y: k.Y}
}
