package terrain

import (
	"github.com/geoforge/ctod/internal/mesher"
	"github.com/geoforge/ctod/internal/qmesh"
	"github.com/geoforge/ctod/internal/tms"
)

// EmptyTileMesh builds the canonical tile for areas outside the dataset:
// four corner vertices at height zero, two triangles, and the ellipsoid
// surface normal at each corner. Identical for every meshing method.
func EmptyTileMesh(bounds tms.Bounds) *mesher.Mesh {
	m := &mesher.Mesh{
		Bounds: bounds,
		Vertices: [][3]float64{
			{0, 0, 0}, // SW
			{1, 0, 0}, // SE
			{1, 1, 0}, // NE
			{0, 1, 0}, // NW
		},
		Triangles: [][3]uint32{
			{0, 1, 2},
			{0, 2, 3},
		},
	}
	m.Normals = make([][3]float64, 4)
	for i, v := range m.Vertices {
		lon := bounds.West + v[0]*bounds.Width()
		lat := bounds.South + v[1]*bounds.Height()
		m.Normals[i] = mesher.GeodeticNormal(lon, lat)
	}
	m.BuildEdges()
	return m
}

// EncodeEmptyTile encodes the canonical empty tile for a tile envelope.
func EncodeEmptyTile(bounds tms.Bounds) ([]byte, error) {
	return qmesh.Encode(EmptyTileMesh(bounds))
}
