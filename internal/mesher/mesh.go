// Package mesher turns elevation windows into triangulated terrain meshes.
//
// Three producers implement the same contract: a regular grid, an RTIN mesh
// (martini) driven by a max error, and a greedy Delaunay mesh (delatin)
// driven by the same. Meshes carry vertices in tile-local UV space with the
// four boundary edge lists the stitcher and encoder need.
package mesher

import (
	"math"
	"sort"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/cog"
	"github.com/geoforge/ctod/internal/tms"
)

// edgeEpsilon decides whether a vertex lies on a tile boundary.
const edgeEpsilon = 1e-9

// EdgeVertex is one boundary vertex: its parameter along the edge in [0, 1]
// and its index into the mesh vertex array.
type EdgeVertex struct {
	Param float64
	Index uint32
}

// Mesh is a triangulated terrain tile.
//
// Vertices are (u, v, height): u runs west to east and v south to north,
// both in [0, 1] over the tile bounds; height is meters. The edge lists are
// ordered by ascending parameter; corner vertices appear in both adjacent
// lists.
type Mesh struct {
	Vertices  [][3]float64
	Triangles [][3]uint32
	Normals   [][3]float64
	Bounds    tms.Bounds

	West, South, East, North []EdgeVertex
}

// Params select the mesh producer's behavior for one window.
type Params struct {
	GridSize       int
	MaxError       float64
	ComputeNormals bool
}

// Mesher produces a mesh from an elevation window.
type Mesher interface {
	Mesh(grid *cog.ElevationGrid, p Params) (*Mesh, error)
}

// Methods in dispatch order.
const (
	MethodGrid    = "grid"
	MethodMartini = "martini"
	MethodDelatin = "delatin"
)

// For returns the mesher for a method name; the empty string means grid.
func For(method string) (Mesher, error) {
	switch method {
	case MethodGrid, "":
		return gridMesher{}, nil
	case MethodMartini:
		return martiniMesher{}, nil
	case MethodDelatin:
		return delatinMesher{}, nil
	default:
		return nil, apperr.New(apperr.BadRequest, "unknown meshing method %q", method)
	}
}

// ValidMethod reports whether the meshing method is known.
func ValidMethod(method string) bool {
	_, err := For(method)
	return err == nil
}

// BuildEdges fills the four edge lists from the vertex positions.
func (m *Mesh) BuildEdges() {
	m.West = m.West[:0]
	m.South = m.South[:0]
	m.East = m.East[:0]
	m.North = m.North[:0]
	for i, v := range m.Vertices {
		idx := uint32(i)
		if v[0] < edgeEpsilon {
			m.West = append(m.West, EdgeVertex{Param: v[1], Index: idx})
		}
		if v[0] > 1-edgeEpsilon {
			m.East = append(m.East, EdgeVertex{Param: v[1], Index: idx})
		}
		if v[1] < edgeEpsilon {
			m.South = append(m.South, EdgeVertex{Param: v[0], Index: idx})
		}
		if v[1] > 1-edgeEpsilon {
			m.North = append(m.North, EdgeVertex{Param: v[0], Index: idx})
		}
	}
	for _, edge := range [][]EdgeVertex{m.West, m.South, m.East, m.North} {
		sort.Slice(edge, func(a, b int) bool { return edge[a].Param < edge[b].Param })
	}
}

// sampleHeight bilinearly samples the elevation window at UV coordinates.
func sampleHeight(g *cog.ElevationGrid, u, v float64) float64 {
	fx := u * float64(g.Width-1)
	fy := (1 - v) * float64(g.Height-1)

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	if x0 >= g.Width-1 {
		x0 = g.Width - 2
	}
	if y0 >= g.Height-1 {
		y0 = g.Height - 2
	}
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	tx := fx - float64(x0)
	ty := fy - float64(y0)

	top := float64(g.At(x0, y0))*(1-tx) + float64(g.At(x0+1, y0))*tx
	bot := float64(g.At(x0, y0+1))*(1-tx) + float64(g.At(x0+1, y0+1))*tx
	return top*(1-ty) + bot*ty
}
