package mesher

import (
	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/cog"
)

// maxGridSize caps the regular grid so a tile never exceeds the window's
// own resolution.
const maxGridSize = 255

// gridMesher produces a structured n x n triangulation of the window.
type gridMesher struct{}

func (gridMesher) Mesh(g *cog.ElevationGrid, p Params) (*Mesh, error) {
	if g == nil || g.Empty || g.Width < 2 || g.Height < 2 {
		return nil, apperr.New(apperr.MeshingFailed, "grid mesher needs a non-empty window")
	}
	n := p.GridSize
	if n < 1 {
		n = 1
	}
	if n > maxGridSize {
		n = maxGridSize
	}

	m := &Mesh{
		Bounds:    g.Bounds,
		Vertices:  make([][3]float64, 0, (n+1)*(n+1)),
		Triangles: make([][3]uint32, 0, 2*n*n),
	}

	for row := 0; row <= n; row++ {
		v := float64(row) / float64(n)
		for col := 0; col <= n; col++ {
			u := float64(col) / float64(n)
			m.Vertices = append(m.Vertices, [3]float64{u, v, sampleHeight(g, u, v)})
		}
	}

	stride := uint32(n + 1)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			v00 := uint32(row)*stride + uint32(col)
			v10 := v00 + 1
			v01 := v00 + stride
			v11 := v01 + 1
			// Counterclockwise with v pointing north.
			m.Triangles = append(m.Triangles,
				[3]uint32{v00, v10, v01},
				[3]uint32{v10, v11, v01},
			)
		}
	}

	if p.ComputeNormals {
		m.Normals = computeNormals(m.Vertices, m.Triangles, m.Bounds)
	}
	m.BuildEdges()
	return m, nil
}
