package mesher

import (
	"math"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/cog"
)

// martiniGridSize is the RTIN grid side; must be 2^k+1. 257 matches the
// 256-pixel windows the factory reads.
const martiniGridSize = 257

// martiniMesher builds a right-triangulated irregular network. The window is
// resampled onto a 2^k+1 grid, per-triangle errors are computed bottom-up
// over the implicit triangle binary tree, then the mesh is extracted by
// splitting every triangle whose long-edge midpoint error exceeds the
// threshold.
type martiniMesher struct{}

func (martiniMesher) Mesh(g *cog.ElevationGrid, p Params) (*Mesh, error) {
	if g == nil || g.Empty || g.Width < 2 || g.Height < 2 {
		return nil, apperr.New(apperr.MeshingFailed, "martini mesher needs a non-empty window")
	}

	size := martiniGridSize
	terrain := resampleSquare(g, size)
	errors := rtinErrors(terrain, size)

	max := size - 1
	ext := &rtinExtractor{
		size:     size,
		terrain:  terrain,
		errors:   errors,
		maxError: p.MaxError,
		indices:  make([]int32, size*size),
	}
	for i := range ext.indices {
		ext.indices[i] = -1
	}
	ext.process(0, 0, max, max, max, 0)
	ext.process(max, max, 0, 0, 0, max)

	m := &Mesh{
		Bounds:    g.Bounds,
		Vertices:  ext.vertices,
		Triangles: ext.triangles,
	}
	if p.ComputeNormals {
		m.Normals = computeNormals(m.Vertices, m.Triangles, m.Bounds)
	}
	m.BuildEdges()
	return m, nil
}

// resampleSquare samples the window onto a size x size grid, row 0 north.
func resampleSquare(g *cog.ElevationGrid, size int) []float64 {
	out := make([]float64, size*size)
	for y := 0; y < size; y++ {
		v := 1 - float64(y)/float64(size-1)
		for x := 0; x < size; x++ {
			u := float64(x) / float64(size-1)
			out[y*size+x] = sampleHeight(g, u, v)
		}
	}
	return out
}

// rtinErrors computes the approximation error stored at every long-edge
// midpoint, propagating child errors into parents so extraction can stop
// descending as soon as a triangle is good enough.
func rtinErrors(terrain []float64, size int) []float64 {
	tileSize := size - 1
	numTriangles := tileSize*tileSize*2 - 2
	numParents := numTriangles - tileSize*tileSize
	errors := make([]float64, size*size)

	for i := numTriangles - 1; i >= 0; i-- {
		ax, ay, bx, by := rtinTriangle(i, tileSize)
		mx := (ax + bx) >> 1
		my := (ay + by) >> 1
		cx := mx + my - ay
		cy := my + ax - mx

		interpolated := (terrain[ay*size+ax] + terrain[by*size+bx]) / 2
		middle := my*size + mx
		middleError := math.Abs(interpolated - terrain[middle])
		errors[middle] = math.Max(errors[middle], middleError)

		if i < numParents {
			leftChild := ((ay+cy)>>1)*size + ((ax + cx) >> 1)
			rightChild := ((by+cy)>>1)*size + ((bx + cx) >> 1)
			errors[middle] = math.Max(errors[middle], math.Max(errors[leftChild], errors[rightChild]))
		}
	}
	return errors
}

// rtinTriangle returns the long-edge endpoints of triangle i in the implicit
// binary tree over a tile.
func rtinTriangle(i, tileSize int) (ax, ay, bx, by int) {
	var cx, cy int
	id := i + 2
	if id&1 != 0 {
		bx, by, cx = tileSize, tileSize, tileSize // bottom-left triangle
	} else {
		ax, ay, cy = tileSize, tileSize, tileSize // top-right triangle
	}
	for id >>= 1; id > 1; id >>= 1 {
		mx := (ax + bx) >> 1
		my := (ay + by) >> 1
		if id&1 != 0 { // left half
			bx, by = ax, ay
			ax, ay = cx, cy
		} else { // right half
			ax, ay = bx, by
			bx, by = cx, cy
		}
		cx, cy = mx, my
	}
	return ax, ay, bx, by
}

// rtinExtractor emits the mesh for one error threshold.
type rtinExtractor struct {
	size     int
	terrain  []float64
	errors   []float64
	maxError float64
	indices  []int32

	vertices  [][3]float64
	triangles [][3]uint32
}

func (e *rtinExtractor) process(ax, ay, bx, by, cx, cy int) {
	mx := (ax + bx) >> 1
	my := (ay + by) >> 1

	if abs(ax-bx)+abs(ay-by) > 1 && e.errors[my*e.size+mx] > e.maxError {
		e.process(cx, cy, ax, ay, mx, my)
		e.process(bx, by, cx, cy, mx, my)
		return
	}

	a := e.vertex(ax, ay)
	b := e.vertex(bx, by)
	c := e.vertex(cx, cy)
	// Keep counterclockwise winding in UV space.
	va, vb, vc := e.vertices[a], e.vertices[b], e.vertices[c]
	if (vb[0]-va[0])*(vc[1]-va[1])-(vb[1]-va[1])*(vc[0]-va[0]) < 0 {
		b, c = c, b
	}
	e.triangles = append(e.triangles, [3]uint32{a, b, c})
}

func (e *rtinExtractor) vertex(x, y int) uint32 {
	at := y*e.size + x
	if e.indices[at] >= 0 {
		return uint32(e.indices[at])
	}
	max := float64(e.size - 1)
	u := float64(x) / max
	v := 1 - float64(y)/max
	e.indices[at] = int32(len(e.vertices))
	e.vertices = append(e.vertices, [3]float64{u, v, e.terrain[at]})
	return uint32(e.indices[at])
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
