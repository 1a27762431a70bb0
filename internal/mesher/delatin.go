package mesher

import (
	"container/heap"
	"math"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/cog"
)

// delatinGridSize is the raster the greedy mesher refines against.
const delatinGridSize = 256

// delatinMesher builds a Delaunay mesh by greedy insertion: starting from
// two triangles over the window corners, the raster point worst approximated
// by the current triangulation is inserted and edges are flipped back to
// Delaunay, until every triangle's error is within the threshold.
type delatinMesher struct{}

func (delatinMesher) Mesh(g *cog.ElevationGrid, p Params) (*Mesh, error) {
	if g == nil || g.Empty || g.Width < 2 || g.Height < 2 {
		return nil, apperr.New(apperr.MeshingFailed, "delatin mesher needs a non-empty window")
	}

	size := delatinGridSize
	heights := make([]float64, size*size)
	for y := 0; y < size; y++ {
		v := 1 - float64(y)/float64(size-1)
		for x := 0; x < size; x++ {
			heights[y*size+x] = sampleHeight(g, float64(x)/float64(size-1), v)
		}
	}

	d := newDelatin(heights, size, p.MaxError)
	d.run()

	m := &Mesh{
		Bounds:    g.Bounds,
		Vertices:  make([][3]float64, len(d.points)),
		Triangles: make([][3]uint32, 0, len(d.tris)),
	}
	max := float64(size - 1)
	for i, pt := range d.points {
		m.Vertices[i] = [3]float64{
			float64(pt.x) / max,
			1 - float64(pt.y)/max,
			heights[pt.y*size+pt.x],
		}
	}
	for ti, t := range d.tris {
		if d.dead[ti] {
			continue
		}
		a, b, c := uint32(t[0]), uint32(t[1]), uint32(t[2])
		va, vb, vc := m.Vertices[a], m.Vertices[b], m.Vertices[c]
		area := (vb[0]-va[0])*(vc[1]-va[1]) - (vb[1]-va[1])*(vc[0]-va[0])
		if math.Abs(area) < 1e-15 {
			// An insertion exactly on a shared edge leaves one sliver child.
			continue
		}
		if area < 0 {
			b, c = c, b
		}
		m.Triangles = append(m.Triangles, [3]uint32{a, b, c})
	}

	if p.ComputeNormals {
		m.Normals = computeNormals(m.Vertices, m.Triangles, m.Bounds)
	}
	m.BuildEdges()
	return m, nil
}

type delPoint struct{ x, y int }

// delatin holds the incremental triangulation state.
type delatin struct {
	heights  []float64
	size     int
	maxError float64

	points []delPoint
	tris   [][3]int // vertex ids
	adj    [][3]int // adjacent triangle per edge (i, i+1), -1 on hull
	dead   []bool

	queue   candidateHeap
	pending []int // triangles needing a rescan
}

// candidate is a triangle's worst raster point. Triangles are never reused
// after a split or flip kills them, so a dead check is enough to discard
// stale heap entries.
type candidate struct {
	tri  int
	x, y int
	err  float64
}

type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].err > h[j].err }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)         { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newDelatin(heights []float64, size int, maxError float64) *delatin {
	d := &delatin{heights: heights, size: size, maxError: maxError}
	max := size - 1

	// Corner points and the two seed triangles.
	d.points = []delPoint{{0, 0}, {max, 0}, {max, max}, {0, max}}
	d.tris = [][3]int{{0, 1, 2}, {0, 2, 3}}
	d.adj = [][3]int{{-1, -1, 1}, {0, -1, -1}}
	d.dead = []bool{false, false}

	d.scan(0)
	d.scan(1)
	return d
}

// run refines until the worst error is within the threshold.
func (d *delatin) run() {
	for d.queue.Len() > 0 {
		c := heap.Pop(&d.queue).(candidate)
		if d.dead[c.tri] {
			continue
		}
		if c.err <= d.maxError {
			break
		}
		d.insert(delPoint{c.x, c.y}, c.tri)
		for _, t := range d.pending {
			if !d.dead[t] {
				d.scan(t)
			}
		}
		d.pending = d.pending[:0]
	}
}

// scan finds a triangle's worst raster point and queues it.
func (d *delatin) scan(tri int) {
	t := d.tris[tri]
	a, b, c := d.points[t[0]], d.points[t[1]], d.points[t[2]]

	minX := minInt(a.x, minInt(b.x, c.x))
	maxX := maxInt(a.x, maxInt(b.x, c.x))
	minY := minInt(a.y, minInt(b.y, c.y))
	maxY := maxInt(a.y, maxInt(b.y, c.y))

	denom := float64((b.y-c.y)*(a.x-c.x) + (c.x-b.x)*(a.y-c.y))
	if denom == 0 {
		return
	}
	ha := d.heightAt(a)
	hb := d.heightAt(b)
	hc := d.heightAt(c)

	best := candidate{tri: tri, err: -1}
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			w0 := float64((b.y-c.y)*(x-c.x)+(c.x-b.x)*(y-c.y)) / denom
			w1 := float64((c.y-a.y)*(x-c.x)+(a.x-c.x)*(y-c.y)) / denom
			w2 := 1 - w0 - w1
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			interp := w0*ha + w1*hb + w2*hc
			e := math.Abs(interp - d.heights[y*d.size+x])
			if e > best.err {
				best.err = e
				best.x, best.y = x, y
			}
		}
	}
	if best.err > d.maxError && !d.isVertex(best.x, best.y, t) {
		heap.Push(&d.queue, best)
	}
}

func (d *delatin) isVertex(x, y int, t [3]int) bool {
	for _, vi := range t {
		if d.points[vi].x == x && d.points[vi].y == y {
			return true
		}
	}
	return false
}

func (d *delatin) heightAt(p delPoint) float64 {
	return d.heights[p.y*d.size+p.x]
}

// insert splits the containing triangle into three at the new point and
// restores the Delaunay condition with Lawson flips.
func (d *delatin) insert(p delPoint, tri int) {
	pi := len(d.points)
	d.points = append(d.points, p)

	t := d.tris[tri]
	na := d.adj[tri]

	// Three children replace the split triangle.
	t0 := d.addTri([3]int{t[0], t[1], pi})
	t1 := d.addTri([3]int{t[1], t[2], pi})
	t2 := d.addTri([3]int{t[2], t[0], pi})
	d.dead[tri] = true

	d.adj[t0] = [3]int{na[0], t1, t2}
	d.adj[t1] = [3]int{na[1], t2, t0}
	d.adj[t2] = [3]int{na[2], t0, t1}
	d.replaceAdj(na[0], tri, t0)
	d.replaceAdj(na[1], tri, t1)
	d.replaceAdj(na[2], tri, t2)

	d.pending = append(d.pending, t0, t1, t2)
	d.legalize(t0, 0)
	d.legalize(t1, 0)
	d.legalize(t2, 0)
}

func (d *delatin) addTri(t [3]int) int {
	d.tris = append(d.tris, t)
	d.adj = append(d.adj, [3]int{-1, -1, -1})
	d.dead = append(d.dead, false)
	return len(d.tris) - 1
}

func (d *delatin) replaceAdj(tri, from, to int) {
	if tri < 0 {
		return
	}
	for i := 0; i < 3; i++ {
		if d.adj[tri][i] == from {
			d.adj[tri][i] = to
		}
	}
}

// legalize flips edge e of tri if the opposite vertex of the neighbor lies
// inside tri's circumcircle.
func (d *delatin) legalize(tri, e int) {
	nb := d.adj[tri][e]
	if nb < 0 || d.dead[nb] {
		return
	}

	t := d.tris[tri]
	a := t[e]
	b := t[(e+1)%3]
	c := t[(e+2)%3]

	// Vertex of nb opposite the shared edge (a, b).
	var p = -1
	var ne = -1
	for i := 0; i < 3; i++ {
		vi := d.tris[nb][i]
		if vi != a && vi != b {
			p = vi
			ne = i
		}
	}
	if p < 0 {
		return
	}

	if !d.inCircumcircle(d.points[a], d.points[b], d.points[c], d.points[p]) {
		return
	}

	// Flip: (a,b,c)+(b,a,p) become (a,p,c)+(p,b,c).
	nbAdjAP := d.adj[nb][(ne+2)%3]
	nbAdjPB := d.adj[nb][(ne+1)%3]
	triAdjBC := d.adj[tri][(e+1)%3]
	triAdjCA := d.adj[tri][(e+2)%3]

	f0 := d.addTri([3]int{a, p, c})
	f1 := d.addTri([3]int{p, b, c})
	d.dead[tri] = true
	d.dead[nb] = true

	d.adj[f0] = [3]int{nbAdjAP, f1, triAdjCA}
	d.adj[f1] = [3]int{nbAdjPB, triAdjBC, f0}
	d.replaceAdj(nbAdjAP, nb, f0)
	d.replaceAdj(nbAdjPB, nb, f1)
	d.replaceAdj(triAdjBC, tri, f1)
	d.replaceAdj(triAdjCA, tri, f0)

	d.pending = append(d.pending, f0, f1)
	d.legalize(f0, 0)
	d.legalize(f1, 0)
}

func (d *delatin) inCircumcircle(a, b, c, p delPoint) bool {
	ax := float64(a.x - p.x)
	ay := float64(a.y - p.y)
	bx := float64(b.x - p.x)
	by := float64(b.y - p.y)
	cx := float64(c.x - p.x)
	cy := float64(c.y - p.y)

	det := (ax*ax+ay*ay)*(bx*cy-cx*by) -
		(bx*bx+by*by)*(ax*cy-cx*ay) +
		(cx*cx+cy*cy)*(ax*by-bx*ay)
	// Orientation of (a, b, c) decides the sign convention.
	orient := (float64(b.x-a.x))*(float64(c.y-a.y)) - (float64(b.y-a.y))*(float64(c.x-a.x))
	if orient < 0 {
		return det < 0
	}
	return det > 0
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
