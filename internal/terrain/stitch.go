package terrain

import (
	"math"
	"sort"

	"github.com/geoforge/ctod/internal/mesher"
)

// Direction names a neighbor of a tile.
type Direction int

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// Directions lists all eight neighbor directions.
var Directions = []Direction{North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}

// Move returns the tile index one step in a direction. Rows grow southward.
func Move(x, y int, d Direction) (int, int) {
	switch d {
	case North:
		return x, y - 1
	case NorthEast:
		return x + 1, y - 1
	case East:
		return x + 1, y
	case SouthEast:
		return x + 1, y + 1
	case South:
		return x, y + 1
	case SouthWest:
		return x - 1, y + 1
	case West:
		return x - 1, y
	default: // NorthWest
		return x - 1, y - 1
	}
}

// bucketScale quantizes edge parameters to the quantized-mesh resolution
// along an edge; vertices within one bucket are coincident.
const bucketScale = 32768

func bucket(param float64) int {
	return int(math.Round(param * bucketScale))
}

// edgeValue is a neighbor's contribution at one point of a shared edge.
type edgeValue struct {
	height float64
	normal [3]float64
}

// Stitch reconciles the self mesh's boundary with its neighbors so that
// both sides of every shared edge encode identical heights and normals.
//
// Only the self mesh is mutated; neighbors contribute their raw meshed
// values. Because every tile stitches against the same raw values and the
// averaging is symmetric, two adjacent tiles generated independently agree
// on their shared edge. Interior vertices and triangles are not touched.
func Stitch(self *mesher.Mesh, neighbors map[Direction]*mesher.Mesh) {
	stitchCorners(self, neighbors)

	stitchSide(self, sideWest, neighbors[West])
	stitchSide(self, sideEast, neighbors[East])
	stitchSide(self, sideSouth, neighbors[South])
	stitchSide(self, sideNorth, neighbors[North])

	self.BuildEdges()
}

// side describes one boundary of the tile in UV space.
type side struct {
	name string
	// fixed axis: u for west/east, v for south/north, and its value.
	fixedU  bool
	fixedAt float64
	// the neighbor edge facing this side, as corner UVs of that mesh.
	opposite func(m *mesher.Mesh) []mesher.EdgeVertex
}

var (
	sideWest  = side{name: "west", fixedU: true, fixedAt: 0, opposite: func(m *mesher.Mesh) []mesher.EdgeVertex { return m.East }}
	sideEast  = side{name: "east", fixedU: true, fixedAt: 1, opposite: func(m *mesher.Mesh) []mesher.EdgeVertex { return m.West }}
	sideSouth = side{name: "south", fixedU: false, fixedAt: 0, opposite: func(m *mesher.Mesh) []mesher.EdgeVertex { return m.North }}
	sideNorth = side{name: "north", fixedU: false, fixedAt: 1, opposite: func(m *mesher.Mesh) []mesher.EdgeVertex { return m.South }}
)

func (s side) selfEdge(m *mesher.Mesh) []mesher.EdgeVertex {
	switch s.name {
	case "west":
		return m.West
	case "east":
		return m.East
	case "south":
		return m.South
	default:
		return m.North
	}
}

// stitchSide averages coincident boundary vertices with one neighbor and
// inserts self vertices for neighbor edge vertices that have no
// counterpart. Absent neighbors blend the ellipsoid normal instead: the
// edge-of-world treatment, with no height adjustment.
func stitchSide(self *mesher.Mesh, s side, neighbor *mesher.Mesh) {
	selfEdge := s.selfEdge(self)

	if neighbor == nil {
		for _, ev := range selfEdge {
			b := bucket(ev.Param)
			if b == 0 || b == bucketScale {
				continue // corners were handled with their own contributor set
			}
			v := self.Vertices[ev.Index]
			lon := self.Bounds.West + v[0]*self.Bounds.Width()
			lat := self.Bounds.South + v[1]*self.Bounds.Height()
			self.Normals[ev.Index] = averageNormals(self.Normals[ev.Index], mesher.GeodeticNormal(lon, lat))
		}
		return
	}

	nbEdge := s.opposite(neighbor)
	nbByBucket := make(map[int]edgeValue, len(nbEdge))
	for _, ev := range nbEdge {
		nv := edgeValue{height: neighbor.Vertices[ev.Index][2]}
		if len(neighbor.Normals) > 0 {
			nv.normal = neighbor.Normals[ev.Index]
		}
		nbByBucket[bucket(ev.Param)] = nv
	}

	seen := make(map[int]bool, len(selfEdge))
	for _, ev := range selfEdge {
		b := bucket(ev.Param)
		seen[b] = true
		if b == 0 || b == bucketScale {
			continue
		}
		nv, ok := nbByBucket[b]
		if !ok {
			continue
		}
		self.Vertices[ev.Index][2] = (self.Vertices[ev.Index][2] + nv.height) / 2
		if len(self.Normals) > 0 {
			self.Normals[ev.Index] = averageNormals(self.Normals[ev.Index], nv.normal)
		}
	}

	// Neighbor edge vertices with no counterpart get a new self vertex
	// carrying the neighbor's values, splitting the boundary triangle the
	// parameter falls in.
	missing := make([]int, 0)
	for b := range nbByBucket {
		if b != 0 && b != bucketScale && !seen[b] {
			missing = append(missing, b)
		}
	}
	sort.Ints(missing)
	for _, b := range missing {
		insertBoundaryVertex(self, s, float64(b)/bucketScale, nbByBucket[b])
	}
}

// stitchCorners averages each corner of the self mesh across all present
// contributors: the three neighbors meeting at that corner, with absent
// ones contributing the ellipsoid normal and no height.
func stitchCorners(self *mesher.Mesh, neighbors map[Direction]*mesher.Mesh) {
	type contributor struct {
		dir    Direction
		cu, cv float64 // which corner of the contributor faces ours
	}
	corners := []struct {
		u, v float64
		from [3]contributor
	}{
		{0, 0, [3]contributor{{West, 1, 0}, {SouthWest, 1, 1}, {South, 0, 1}}},
		{1, 0, [3]contributor{{East, 0, 0}, {SouthEast, 0, 1}, {South, 1, 1}}},
		{1, 1, [3]contributor{{North, 1, 0}, {NorthEast, 0, 0}, {East, 0, 1}}},
		{0, 1, [3]contributor{{North, 0, 0}, {NorthWest, 1, 0}, {West, 1, 1}}},
	}

	for _, corner := range corners {
		idx, ok := vertexAt(self, corner.u, corner.v)
		if !ok {
			continue
		}

		// Pick the bound values directly: adjacent tiles share them
		// bit-exactly, a West+u*Width computation would not.
		lon, lat := self.Bounds.West, self.Bounds.South
		if corner.u == 1 {
			lon = self.Bounds.East
		}
		if corner.v == 1 {
			lat = self.Bounds.North
		}

		heights := []float64{self.Vertices[idx][2]}
		var normals [][3]float64
		if len(self.Normals) > 0 {
			normals = append(normals, self.Normals[idx])
		}

		for _, c := range corner.from {
			nb := neighbors[c.dir]
			if nb == nil {
				normals = append(normals, mesher.GeodeticNormal(lon, lat))
				continue
			}
			nbIdx, ok := vertexAt(nb, c.cu, c.cv)
			if !ok {
				continue
			}
			heights = append(heights, nb.Vertices[nbIdx][2])
			if len(nb.Normals) > 0 {
				normals = append(normals, nb.Normals[nbIdx])
			}
		}

		// Sum in a canonical order so every tile meeting at this corner
		// computes bit-identical averages regardless of which neighbor it
		// sees each contribution from.
		sort.Float64s(heights)
		heightSum := 0.0
		for _, h := range heights {
			heightSum += h
		}
		self.Vertices[idx][2] = heightSum / float64(len(heights))

		if len(self.Normals) > 0 {
			sort.Slice(normals, func(a, b int) bool {
				if normals[a][0] != normals[b][0] {
					return normals[a][0] < normals[b][0]
				}
				if normals[a][1] != normals[b][1] {
					return normals[a][1] < normals[b][1]
				}
				return normals[a][2] < normals[b][2]
			})
			var normalSum [3]float64
			for _, n := range normals {
				normalSum[0] += n[0]
				normalSum[1] += n[1]
				normalSum[2] += n[2]
			}
			self.Normals[idx] = mesher.Normalize(normalSum)
		}
	}
}

// vertexAt finds the mesh vertex at a UV corner.
func vertexAt(m *mesher.Mesh, u, v float64) (uint32, bool) {
	const eps = 1e-9
	for i, vert := range m.Vertices {
		if math.Abs(vert[0]-u) < eps && math.Abs(vert[1]-v) < eps {
			return uint32(i), true
		}
	}
	return 0, false
}

func averageNormals(a, b [3]float64) [3]float64 {
	return mesher.Normalize([3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]})
}

// insertBoundaryVertex adds a vertex on a tile boundary at the given
// parameter, splitting the triangle whose boundary edge spans it. The strip
// retriangulation is local: one triangle becomes two, interior triangles
// are untouched.
func insertBoundaryVertex(m *mesher.Mesh, s side, param float64, val edgeValue) {
	var u, v float64
	if s.fixedU {
		u, v = s.fixedAt, param
	} else {
		u, v = param, s.fixedAt
	}

	onSide := func(vert [3]float64) bool {
		const eps = 1e-9
		if s.fixedU {
			return math.Abs(vert[0]-s.fixedAt) < eps
		}
		return math.Abs(vert[1]-s.fixedAt) < eps
	}
	paramOf := func(vert [3]float64) float64 {
		if s.fixedU {
			return vert[1]
		}
		return vert[0]
	}

	for ti, t := range m.Triangles {
		for e := 0; e < 3; e++ {
			i, j := t[e], t[(e+1)%3]
			vi, vj := m.Vertices[i], m.Vertices[j]
			if !onSide(vi) || !onSide(vj) {
				continue
			}
			lo, hi := paramOf(vi), paramOf(vj)
			if lo > hi {
				lo, hi = hi, lo
			}
			if param <= lo || param >= hi {
				continue
			}

			k := uint32(len(m.Vertices))
			m.Vertices = append(m.Vertices, [3]float64{u, v, val.height})
			if len(m.Normals) > 0 {
				m.Normals = append(m.Normals, mesher.Normalize(val.normal))
			}

			c := t[(e+2)%3]
			m.Triangles[ti] = [3]uint32{i, k, c}
			m.Triangles = append(m.Triangles, [3]uint32{k, j, c})
			return
		}
	}
}
