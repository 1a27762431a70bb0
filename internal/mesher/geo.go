package mesher

import (
	"math"

	"github.com/geoforge/ctod/internal/tms"
)

// WGS84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84E2 = 6.69437999014e-3
)

// ToECEF converts geodetic lon/lat degrees and ellipsoidal height to
// earth-centered cartesian meters.
func ToECEF(lon, lat, h float64) [3]float64 {
	lonR := lon * math.Pi / 180
	latR := lat * math.Pi / 180
	sinLat := math.Sin(latR)
	cosLat := math.Cos(latR)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return [3]float64{
		(n + h) * cosLat * math.Cos(lonR),
		(n + h) * cosLat * math.Sin(lonR),
		(n*(1-wgs84E2) + h) * sinLat,
	}
}

// GeodeticNormal returns the ellipsoid surface normal at a geodetic point.
func GeodeticNormal(lon, lat float64) [3]float64 {
	lonR := lon * math.Pi / 180
	latR := lat * math.Pi / 180
	return [3]float64{
		math.Cos(latR) * math.Cos(lonR),
		math.Cos(latR) * math.Sin(lonR),
		math.Sin(latR),
	}
}

// Normalize scales a vector to unit length; zero vectors are returned as-is.
func Normalize(v [3]float64) [3]float64 {
	l := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if l < 1e-12 {
		return v
	}
	return [3]float64{v[0] / l, v[1] / l, v[2] / l}
}

// uvToLonLat maps tile-local UV to geographic degrees.
func uvToLonLat(b tms.Bounds, u, v float64) (lon, lat float64) {
	return b.West + u*b.Width(), b.South + v*b.Height()
}

// computeNormals returns unit per-vertex normals: the area-weighted average
// of incident face normals in ECEF space. Degenerate faces contribute
// nothing.
func computeNormals(vertices [][3]float64, triangles [][3]uint32, bounds tms.Bounds) [][3]float64 {
	ecef := make([][3]float64, len(vertices))
	for i, v := range vertices {
		lon, lat := uvToLonLat(bounds, v[0], v[1])
		ecef[i] = ToECEF(lon, lat, v[2])
	}

	normals := make([][3]float64, len(vertices))
	for _, t := range triangles {
		a, b, c := ecef[t[0]], ecef[t[1]], ecef[t[2]]
		ab := [3]float64{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
		ac := [3]float64{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
		// The raw cross product's magnitude is twice the face area, so
		// summing unnormalized face normals is the area weighting.
		face := [3]float64{
			ab[1]*ac[2] - ab[2]*ac[1],
			ab[2]*ac[0] - ab[0]*ac[2],
			ab[0]*ac[1] - ab[1]*ac[0],
		}
		mag := math.Sqrt(face[0]*face[0] + face[1]*face[1] + face[2]*face[2])
		if mag < 1e-12 {
			continue
		}
		for _, vi := range t {
			normals[vi][0] += face[0]
			normals[vi][1] += face[1]
			normals[vi][2] += face[2]
		}
	}

	for i := range normals {
		n := Normalize(normals[i])
		if n[0] == 0 && n[1] == 0 && n[2] == 0 {
			// Vertex touched only degenerate faces; fall back to the
			// ellipsoid normal.
			lon, lat := uvToLonLat(bounds, vertices[i][0], vertices[i][1])
			n = GeodeticNormal(lon, lat)
		}
		normals[i] = n
	}
	return normals
}
