package qmesh

import (
	"bytes"
	"math"
	"testing"

	"github.com/geoforge/ctod/internal/mesher"
	"github.com/geoforge/ctod/internal/tms"
)

func testMesh() *mesher.Mesh {
	m := &mesher.Mesh{
		Bounds: tms.Bounds{West: 10, South: 50, East: 10.5, North: 50.5},
		Vertices: [][3]float64{
			{0, 0, 100},
			{1, 0, 150},
			{1, 1, 200},
			{0, 1, 125},
			{0.5, 0.5, 180},
		},
		Triangles: [][3]uint32{
			{0, 1, 4},
			{1, 2, 4},
			{2, 3, 4},
			{3, 0, 4},
		},
	}
	m.Normals = make([][3]float64, len(m.Vertices))
	for i, v := range m.Vertices {
		lon := m.Bounds.West + v[0]*m.Bounds.Width()
		lat := m.Bounds.South + v[1]*m.Bounds.Height()
		m.Normals[i] = mesher.GeodeticNormal(lon, lat)
	}
	m.BuildEdges()
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := testMesh()
	data, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < headerSize {
		t.Fatalf("encoded tile is %d bytes", len(data))
	}

	d, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if got := len(d.U); got != len(m.Vertices) {
		t.Fatalf("decoded %d vertices, want %d", got, len(m.Vertices))
	}
	if got := len(d.Triangles); got != len(m.Triangles) {
		t.Fatalf("decoded %d triangles, want %d", got, len(m.Triangles))
	}

	// Quantized coordinates round to the same buckets the input occupied.
	wantU := []uint16{0, 32767, 32767, 0, 16384}
	wantV := []uint16{0, 0, 32767, 32767, 16384}
	for i := range wantU {
		if d.U[i] != wantU[i] || d.V[i] != wantV[i] {
			t.Errorf("vertex %d = (%d, %d), want (%d, %d)", i, d.U[i], d.V[i], wantU[i], wantV[i])
		}
	}

	if d.Header.MinimumHeight != 100 || d.Header.MaximumHeight != 200 {
		t.Errorf("height range = %v..%v", d.Header.MinimumHeight, d.Header.MaximumHeight)
	}

	// Edge lists: one vertex per corner plus none in between.
	if len(d.West) != 2 || len(d.South) != 2 || len(d.East) != 2 || len(d.North) != 2 {
		t.Errorf("edge counts = %d/%d/%d/%d", len(d.West), len(d.South), len(d.East), len(d.North))
	}

	if len(d.OctNormals) != len(m.Vertices) {
		t.Fatalf("decoded %d normals, want %d", len(d.OctNormals), len(m.Vertices))
	}
}

func TestEncodeIsByteStable(t *testing.T) {
	m := testMesh()
	a, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two encodes of the same mesh differ")
	}
}

func TestEncodeRejectsDegenerateMesh(t *testing.T) {
	m := &mesher.Mesh{Vertices: [][3]float64{{0, 0, 0}}, Triangles: nil}
	if _, err := Encode(m); err == nil {
		t.Error("degenerate mesh encoded")
	}
}

func TestOctEncodeRoundTrip(t *testing.T) {
	vectors := [][3]float64{
		{0, 0, 1},
		{0, 0, -1},
		{1, 0, 0},
		{0.267261, 0.534522, 0.801784},
		{-0.577350, -0.577350, 0.577350},
	}
	for _, v := range vectors {
		enc := OctEncode(v)
		dec := OctDecode(enc[0], enc[1])
		dot := v[0]*dec[0] + v[1]*dec[1] + v[2]*dec[2]
		if dot < 0.99 {
			t.Errorf("OctEncode(%v) -> %v -> %v, dot %v", v, enc, dec, dot)
		}
		l := math.Sqrt(dec[0]*dec[0] + dec[1]*dec[1] + dec[2]*dec[2])
		if math.Abs(l-1) > 1e-3 {
			t.Errorf("decoded normal has length %v", l)
		}
	}
}

func TestHeaderGeometry(t *testing.T) {
	m := testMesh()
	data, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	// The tile center must be a plausible ECEF point near the surface.
	r := math.Sqrt(d.Header.CenterX*d.Header.CenterX + d.Header.CenterY*d.Header.CenterY + d.Header.CenterZ*d.Header.CenterZ)
	if r < 6.3e6 || r > 6.5e6 {
		t.Errorf("center radius = %v", r)
	}
	if d.Header.BoundingSphereRadius <= 0 {
		t.Error("bounding sphere radius not positive")
	}
}

func TestLayerJSON(t *testing.T) {
	matrix, err := tms.Get(tms.WGS1984Quad)
	if err != nil {
		t.Fatal(err)
	}
	cogBounds := tms.Bounds{West: 5, South: 58, East: 31, North: 71}
	layer := NewLayerJSON(matrix, cogBounds, 5, "cog=/data/norway.tif")

	if layer.Format != "quantized-mesh-1.0" {
		t.Errorf("format = %q", layer.Format)
	}
	if len(layer.Available) != 6 {
		t.Fatalf("available has %d zoom levels, want 6", len(layer.Available))
	}
	// Zoom 0 always advertises both root tiles.
	if z0 := layer.Available[0][0]; z0.StartX != 0 || z0.EndX != 1 {
		t.Errorf("zoom 0 availability = %+v", z0)
	}
	if got := layer.CogBounds; got[0] != 5 || got[3] != 71 {
		t.Errorf("cogBounds = %v", got)
	}
	if layer.Tiles[0] != "{z}/{x}/{y}.terrain?v={version}&cog=/data/norway.tif" {
		t.Errorf("tiles = %q", layer.Tiles[0])
	}
}
