package terrain

import (
	"math"
	"testing"

	"github.com/geoforge/ctod/internal/mesher"
	"github.com/geoforge/ctod/internal/qmesh"
	"github.com/geoforge/ctod/internal/tms"
)

func TestEmptyTileShape(t *testing.T) {
	b := tms.Bounds{West: 4, South: 57, East: 5, North: 58}
	m := EmptyTileMesh(b)

	if got := len(m.Vertices); got != 4 {
		t.Fatalf("vertices = %d, want 4", got)
	}
	if got := len(m.Triangles); got != 2 {
		t.Fatalf("triangles = %d, want 2", got)
	}
	for i, v := range m.Vertices {
		if v[2] != 0 {
			t.Errorf("vertex %d height = %v, want 0", i, v[2])
		}
	}

	// Normals are the ellipsoid surface normals at the corners.
	for i, v := range m.Vertices {
		lon := b.West + v[0]*b.Width()
		lat := b.South + v[1]*b.Height()
		want := mesher.GeodeticNormal(lon, lat)
		got := m.Normals[i]
		for k := 0; k < 3; k++ {
			if math.Abs(got[k]-want[k]) > 1e-12 {
				t.Errorf("normal %d = %v, want %v", i, got, want)
			}
		}
	}

	for _, edge := range [][]mesher.EdgeVertex{m.West, m.South, m.East, m.North} {
		if len(edge) != 2 {
			t.Errorf("edge has %d vertices, want 2", len(edge))
		}
	}
}

// TestEmptyTileDeterminism: the empty tile encodes identically however
// often it is produced, and decodes back to four vertices and two
// triangles.
func TestEmptyTileDeterminism(t *testing.T) {
	b := tms.Bounds{West: -10, South: -20, East: -9, North: -19}

	first, err := EncodeEmptyTile(b)
	if err != nil {
		t.Fatal(err)
	}
	second, err := EncodeEmptyTile(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("empty tile encoding is not deterministic")
	}

	d, err := qmesh.Decode(first)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.U) != 4 || len(d.Triangles) != 2 {
		t.Errorf("decoded %d vertices, %d triangles", len(d.U), len(d.Triangles))
	}
	if len(d.OctNormals) != 4 {
		t.Errorf("decoded %d normals", len(d.OctNormals))
	}
}
