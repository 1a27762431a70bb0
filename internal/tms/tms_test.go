package tms

import (
	"errors"
	"math"
	"testing"
)

func TestWGS1984QuadBounds(t *testing.T) {
	m, err := Get(WGS1984Quad)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		tile Tile
		want Bounds
	}{
		{Tile{Z: 0, X: 0, Y: 0}, Bounds{West: -180, South: -90, East: 0, North: 90}},
		{Tile{Z: 0, X: 1, Y: 0}, Bounds{West: 0, South: -90, East: 180, North: 90}},
		{Tile{Z: 1, X: 0, Y: 0}, Bounds{West: -180, South: 0, East: -90, North: 90}},
		{Tile{Z: 1, X: 3, Y: 1}, Bounds{West: 90, South: -90, East: 180, North: 0}},
	}
	for _, tc := range tests {
		got, err := m.Bounds(tc.tile)
		if err != nil {
			t.Fatalf("Bounds(%v): %v", tc.tile, err)
		}
		if got != tc.want {
			t.Errorf("Bounds(%v) = %+v, want %+v", tc.tile, got, tc.want)
		}
	}
}

func TestWebMercatorBounds(t *testing.T) {
	m := Default()
	b, err := m.Bounds(Tile{Z: 0, X: 0, Y: 0})
	if err != nil {
		t.Fatal(err)
	}
	if b.West != -180 || b.East != 180 {
		t.Errorf("z0 bounds = %+v", b)
	}
	if math.Abs(b.North-85.0511287798) > 1e-6 {
		t.Errorf("z0 north = %v", b.North)
	}
}

func TestSharedEdgesAlign(t *testing.T) {
	// The east edge of a tile must equal the west edge of its east neighbor
	// bit-exactly; stitching and corner averaging depend on it.
	m, _ := Get(WGS1984Quad)
	for _, tile := range []Tile{
		{Z: 5, X: 11, Y: 7},
		{Z: 17, X: 134972, Y: 21614},
	} {
		a, err := m.Bounds(tile)
		if err != nil {
			t.Fatal(err)
		}
		b, err := m.Bounds(Tile{Z: tile.Z, X: tile.X + 1, Y: tile.Y})
		if err != nil {
			t.Fatal(err)
		}
		if a.East != b.West {
			t.Errorf("tile %v east %v != neighbor west %v", tile, a.East, b.West)
		}
	}
}

func TestTileOutOfRange(t *testing.T) {
	m, _ := Get(WGS1984Quad)
	for _, tile := range []Tile{
		{Z: 0, X: 2, Y: 0},
		{Z: 0, X: 0, Y: 1},
		{Z: 3, X: -1, Y: 0},
	} {
		if _, err := m.Bounds(tile); !errors.Is(err, ErrTileOutOfRange) {
			t.Errorf("Bounds(%v) err = %v, want ErrTileOutOfRange", tile, err)
		}
	}
}

func TestNoSuchTMS(t *testing.T) {
	if _, err := Get("EuropeanETRS89"); !errors.Is(err, ErrNoSuchTMS) {
		t.Errorf("err = %v, want ErrNoSuchTMS", err)
	}
	if m, err := Get(""); err != nil || m.ID() != WebMercatorQuad {
		t.Errorf("empty id should return the default matrix, got %v, %v", m, err)
	}
}

func TestFlipY(t *testing.T) {
	m, _ := Get(WGS1984Quad)
	if got := m.FlipY(0, 0); got != 0 {
		t.Errorf("FlipY(0,0) = %d", got)
	}
	if got := m.FlipY(3, 1); got != 6 {
		t.Errorf("FlipY(3,1) = %d", got)
	}
	// Flipping twice is the identity.
	if got := m.FlipY(17, m.FlipY(17, 21614)); got != 21614 {
		t.Errorf("double flip = %d", got)
	}
}

func TestNeighbors(t *testing.T) {
	m, _ := Get(WGS1984Quad)
	if got := len(m.Neighbors(Tile{Z: 3, X: 4, Y: 4})); got != 8 {
		t.Errorf("interior tile has %d neighbors, want 8", got)
	}
	if got := len(m.Neighbors(Tile{Z: 3, X: 0, Y: 0})); got != 3 {
		t.Errorf("corner tile has %d neighbors, want 3", got)
	}
}

func TestTileAtRoundTrip(t *testing.T) {
	m, _ := Get(WGS1984Quad)
	tile := Tile{Z: 9, X: 530, Y: 121}
	b, err := m.Bounds(tile)
	if err != nil {
		t.Fatal(err)
	}
	center := m.TileAt((b.West+b.East)/2, (b.South+b.North)/2, 9)
	if center != tile {
		t.Errorf("TileAt(center) = %v, want %v", center, tile)
	}
}

func TestIndexBounds(t *testing.T) {
	m, _ := Get(WGS1984Quad)
	// An envelope inside one tile claims exactly that tile.
	b, _ := m.Bounds(Tile{Z: 4, X: 20, Y: 5})
	inset := Bounds{West: b.West + 0.01, South: b.South + 0.01, East: b.East - 0.01, North: b.North - 0.01}
	startX, startY, endX, endY := m.IndexBounds(inset, 4)
	if startX != 20 || endX != 20 {
		t.Errorf("x range = %d..%d, want 20..20", startX, endX)
	}
	wantY := m.FlipY(4, 5)
	if startY != wantY || endY != wantY {
		t.Errorf("y range = %d..%d, want %d (cesium rows)", startY, endY, wantY)
	}
}
