package terrain

import (
	"testing"

	"github.com/geoforge/ctod/internal/cog"
)

func TestWindowCacheSetGet(t *testing.T) {
	c := NewWindowCache(1 << 20)
	defer c.Stop()

	g := smallGrid()
	c.Set("k1", g)

	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("miss after Set")
	}
	if got != g {
		t.Error("cache returned a different grid handle")
	}
	if _, ok := c.Get("k2"); ok {
		t.Error("hit for a key never set")
	}
}

func TestWindowCacheIdempotentInsert(t *testing.T) {
	c := NewWindowCache(1 << 20)
	defer c.Stop()

	a := smallGrid()
	b := smallGrid()
	c.Set("k", a)
	c.Set("k", b)

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("miss after Set")
	}
	// Last insert wins; either way every caller shares one handle.
	if got != b {
		t.Error("re-insert did not replace the entry")
	}
}

func TestCachedGridSizeAccounting(t *testing.T) {
	g := &cog.ElevationGrid{Width: 256, Height: 256, Data: make([]float32, 256*256)}
	sized := cachedGrid{grid: g}
	if sized.Size() < 256*256*4 {
		t.Errorf("Size() = %d, smaller than the raw samples", sized.Size())
	}
	if sized.Size() != g.SizeBytes() {
		t.Errorf("Size() = %d, SizeBytes() = %d", sized.Size(), g.SizeBytes())
	}
}
