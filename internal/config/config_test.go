package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	opts := DefaultTileOptions()
	if opts.MinZoom != 1 || opts.MaxZoom != 18 {
		t.Errorf("zoom defaults = %d..%d", opts.MinZoom, opts.MaxZoom)
	}
	if opts.MeshingMethod != "grid" || opts.ResamplingMethod != "none" {
		t.Errorf("method defaults = %q/%q", opts.MeshingMethod, opts.ResamplingMethod)
	}
	if opts.DefaultGridSize != 20 || opts.DefaultMaxError != 4 {
		t.Errorf("mesh defaults = %d/%v", opts.DefaultGridSize, opts.DefaultMaxError)
	}
}

func TestZoomTables(t *testing.T) {
	opts := DefaultTileOptions()

	// Zoom-specific entries win, everything else falls back.
	if got := opts.GridSizeFor(17); got != 30 {
		t.Errorf("GridSizeFor(17) = %d, want 30", got)
	}
	if got := opts.GridSizeFor(8); got != 20 {
		t.Errorf("GridSizeFor(8) = %d, want the default 20", got)
	}
	if got := opts.MaxErrorFor(20); got != 0.5 {
		t.Errorf("MaxErrorFor(20) = %v, want 0.5", got)
	}
	if got := opts.MaxErrorFor(3); got != 4 {
		t.Errorf("MaxErrorFor(3) = %v, want the default 4", got)
	}
}

func TestMeshParam(t *testing.T) {
	opts := DefaultTileOptions()
	if got := opts.MeshParam(17); got != 30 {
		t.Errorf("grid MeshParam(17) = %v, want the grid size", got)
	}
	opts.MeshingMethod = "martini"
	if got := opts.MeshParam(17); got != 3 {
		t.Errorf("martini MeshParam(17) = %v, want the max error", got)
	}
}

func TestParseZoomTable(t *testing.T) {
	table, err := ParseZoomTable[int](`{"15": 25, "16": 30}`)
	if err != nil {
		t.Fatal(err)
	}
	if table["15"] != 25 || table["16"] != 30 {
		t.Errorf("table = %v", table)
	}
	if _, err := ParseZoomTable[int](`not json`); err == nil {
		t.Error("invalid table accepted")
	}
}

func TestLoadDatasetStoreJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.json")
	doc := `{
		"datasets": [
			{
				"name": "norway",
				"options": {
					"cog": "/data/norway.tif",
					"minZoom": 5,
					"meshingMethod": "martini"
				}
			}
		]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := LoadDatasetStore(path)
	if err != nil {
		t.Fatal(err)
	}

	ds, ok := store.Get("norway")
	if !ok {
		t.Fatal("dataset not found")
	}
	if ds.Options.Cog != "/data/norway.tif" || ds.Options.MinZoom != 5 {
		t.Errorf("options = %+v", ds.Options)
	}
	if ds.Options.MeshingMethod != "martini" {
		t.Errorf("meshing method = %q", ds.Options.MeshingMethod)
	}
	// Unset fields fall back to the defaults.
	if ds.Options.MaxZoom != 18 || ds.Options.DefaultGridSize != 20 {
		t.Errorf("defaults not applied: %+v", ds.Options)
	}

	if _, ok := store.Get("sweden"); ok {
		t.Error("unknown dataset found")
	}
}

func TestLoadDatasetStoreYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.yaml")
	doc := `datasets:
  - name: alps
    options:
      cog: /data/alps.tif
      maxZoom: 16
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := LoadDatasetStore(path)
	if err != nil {
		t.Fatal(err)
	}
	ds, ok := store.Get("alps")
	if !ok {
		t.Fatal("dataset not found")
	}
	if ds.Options.MaxZoom != 16 {
		t.Errorf("maxZoom = %d", ds.Options.MaxZoom)
	}
}

func TestLoadDatasetStoreRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte(`{"datasets": [{"name": "x", "options": {}}]}`), 0o644)
	if _, err := LoadDatasetStore(path); err == nil {
		t.Error("dataset without a cog accepted")
	}
}
