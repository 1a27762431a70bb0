package qmesh

import (
	"github.com/geoforge/ctod/internal/tms"
)

// Available is one contiguous rectangle of existing tiles at a zoom level,
// in Cesium row order.
type Available struct {
	StartX int `json:"startX"`
	StartY int `json:"startY"`
	EndX   int `json:"endX"`
	EndY   int `json:"endY"`
}

// LayerJSON is the layer descriptor the Cesium terrain provider fetches
// before requesting tiles. CogBounds carries the dataset's geographic
// envelope so viewers can fly to the data.
type LayerJSON struct {
	TileJSON    string        `json:"tilejson"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Version     string        `json:"version"`
	Format      string        `json:"format"`
	Attribution string        `json:"attribution"`
	Scheme      string        `json:"schema"`
	Extensions  []string      `json:"extensions"`
	Tiles       []string      `json:"tiles"`
	Projection  string        `json:"projection"`
	Bounds      []float64     `json:"bounds"`
	CogBounds   []float64     `json:"cogBounds"`
	Available   [][]Available `json:"available"`
}

// NewLayerJSON builds the descriptor for a dataset envelope. tileQuery is
// appended to the tile URL template so dynamic requests keep their
// parameters.
func NewLayerJSON(t *tms.TileMatrixSet, cogBounds tms.Bounds, maxZoom int, tileQuery string) *LayerJSON {
	// Cesium requires the full root row regardless of coverage, so zoom 0 is
	// always the whole matrix.
	_, _, rootMaxX, _ := t.MinMax(0)
	available := [][]Available{{{StartX: 0, StartY: 0, EndX: rootMaxX, EndY: 0}}}

	for z := 1; z <= maxZoom; z++ {
		startX, startY, endX, endY := t.IndexBounds(cogBounds, z)
		available = append(available, []Available{{
			StartX: startX, StartY: startY, EndX: endX, EndY: endY,
		}})
	}

	tiles := "{z}/{x}/{y}.terrain?v={version}"
	if tileQuery != "" {
		tiles += "&" + tileQuery
	}

	ext := t.Extent()
	return &LayerJSON{
		TileJSON:    "2.1.0",
		Name:        "CTOD",
		Description: "Cesium Terrain On Demand",
		Version:     "1.1.0",
		Format:      "quantized-mesh-1.0",
		Attribution: "",
		Scheme:      "tms",
		Extensions:  []string{"octvertexnormals"},
		Tiles:       []string{tiles},
		Projection:  "EPSG:4326",
		Bounds:      []float64{0, ext.South, ext.East, ext.North},
		CogBounds:   []float64{cogBounds.West, cogBounds.South, cogBounds.East, cogBounds.North},
		Available:   available,
	}
}
