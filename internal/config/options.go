// Package config holds per-request tile options and the dataset config file.
package config

import (
	"encoding/json"
	"strconv"

	"github.com/geoforge/ctod/internal/apperr"
)

// TileOptions are the knobs a terrain request carries, whether they came
// from query parameters on the dynamic endpoint or from a named dataset's
// configuration.
type TileOptions struct {
	Cog              string             `json:"cog" yaml:"cog" doc:"Path or URL to the COG" example:"./files/dem.tif"`
	MinZoom          int                `json:"minZoom,omitempty" yaml:"minZoom" doc:"Zoom levels below this return empty tiles"`
	MaxZoom          int                `json:"maxZoom,omitempty" yaml:"maxZoom" doc:"Maximum zoom the client will request"`
	NoData           float64            `json:"noData,omitempty" yaml:"noData" doc:"Replacement value for NoData cells"`
	ResamplingMethod string             `json:"resamplingMethod,omitempty" yaml:"resamplingMethod" doc:"COG resampling: none, nearest, bilinear, cubic, cubic_spline, lanczos, average, mode, gauss, rms"`
	SkipCache        bool               `json:"skipCache,omitempty" yaml:"skipCache" doc:"Bypass the on-disk tile cache"`
	MeshingMethod    string             `json:"meshingMethod,omitempty" yaml:"meshingMethod" doc:"Meshing method: grid, martini, delatin"`
	DefaultGridSize  int                `json:"defaultGridSize,omitempty" yaml:"defaultGridSize" doc:"Grid rows/cols when no zoom-specific size matches"`
	ZoomGridSizes    map[string]int     `json:"zoomGridSizes,omitempty" yaml:"zoomGridSizes" doc:"Per-zoom grid sizes"`
	DefaultMaxError  float64            `json:"defaultMaxError,omitempty" yaml:"defaultMaxError" doc:"Max triangulation error in meters"`
	ZoomMaxErrors    map[string]float64 `json:"zoomMaxErrors,omitempty" yaml:"zoomMaxErrors" doc:"Per-zoom max errors"`
}

// DefaultTileOptions mirrors the defaults of the dynamic endpoint.
func DefaultTileOptions() TileOptions {
	return TileOptions{
		MinZoom:          1,
		MaxZoom:          18,
		ResamplingMethod: "none",
		MeshingMethod:    "grid",
		DefaultGridSize:  20,
		ZoomGridSizes: map[string]int{
			"15": 25, "16": 25, "17": 30, "18": 35,
			"19": 35, "20": 35, "21": 35, "22": 35,
		},
		DefaultMaxError: 4,
		ZoomMaxErrors: map[string]float64{
			"15": 8, "16": 5, "17": 3, "18": 2,
			"19": 1, "20": 0.5, "21": 0.3, "22": 0.1,
		},
	}
}

// GridSizeFor returns the grid size to mesh at a zoom level.
func (o TileOptions) GridSizeFor(z int) int {
	if v, ok := o.ZoomGridSizes[strconv.Itoa(z)]; ok {
		return v
	}
	return o.DefaultGridSize
}

// MaxErrorFor returns the max triangulation error at a zoom level.
func (o TileOptions) MaxErrorFor(z int) float64 {
	if v, ok := o.ZoomMaxErrors[strconv.Itoa(z)]; ok {
		return v
	}
	return o.DefaultMaxError
}

// MeshParam returns the value that distinguishes processed windows between
// meshing policies: the grid size for grid meshes, the max error otherwise.
func (o TileOptions) MeshParam(z int) float64 {
	if o.MeshingMethod == "grid" || o.MeshingMethod == "" {
		return float64(o.GridSizeFor(z))
	}
	return o.MaxErrorFor(z)
}

// ParseZoomTable parses a {"15": 25, ...} JSON document from a query
// parameter into a zoom table.
func ParseZoomTable[T int | float64](raw string) (map[string]T, error) {
	var out map[string]T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, err, "invalid zoom table "+raw)
	}
	return out, nil
}
