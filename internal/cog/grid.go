package cog

import "github.com/geoforge/ctod/internal/tms"

// ElevationGrid is a dense window of elevations read from a dataset.
// Row 0 is the north edge. Grids are immutable after creation and shared by
// reference between requests; the processed-window cache holds one reference.
type ElevationGrid struct {
	Width, Height int
	Data          []float32
	Bounds        tms.Bounds
	Resampling    string

	// NoData marks cells that held the dataset's NoData value before
	// replacement. Nil when the window had none.
	NoData []bool

	// Empty is set when the requested window lies fully outside the dataset.
	// The factory renders such windows as empty tiles instead of failing.
	Empty bool
}

// NewEmptyGrid returns a grid flagged as fully outside the dataset.
func NewEmptyGrid(bounds tms.Bounds) *ElevationGrid {
	return &ElevationGrid{Bounds: bounds, Empty: true}
}

// At returns the elevation at a column and row.
func (g *ElevationGrid) At(col, row int) float32 {
	return g.Data[row*g.Width+col]
}

// SizeBytes returns the grid's memory footprint, used by the byte-budgeted
// processed-window cache.
func (g *ElevationGrid) SizeBytes() int64 {
	return int64(len(g.Data))*4 + int64(len(g.NoData)) + 64
}
