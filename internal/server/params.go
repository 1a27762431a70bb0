package server

import (
	"net/url"
	"strconv"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/cog"
	"github.com/geoforge/ctod/internal/config"
	"github.com/geoforge/ctod/internal/mesher"
)

// defaultCog serves the bundled demo DEM when the dynamic endpoint gets no
// cog parameter.
const defaultCog = "./files/test_cog.tif"

// parseDynamicOptions turns dynamic-endpoint query parameters into tile
// options, validating every field it touches.
func parseDynamicOptions(q url.Values) (config.TileOptions, error) {
	opts := config.DefaultTileOptions()
	opts.Cog = defaultCog

	if v := q.Get("cog"); v != "" {
		opts.Cog = v
	}

	var err error
	if opts.MinZoom, err = intParam(q, "minZoom", opts.MinZoom); err != nil {
		return opts, err
	}
	if opts.MaxZoom, err = intParam(q, "maxZoom", opts.MaxZoom); err != nil {
		return opts, err
	}
	if opts.NoData, err = floatParam(q, "noData", opts.NoData); err != nil {
		return opts, err
	}

	if v := q.Get("resamplingMethod"); v != "" {
		if !cog.ValidResampling(v) {
			return opts, apperr.New(apperr.BadRequest, "unknown resampling method %q", v)
		}
		opts.ResamplingMethod = v
	}
	if v := q.Get("meshingMethod"); v != "" {
		if !mesher.ValidMethod(v) {
			return opts, apperr.New(apperr.BadRequest, "unknown meshing method %q", v)
		}
		opts.MeshingMethod = v
	}
	if v := q.Get("skipCache"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return opts, apperr.New(apperr.BadRequest, "skipCache must be a boolean, got %q", v)
		}
		opts.SkipCache = b
	}

	// An explicit flat grid size or max error replaces the zoom tables
	// unless the matching table is also explicit.
	if v := q.Get("defaultGridSize"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n < 1 {
			return opts, apperr.New(apperr.BadRequest, "defaultGridSize must be a positive integer, got %q", v)
		}
		opts.DefaultGridSize = n
		opts.ZoomGridSizes = nil
	}
	if v := q.Get("zoomGridSizes"); v != "" {
		table, perr := config.ParseZoomTable[int](v)
		if perr != nil {
			return opts, perr
		}
		opts.ZoomGridSizes = table
	}
	if v := q.Get("defaultMaxError"); v != "" {
		e, perr := strconv.ParseFloat(v, 64)
		if perr != nil || e < 0 {
			return opts, apperr.New(apperr.BadRequest, "defaultMaxError must be a non-negative number, got %q", v)
		}
		opts.DefaultMaxError = e
		opts.ZoomMaxErrors = nil
	}
	if v := q.Get("zoomMaxErrors"); v != "" {
		table, perr := config.ParseZoomTable[float64](v)
		if perr != nil {
			return opts, perr
		}
		opts.ZoomMaxErrors = table
	}

	if opts.MinZoom < 0 || opts.MaxZoom < opts.MinZoom {
		return opts, apperr.New(apperr.BadRequest, "invalid zoom range %d..%d", opts.MinZoom, opts.MaxZoom)
	}
	return opts, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.New(apperr.BadRequest, "%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func floatParam(q url.Values, name string, def float64) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperr.New(apperr.BadRequest, "%s must be a number, got %q", name, v)
	}
	return f, nil
}
