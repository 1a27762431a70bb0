package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/config"
	"github.com/geoforge/ctod/internal/logger"
	"github.com/geoforge/ctod/internal/qmesh"
	"github.com/geoforge/ctod/internal/tms"
)

// handleDynamicTerrain serves a tile whose options come from query params.
func (s *Server) handleDynamicTerrain(w http.ResponseWriter, r *http.Request) {
	opts, err := parseDynamicOptions(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveTerrain(w, r, opts)
}

// handleDatasetTerrain serves a tile for a named dataset; query parameters
// are ignored, the dataset's configuration is authoritative.
func (s *Server) handleDatasetTerrain(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("dataset")
	ds, ok := s.datasets.Get(name)
	if !ok {
		s.writeError(w, apperr.New(apperr.NoSuchDataset, "dataset %q is not configured", name))
		return
	}
	s.serveTerrain(w, r, ds.Options)
}

func (s *Server) serveTerrain(w http.ResponseWriter, r *http.Request, opts config.TileOptions) {
	tile, err := s.tileFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	art, err := s.factory.GetTile(r.Context(), s.matrix, tile, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return // client went away
		}
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("ETag", art.ETag)
	w.Write(art.Bytes)
}

// tileFromPath parses {z}/{x}/{file} and unflips the Cesium row into the
// TMS row.
func (s *Server) tileFromPath(r *http.Request) (tms.Tile, error) {
	z, errZ := strconv.Atoi(r.PathValue("z"))
	x, errX := strconv.Atoi(r.PathValue("x"))
	file := r.PathValue("file")
	yStr, found := strings.CutSuffix(file, ".terrain")
	if errZ != nil || errX != nil || !found {
		return tms.Tile{}, apperr.New(apperr.BadRequest, "bad tile path %q", r.URL.Path)
	}
	y, err := strconv.Atoi(yStr)
	if err != nil {
		return tms.Tile{}, apperr.New(apperr.BadRequest, "bad tile row %q", yStr)
	}

	tile := tms.Tile{Z: z, X: x, Y: s.matrix.FlipY(z, y)}
	if !s.matrix.Valid(tile) {
		return tms.Tile{}, apperr.New(apperr.BadRequest, "tile %d/%d/%d out of range", z, x, y)
	}
	return tile, nil
}

// handleDynamicLayer serves the layer.json for ad-hoc query parameters.
func (s *Server) handleDynamicLayer(w http.ResponseWriter, r *http.Request) {
	opts, err := parseDynamicOptions(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveLayerJSON(w, r.URL.RawQuery, opts)
}

// handleDatasetLayer serves the layer.json for a named dataset.
func (s *Server) handleDatasetLayer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("dataset")
	ds, ok := s.datasets.Get(name)
	if !ok {
		s.writeError(w, apperr.New(apperr.NoSuchDataset, "dataset %q is not configured", name))
		return
	}
	s.serveLayerJSON(w, "", ds.Options)
}

func (s *Server) serveLayerJSON(w http.ResponseWriter, tileQuery string, opts config.TileOptions) {
	reader, err := s.pool.Get(opts.Cog)
	if err != nil {
		s.writeError(w, err)
		return
	}

	layer := qmesh.NewLayerJSON(s.matrix, reader.Footprint(), opts.MaxZoom, tileQuery)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(layer)
}

// writeError maps error kinds onto HTTP statuses with a small JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.BadRequest:
		status = http.StatusBadRequest
	case apperr.NoSuchDataset:
		status = http.StatusNotFound
	case apperr.UnsafeRequest:
		status = http.StatusRequestEntityTooLarge
	case apperr.SourceUnavailable:
		status = http.StatusBadGateway
	case apperr.Timeout:
		status = http.StatusGatewayTimeout
	case apperr.Overloaded:
		status = http.StatusServiceUnavailable
	}

	if status >= 500 {
		logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	var message string
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	} else {
		message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   string(kind),
		"message": message,
	})
}
