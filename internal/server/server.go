// Package server wires the HTTP surface: a Huma API for the JSON endpoints
// and plain mux handlers for the binary terrain routes.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/geoforge/ctod/internal/cog"
	"github.com/geoforge/ctod/internal/config"
	"github.com/geoforge/ctod/internal/logger"
	"github.com/geoforge/ctod/internal/metrics"
	"github.com/geoforge/ctod/internal/terrain"
	"github.com/geoforge/ctod/internal/tilecache"
	"github.com/geoforge/ctod/internal/tms"
)

// Config holds the server configuration.
type Config struct {
	Host              string
	Port              string
	TileCachePath     string // empty disables the on-disk tile cache
	DatasetConfigPath string // empty means no named datasets
	Unsafe            bool
	NoDynamic         bool
	CORSAllowOrigins  string
}

// Server is the CTOD HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	pool     *cog.Pool
	factory  *terrain.Factory
	datasets *config.DatasetStore
	matrix   *tms.TileMatrixSet
}

// New creates a new terrain server. Errors are fatal startup conditions.
func New(cfg Config) (*Server, error) {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("CTOD API", "1.1.0")
	humaConfig.Info.Description = "Cesium Terrain On Demand: quantized-mesh terrain tiles generated on the fly from Cloud Optimized GeoTIFFs."
	humaAPI := humago.New(mux, humaConfig)

	pool := cog.NewPool(cog.Options{Unsafe: cfg.Unsafe})

	var disk *tilecache.Cache
	if cfg.TileCachePath != "" {
		var err error
		disk, err = tilecache.New(cfg.TileCachePath)
		if err != nil {
			return nil, err
		}
		disk.Sweep()
	}

	datasets := config.NewDatasetStore()
	if cfg.DatasetConfigPath != "" {
		var err error
		datasets, err = config.LoadDatasetStore(cfg.DatasetConfigPath)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded dataset config",
			zap.String("path", cfg.DatasetConfigPath),
			zap.Int("datasets", len(datasets.List())))
	}

	// The Cesium quantized-mesh client tiles in the two-root geographic
	// scheme.
	matrix, err := tms.Get(tms.WGS1984Quad)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humaAPI,
		pool:     pool,
		factory:  terrain.NewFactory(terrain.PoolSource{Pool: pool}, terrain.Options{DiskCache: disk}),
		datasets: datasets,
		matrix:   matrix,
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close releases server resources.
func (s *Server) Close() error {
	s.factory.Close()
	s.pool.Close()
	return nil
}

// OpenAPI returns the API's OpenAPI description.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Factory exposes the terrain factory, used by the seed subcommand.
func (s *Server) Factory() *terrain.Factory { return s.factory }

// Matrix exposes the tile matrix set terrain is generated in.
func (s *Server) Matrix() *tms.TileMatrixSet { return s.matrix }

// Datasets exposes the named dataset store.
func (s *Server) Datasets() *config.DatasetStore { return s.datasets }

// Footprint returns a dataset's geographic envelope.
func (s *Server) Footprint(cogPath string) (tms.Bounds, error) {
	reader, err := s.pool.Get(cogPath)
	if err != nil {
		return tms.Bounds{}, err
	}
	return reader.Footprint(), nil
}

type statusBody struct {
	Status string `json:"status" doc:"Liveness status" example:"ok"`
}

type datasetListBody struct {
	Datasets []string `json:"datasets" doc:"Configured dataset names"`
}

func (s *Server) routes() {
	huma.Get(s.humaAPI, "/status", func(ctx context.Context, input *struct{}) (*struct{ Body statusBody }, error) {
		return &struct{ Body statusBody }{Body: statusBody{Status: "ok"}}, nil
	}, huma.OperationTags("health"))

	huma.Get(s.humaAPI, "/datasets", func(ctx context.Context, input *struct{}) (*struct{ Body datasetListBody }, error) {
		var names []string
		for _, d := range s.datasets.List() {
			names = append(names, d.Name)
		}
		return &struct{ Body datasetListBody }{Body: datasetListBody{Datasets: names}}, nil
	}, huma.OperationTags("datasets"))

	s.mux.Handle("/metrics", metrics.Handler())

	if !s.config.NoDynamic {
		s.mux.HandleFunc("GET /tiles/dynamic/layer.json", s.withCORS(s.handleDynamicLayer))
		s.mux.HandleFunc("GET /tiles/dynamic/{z}/{x}/{file}", s.withCORS(s.handleDynamicTerrain))
	}
	s.mux.HandleFunc("GET /tiles/{dataset}/layer.json", s.withCORS(s.handleDatasetLayer))
	s.mux.HandleFunc("GET /tiles/{dataset}/{z}/{x}/{file}", s.withCORS(s.handleDatasetTerrain))
}

// withCORS applies the configured CORS policy to a tile handler.
func (s *Server) withCORS(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.CORSAllowOrigins != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.config.CORSAllowOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h(w, r)
	}
}
