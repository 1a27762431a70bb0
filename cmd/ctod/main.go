package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geoforge/ctod/internal/config"
	"github.com/geoforge/ctod/internal/logger"
	"github.com/geoforge/ctod/internal/server"
	"github.com/geoforge/ctod/internal/tms"
)

// Options defines all CLI flags and env vars for the terrain server.
// Flags: --host, --port, --tile-cache-path, --dataset-config-path,
// --logging-level, --log-file, --unsafe, --no-dynamic, --cors-allow-origins
type Options struct {
	Host              string `doc:"Host to bind to" default:"0.0.0.0"`
	Port              int    `doc:"Port to listen on" short:"p" default:"5000"`
	TileCachePath     string `doc:"Directory for the on-disk tile cache; empty disables it"`
	DatasetConfigPath string `doc:"Path to the dataset config file (.json or .yaml)"`
	LoggingLevel      string `doc:"Logging level: debug, info, warning, error, critical" default:"info"`
	LogFile           string `doc:"Optional rotating log file path"`
	Unsafe            bool   `doc:"Serve tiles even when the COG lacks overviews for them"`
	NoDynamic         bool   `doc:"Disable the /tiles/dynamic endpoints"`
	CorsAllowOrigins  string `doc:"Access-Control-Allow-Origin value for tile routes" default:"*"`
}

func newServer(opts *Options) (*server.Server, error) {
	return server.New(server.Config{
		Host:              opts.Host,
		Port:              fmt.Sprintf("%d", opts.Port),
		TileCachePath:     opts.TileCachePath,
		DatasetConfigPath: opts.DatasetConfigPath,
		Unsafe:            opts.Unsafe,
		NoDynamic:         opts.NoDynamic,
		CORSAllowOrigins:  opts.CorsAllowOrigins,
	})
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		hooks.OnStart(func() {
			if err := logger.Init(opts.LoggingLevel, opts.LogFile); err != nil {
				fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
				os.Exit(1)
			}
			defer logger.Sync()

			srv, err := newServer(opts)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				os.Exit(1)
			}
			defer srv.Close()

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			logger.Info("ctod listening",
				zap.String("addr", addr),
				zap.String("tile_cache", opts.TileCachePath),
				zap.Bool("dynamic", !opts.NoDynamic))

			if err := http.ListenAndServe(addr, srv); err != nil {
				logger.Error("server error", zap.Error(err))
				os.Exit(1)
			}
		})
	})

	cli.Root().Use = "ctod"
	cli.Root().Short = "Cesium Terrain On Demand"
	cli.Root().Version = "1.1.0"

	// seed subcommand: pre-generate tiles for a dataset into the disk cache.
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Pre-generate terrain tiles for a dataset into the tile cache",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			if opts.TileCachePath == "" {
				fmt.Fprintln(os.Stderr, "seed requires --tile-cache-path")
				os.Exit(1)
			}
			dataset, _ := cmd.Flags().GetString("dataset")
			minZoom, _ := cmd.Flags().GetInt("min-zoom")
			maxZoom, _ := cmd.Flags().GetInt("max-zoom")

			if err := logger.Init(opts.LoggingLevel, opts.LogFile); err != nil {
				fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
				os.Exit(1)
			}
			srv, err := newServer(opts)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				os.Exit(1)
			}
			defer srv.Close()

			if err := seed(srv, dataset, minZoom, maxZoom); err != nil {
				logger.Error("seeding failed", zap.Error(err))
				os.Exit(1)
			}
		}),
	}
	seedCmd.Flags().String("dataset", "", "Named dataset from the dataset config to seed")
	seedCmd.Flags().Int("min-zoom", 0, "First zoom level to seed")
	seedCmd.Flags().Int("max-zoom", 14, "Last zoom level to seed")
	cli.Root().AddCommand(seedCmd)

	cli.Run()
}

// seed walks every tile of the dataset's footprint between the zoom levels
// and asks the factory for it, filling the disk cache.
func seed(srv *server.Server, dataset string, minZoom, maxZoom int) error {
	ds, ok := srv.Datasets().Get(dataset)
	if !ok {
		return fmt.Errorf("dataset %q is not configured", dataset)
	}

	matrix := srv.Matrix()
	start := time.Now()
	seeded := 0
	for z := minZoom; z <= maxZoom; z++ {
		startX, startY, endX, endY := matrix.IndexBounds(footprintOrWorld(srv, ds), z)
		for y := startY; y <= endY; y++ {
			for x := startX; x <= endX; x++ {
				tile := tms.Tile{Z: z, X: x, Y: matrix.FlipY(z, y)}
				if _, err := srv.Factory().GetTile(context.Background(), matrix, tile, ds.Options); err != nil {
					return fmt.Errorf("tile %s: %w", tile, err)
				}
				seeded++
			}
		}
		logger.Info("seeded zoom level", zap.Int("zoom", z), zap.Int("tiles", seeded))
	}
	logger.Info("seeding done", zap.Int("tiles", seeded), zap.Duration("took", time.Since(start)))
	return nil
}

func footprintOrWorld(srv *server.Server, ds config.Dataset) tms.Bounds {
	if b, err := srv.Footprint(ds.Options.Cog); err == nil {
		return b
	}
	return srv.Matrix().Extent()
}
