package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/config"
	"github.com/geoforge/ctod/internal/tms"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	matrix, err := tms.Get(tms.WGS1984Quad)
	if err != nil {
		t.Fatal(err)
	}
	return &Server{
		config:   Config{},
		datasets: config.NewDatasetStore(),
		matrix:   matrix,
	}
}

func TestTileFromPath(t *testing.T) {
	s := testServer(t)

	mux := http.NewServeMux()
	var got tms.Tile
	var gotErr error
	mux.HandleFunc("GET /tiles/dynamic/{z}/{x}/{file}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = s.tileFromPath(r)
	})

	r := httptest.NewRequest(http.MethodGet, "/tiles/dynamic/8/260/100.terrain", nil)
	mux.ServeHTTP(httptest.NewRecorder(), r)
	if gotErr != nil {
		t.Fatal(gotErr)
	}
	// The incoming row is Cesium-flipped.
	want := tms.Tile{Z: 8, X: 260, Y: s.matrix.FlipY(8, 100)}
	if got != want {
		t.Errorf("tile = %v, want %v", got, want)
	}

	for _, path := range []string{
		"/tiles/dynamic/8/260/100.png",
		"/tiles/dynamic/x/260/100.terrain",
		"/tiles/dynamic/8/999999/100.terrain",
	} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		gotErr = nil
		mux.ServeHTTP(httptest.NewRecorder(), r)
		if !apperr.IsKind(gotErr, apperr.BadRequest) {
			t.Errorf("path %s: err = %v, want BadRequest", path, gotErr)
		}
	}
}

func TestWriteErrorMapping(t *testing.T) {
	s := testServer(t)

	cases := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.BadRequest, http.StatusBadRequest},
		{apperr.NoSuchDataset, http.StatusNotFound},
		{apperr.UnsafeRequest, http.StatusRequestEntityTooLarge},
		{apperr.SourceUnavailable, http.StatusBadGateway},
		{apperr.Timeout, http.StatusGatewayTimeout},
		{apperr.Overloaded, http.StatusServiceUnavailable},
		{apperr.Internal, http.StatusInternalServerError},
		{apperr.MeshingFailed, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		s.writeError(rec, apperr.New(tc.kind, "boom"))
		if rec.Code != tc.want {
			t.Errorf("%s -> %d, want %d", tc.kind, rec.Code, tc.want)
		}

		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: body is not JSON: %v", tc.kind, err)
		}
		if body["error"] != string(tc.kind) {
			t.Errorf("%s: body error = %q", tc.kind, body["error"])
		}
		if body["message"] == "" {
			t.Errorf("%s: empty message", tc.kind)
		}
	}
}

func TestDatasetTerrainUnknownDataset(t *testing.T) {
	s := testServer(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tiles/{dataset}/{z}/{x}/{file}", s.handleDatasetTerrain)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/atlantis/8/260/100.terrain", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
