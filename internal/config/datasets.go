package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Dataset is a named, pre-configured terrain source.
type Dataset struct {
	Name    string      `json:"name" yaml:"name" doc:"Dataset name used in /tiles/{dataset} routes"`
	Options TileOptions `json:"options" yaml:"options" doc:"Locked tile options for this dataset"`
}

// datasetFile is the on-disk shape of the dataset config document.
type datasetFile struct {
	Datasets []Dataset `json:"datasets" yaml:"datasets"`
}

// DatasetStore serves named dataset configurations loaded from a JSON or
// YAML file at startup.
type DatasetStore struct {
	mu       sync.RWMutex
	datasets map[string]Dataset
}

// NewDatasetStore creates an empty store.
func NewDatasetStore() *DatasetStore {
	return &DatasetStore{datasets: make(map[string]Dataset)}
}

// LoadDatasetStore reads a dataset config file. Options omitted per dataset
// fall back to the dynamic-endpoint defaults.
func LoadDatasetStore(path string) (*DatasetStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset config: %w", err)
	}

	var file datasetFile
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parse dataset config %s: %w", path, err)
	}

	s := NewDatasetStore()
	for _, d := range file.Datasets {
		if d.Name == "" || d.Options.Cog == "" {
			return nil, fmt.Errorf("dataset config %s: every dataset needs a name and a cog", path)
		}
		d.Options = withDefaults(d.Options)
		s.datasets[d.Name] = d
	}
	return s, nil
}

// Get returns a dataset by name.
func (s *DatasetStore) Get(name string) (Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[name]
	return d, ok
}

// List returns all configured datasets.
func (s *DatasetStore) List() []Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, d)
	}
	return out
}

// withDefaults fills unset option fields from the defaults.
func withDefaults(o TileOptions) TileOptions {
	def := DefaultTileOptions()
	if o.MinZoom == 0 {
		o.MinZoom = def.MinZoom
	}
	if o.MaxZoom == 0 {
		o.MaxZoom = def.MaxZoom
	}
	if o.ResamplingMethod == "" {
		o.ResamplingMethod = def.ResamplingMethod
	}
	if o.MeshingMethod == "" {
		o.MeshingMethod = def.MeshingMethod
	}
	if o.DefaultGridSize == 0 {
		o.DefaultGridSize = def.DefaultGridSize
		if o.ZoomGridSizes == nil {
			o.ZoomGridSizes = def.ZoomGridSizes
		}
	}
	if o.DefaultMaxError == 0 {
		o.DefaultMaxError = def.DefaultMaxError
		if o.ZoomMaxErrors == nil {
			o.ZoomMaxErrors = def.ZoomMaxErrors
		}
	}
	return o
}
