// Package filestore provides an in-memory FeatureStore filled from
// shapefiles and GeoJSON files.
package filestore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jobrunner/vicinus/internal/domain"
)

type memLayer struct {
	layer    domain.Layer
	features []domain.Feature
}

// Store holds whole layers in memory. With a directory it loads
// <dir>/<folder>/*.shp and <dir>/**/*.geojson on Refresh; without one it
// only serves layers added through Add.
type Store struct {
	mu     sync.RWMutex
	dir    string
	layers map[string]memLayer
	logger *slog.Logger
}

// NewStore creates a store that scans dir on Refresh.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{
		dir:    dir,
		layers: make(map[string]memLayer),
		logger: logger,
	}
}

// NewMemoryStore creates a store that only serves added layers.
func NewMemoryStore(logger *slog.Logger) *Store {
	return NewStore("", logger)
}

// Name implements FeatureStore.
func (s *Store) Name() string {
	if s.dir == "" {
		return "memory"
	}
	return "files"
}

// Add registers a layer. The layer kind is taken from the first feature with
// a geometry; features are re-labelled with the normalised layer name.
func (s *Store) Add(name, description string, features []domain.Feature) error {
	l, err := newMemLayer(name, description, "memory", features)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.layers[l.layer.Name]; exists {
		return fmt.Errorf("%q: %w", l.layer.Name, domain.ErrDuplicateLayer)
	}
	s.layers[l.layer.Name] = l
	return nil
}

// Refresh implements FeatureStore.
func (s *Store) Refresh(_ context.Context) error {
	if s.dir == "" {
		return nil
	}

	files, err := findDatasets(s.dir)
	if err != nil {
		return &domain.StorageError{Operation: "scan", Key: s.dir, Err: err}
	}

	layers := make(map[string]memLayer, len(files))
	for _, path := range files {
		var (
			l   memLayer
			err error
		)
		name := layerNameFor(s.dir, path)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".shp":
			l, err = loadShapefile(name, path)
		case ".geojson":
			l, err = loadGeoJSON(name, path)
		}
		if err != nil {
			s.logger.Warn("skipping dataset", "path", path, "error", err)
			continue
		}
		if existing, dup := layers[l.layer.Name]; dup {
			s.logger.Warn("duplicate layer name, keeping first",
				"layer", l.layer.Name, "kept", existing.layer.Source, "skipped", path)
			continue
		}
		layers[l.layer.Name] = l
	}

	s.mu.Lock()
	s.layers = layers
	s.mu.Unlock()

	s.logger.Info("dataset files scanned", "dir", s.dir, "layers", len(layers))
	return nil
}

// ListLayers implements FeatureStore.
func (s *Store) ListLayers(_ context.Context) ([]domain.Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Layer, 0, len(s.layers))
	for _, l := range s.layers {
		out = append(out, l.layer)
	}
	return out, nil
}

// Features implements FeatureStore. The returned slice is a copy; the
// features themselves are shared and must be treated as read-only.
func (s *Store) Features(_ context.Context, layer string) ([]domain.Feature, error) {
	s.mu.RLock()
	l, ok := s.layers[layer]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%q: %w", layer, domain.ErrLayerNotFound)
	}
	out := make([]domain.Feature, len(l.features))
	copy(out, l.features)
	return out, nil
}

// Close implements FeatureStore.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = make(map[string]memLayer)
	return nil
}

func newMemLayer(name, description, source string, features []domain.Feature) (memLayer, error) {
	name = domain.NormalizeLayerName(name)
	if name == "" {
		return memLayer{}, fmt.Errorf("empty layer name: %w", domain.ErrInvalidInput)
	}

	var kind domain.GeometryKind
	for i := range features {
		features[i].LayerName = name
		if kind == "" {
			if k, ok := features[i].Kind(); ok {
				kind = k
			}
		}
	}
	if kind == "" && len(features) > 0 {
		return memLayer{}, fmt.Errorf("layer %s has no usable geometry: %w", name, domain.ErrUnsupported)
	}
	if b, ok := domain.ExtentOf(features); ok {
		if err := domain.CheckWGS84Extent(b); err != nil {
			return memLayer{}, fmt.Errorf("layer %s is not in lon/lat: %w", name, err)
		}
	}

	return memLayer{
		layer: domain.Layer{
			Name:         name,
			Kind:         kind,
			FeatureCount: int64(len(features)),
			SRID:         domain.WGS84,
			Description:  description,
			Source:       source,
		},
		features: features,
	}, nil
}

// findDatasets returns shapefiles and GeoJSON files below dir, sorted.
func findDatasets(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".shp", ".geojson":
			paths = append(paths, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	sort.Strings(paths)
	return paths, err
}

// layerNameFor names a dataset after its folder when it lives in a
// subdirectory of root, otherwise after the file itself.
func layerNameFor(root, path string) string {
	parent := filepath.Dir(path)
	if rel, err := filepath.Rel(root, parent); err == nil && rel != "." {
		return domain.NormalizeLayerName(filepath.Base(parent))
	}
	base := filepath.Base(path)
	return domain.NormalizeLayerName(strings.TrimSuffix(base, filepath.Ext(base)))
}
