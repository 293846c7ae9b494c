package filestore

import (
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/vicinus/internal/domain"
)

// loadGeoJSON reads a FeatureCollection file into memory. GeoJSON is lon/lat
// WGS84 by definition.
func loadGeoJSON(name, path string) (memLayer, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path from dataset directory scan
	if err != nil {
		return memLayer{}, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return memLayer{}, fmt.Errorf("parse %s: %w", path, err)
	}

	features := make([]domain.Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = domain.ScalarProperty(v)
		}
		features = append(features, domain.Feature{
			ID:         featureID(f.ID, i),
			Geometry:   f.Geometry,
			Properties: props,
		})
	}

	return newMemLayer(name, "", path, features)
}

// featureID uses a numeric GeoJSON id when present, else the 1-based position.
func featureID(id any, index int) int64 {
	switch v := id.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return int64(index + 1)
	}
}
