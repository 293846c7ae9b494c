package output

import (
	"context"

	"github.com/jobrunner/vicinus/internal/domain"
)

// FeatureStore defines the secondary port for reading named feature layers
// from a backing store (GeoPackage files, shapefiles, GeoJSON files).
type FeatureStore interface {
	// Name identifies the store in logs.
	Name() string

	// Refresh rescans the store's files. It must not be called concurrently
	// with Features.
	Refresh(ctx context.Context) error

	// ListLayers returns the layers currently served by the store.
	ListLayers(ctx context.Context) ([]domain.Layer, error)

	// Features returns every feature of a layer in storage order.
	Features(ctx context.Context, layer string) ([]domain.Feature, error)

	// Close releases open files and connections.
	Close() error
}
