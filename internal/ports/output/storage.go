// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStorage is where dataset files are mirrored from. Keys are
// slash-separated paths relative to the storage root.
type ObjectStorage interface {
	// List returns the dataset files (GeoPackage, GeoJSON, shapefile parts).
	List(ctx context.Context) ([]StorageObject, error)

	// Download writes key to dest atomically. Readers of dest never see a
	// partial file.
	Download(ctx context.Context, key string, dest string) error

	// GetReader streams key.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// StorageObject describes one listed dataset file. Sync skips files whose
// ETag, or size and modification time without one, did not change.
type StorageObject struct {
	Key          string
	Size         int64
	LastModified int64 // Unix seconds, 0 when unknown
	ETag         string
}
