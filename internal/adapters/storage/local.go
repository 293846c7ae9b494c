package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/jobrunner/vicinus/internal/ports/output"
)

// LocalStorage implements ObjectStorage for a local directory, typically a
// mounted volume mirrored into the dataset directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns all dataset files below the base directory.
func (s *LocalStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !IsDatasetFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          filepath.ToSlash(relPath),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "list %s", s.basePath)
	}

	return objects, nil
}

// Download copies a file to dest. It is a no-op when dest is the source.
func (s *LocalStorage) Download(_ context.Context, key string, dest string) error {
	srcPath := s.FullPath(key)
	if filepath.Clean(srcPath) == filepath.Clean(dest) {
		return nil
	}

	src, err := os.Open(srcPath) //#nosec G304 -- key comes from List
	if err != nil {
		return eris.Wrapf(err, "open %s", key)
	}
	defer func() { _ = src.Close() }()

	return writeFile(dest, src)
}

// GetReader returns a reader for the given object.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(s.FullPath(key)) //#nosec G304 -- key comes from List
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
