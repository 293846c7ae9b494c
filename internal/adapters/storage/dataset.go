// Package storage provides object storage adapters for dataset files.
package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// datasetExtensions are the file types mirrored from storage. Shapefile
// sidecars travel with their .shp.
var datasetExtensions = map[string]bool{
	".gpkg":    true,
	".geojson": true,
	".shp":     true,
	".shx":     true,
	".dbf":     true,
	".prj":     true,
	".cpg":     true,
}

// IsDatasetFile reports whether name is a dataset file or shapefile sidecar.
func IsDatasetFile(name string) bool {
	return datasetExtensions[strings.ToLower(filepath.Ext(name))]
}

// isLocalKey reports whether key names a file below the storage root.
// Keys from remote listings are untrusted; absolute keys and keys with ".."
// elements are refused.
func isLocalKey(key string) bool {
	return key != "" && !strings.Contains(key, "\\") && filepath.IsLocal(filepath.FromSlash(key))
}

// isMirrorable reports whether a listed key is a dataset file that can be
// mirrored below the local directory.
func isMirrorable(key string) bool {
	return IsDatasetFile(key) && isLocalKey(key)
}

// writeFile streams r into dest through a temporary file in the same
// directory, so readers never observe a partial dataset.
func writeFile(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return eris.Wrapf(err, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return eris.Wrap(err, "create temporary file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "write %s", dest)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "close %s", dest)
	}
	return eris.Wrapf(os.Rename(tmp.Name(), dest), "rename into %s", dest)
}
