// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
)

// CatalogSnapshot is an immutable view of the catalog together with the
// store that owns each layer. A request takes one snapshot and keeps it.
type CatalogSnapshot struct {
	Catalog  *domain.Catalog
	Version  uint64
	LoadedAt time.Time
	owners   map[string]output.FeatureStore
}

// owner returns the store serving a layer.
func (s *CatalogSnapshot) owner(layer string) (output.FeatureStore, bool) {
	st, ok := s.owners[layer]
	return st, ok
}

// LayerRegistry loads layers from the feature stores and publishes catalog
// snapshots. Feature reads hold the read lock; reloads hold the write lock.
type LayerRegistry struct {
	mu           sync.RWMutex
	stores       []output.FeatureStore
	storage      output.ObjectStorage
	metrics      output.MetricsCollector
	logger       *slog.Logger
	localPath    string
	descriptions map[string]string

	snapshot atomic.Pointer[CatalogSnapshot]
	version  atomic.Uint64

	syncMu sync.Mutex
	synced map[string]output.StorageObject // remote key -> last downloaded object
}

// NewLayerRegistry creates a registry with an empty catalog. storage may be
// nil when datasets are only read from localPath.
func NewLayerRegistry(
	stores []output.FeatureStore,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	localPath string,
) *LayerRegistry {
	r := &LayerRegistry{
		stores:       stores,
		storage:      storage,
		metrics:      metrics,
		logger:       logger,
		localPath:    localPath,
		descriptions: make(map[string]string),
		synced:       make(map[string]output.StorageObject),
	}
	empty, _ := domain.NewCatalog(nil)
	r.snapshot.Store(&CatalogSnapshot{
		Catalog: empty,
		owners:  map[string]output.FeatureStore{},
	})
	return r
}

// SetDescriptions overrides layer descriptions by layer name. It takes
// effect on the next Reload.
func (r *LayerRegistry) SetDescriptions(descriptions map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.descriptions = make(map[string]string, len(descriptions))
	for name, desc := range descriptions {
		r.descriptions[domain.NormalizeLayerName(name)] = desc
	}
}

// Snapshot returns the current catalog snapshot. It is never nil.
func (r *LayerRegistry) Snapshot() *CatalogSnapshot {
	return r.snapshot.Load()
}

// Reload refreshes every store and publishes a new snapshot. A store that
// fails to refresh keeps serving what it had. Layer names are unique across
// stores; the first store wins.
func (r *LayerRegistry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	var (
		layers []domain.Layer
		owners = make(map[string]output.FeatureStore)
	)

	for _, store := range r.stores {
		if err := store.Refresh(ctx); err != nil {
			r.logger.Warn("store refresh failed", "store", store.Name(), "error", err)
		}

		listed, err := store.ListLayers(ctx)
		if err != nil {
			r.logger.Error("failed to list layers", "store", store.Name(), "error", err)
			continue
		}

		for _, l := range listed {
			key := domain.NormalizeLayerName(l.Name)
			if prev, dup := owners[key]; dup {
				r.logger.Warn("layer name already taken, skipping",
					"layer", l.Name, "store", store.Name(), "owner", prev.Name())
				continue
			}
			if desc, ok := r.descriptions[key]; ok {
				l.Description = desc
			} else if l.Description == "" {
				l.Description = domain.DefaultDescription(l.Name)
			}
			owners[key] = store
			layers = append(layers, l)
		}
	}

	catalog, err := domain.NewCatalog(layers)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}

	// Owners are keyed by the catalog's canonical names.
	canonical := make(map[string]output.FeatureStore, len(owners))
	for _, l := range catalog.List() {
		canonical[l.Name] = owners[domain.NormalizeLayerName(l.Name)]
	}

	snap := &CatalogSnapshot{
		Catalog:  catalog,
		Version:  r.version.Add(1),
		LoadedAt: time.Now(),
		owners:   canonical,
	}
	r.snapshot.Store(snap)
	r.metrics.SetLayersLoaded(catalog.Len())

	r.logger.Info("catalog loaded",
		"layers", catalog.Len(),
		"version", snap.Version,
		"duration", time.Since(start),
	)
	return nil
}

// Features reads all features of a catalog layer through the snapshot's
// owning store.
func (r *LayerRegistry) Features(ctx context.Context, snap *CatalogSnapshot, layer domain.Layer) ([]domain.Feature, error) {
	store, ok := snap.owner(layer.Name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", layer.Name, domain.ErrLayerNotFound)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return store.Features(ctx, layer.Name)
}

// ListLayers implements CatalogService.
func (r *LayerRegistry) ListLayers(_ context.Context) []domain.Layer {
	return r.Snapshot().Catalog.List()
}

// GetLayer implements CatalogService.
func (r *LayerRegistry) GetLayer(_ context.Context, name string) (domain.Layer, error) {
	return r.Snapshot().Catalog.Resolve(name)
}

// LayerCount returns the number of layers in the current catalog.
func (r *LayerRegistry) LayerCount() int {
	return r.Snapshot().Catalog.Len()
}

// Close closes every store.
func (r *LayerRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, store := range r.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Downloaded int
	Removed    int
}

// Sync mirrors the remote dataset files into the local path and reloads the
// catalog when anything changed. Files that disappeared remotely are deleted
// locally, but only if this registry downloaded them.
func (r *LayerRegistry) Sync(ctx context.Context) (SyncStats, error) {
	if r.storage == nil {
		return SyncStats{}, nil
	}

	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	r.logger.Info("syncing datasets from storage")

	start := time.Now()
	objects, err := r.storage.List(ctx)
	r.metrics.ObserveStorageDuration("list", time.Since(start))
	r.metrics.IncStorageOperations("list", err == nil)
	if err != nil {
		return SyncStats{}, &domain.StorageError{Operation: "list", Err: err}
	}

	remote := make(map[string]output.StorageObject, len(objects))
	for _, obj := range objects {
		remote[obj.Key] = obj
	}

	var stats SyncStats
	for key, obj := range remote {
		if prev, ok := r.synced[key]; ok && unchanged(prev, obj) {
			continue
		}

		localPath, ok := r.datasetPath(key)
		if !ok {
			r.logger.Warn("skipping dataset outside local path", "key", key)
			continue
		}
		start := time.Now()
		err := r.storage.Download(ctx, key, localPath)
		r.metrics.ObserveStorageDuration("download", time.Since(start))
		r.metrics.IncStorageOperations("download", err == nil)
		if err != nil {
			r.logger.Error("failed to download dataset", "key", key, "error", err)
			continue
		}

		r.synced[key] = obj
		stats.Downloaded++
	}

	for key := range r.synced {
		if _, exists := remote[key]; exists {
			continue
		}
		localPath, ok := r.datasetPath(key)
		if !ok {
			delete(r.synced, key)
			continue
		}
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to delete local dataset", "path", localPath, "error", err)
			continue
		}
		delete(r.synced, key)
		stats.Removed++
	}

	if stats.Downloaded > 0 || stats.Removed > 0 {
		if err := r.Reload(ctx); err != nil {
			return stats, err
		}
	}

	r.logger.Info("sync completed",
		"downloaded", stats.Downloaded,
		"removed", stats.Removed,
		"layers", r.LayerCount(),
	)
	return stats, nil
}

// datasetPath maps a storage key to its file below the local path. Keys
// that would resolve outside it are refused.
func (r *LayerRegistry) datasetPath(key string) (string, bool) {
	rel := filepath.FromSlash(key)
	if key == "" || strings.Contains(key, "\\") || !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.Join(r.localPath, rel), true
}

func unchanged(prev, cur output.StorageObject) bool {
	if prev.ETag != "" || cur.ETag != "" {
		return prev.ETag == cur.ETag
	}
	return prev.Size == cur.Size && prev.LastModified == cur.LastModified
}
