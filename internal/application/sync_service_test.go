package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/vicinus/internal/ports/output"
)

func newSyncRegistry(t *testing.T, storage *mockStorage) *LayerRegistry {
	t.Helper()
	store := newStoreWith("files", pointLayer("schools", 1))
	return NewLayerRegistry([]output.FeatureStore{store}, storage, &output.NoOpMetrics{}, testLogger(), t.TempDir())
}

func TestSyncService_RateLimiting(t *testing.T) {
	registry := newSyncRegistry(t, &mockStorage{})
	service := NewSyncService(registry, time.Hour, testLogger())
	ctx := context.Background()

	result, err := service.TriggerSync(ctx)
	if err != nil {
		t.Errorf("first sync should succeed, got error: %v", err)
	}
	if result.FilesDownloaded != 0 {
		t.Errorf("expected 0 files with empty storage, got %d", result.FilesDownloaded)
	}

	_, err = service.TriggerSync(ctx)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}

	service.cooldown = 0
	if _, err := service.TriggerSync(ctx); err != nil {
		t.Errorf("sync after cooldown should succeed, got %v", err)
	}
}

func TestSyncService_TriggerReportsLayers(t *testing.T) {
	storage := &mockStorage{objects: []output.StorageObject{{Key: "schools/schools.shp", ETag: "1"}}}
	registry := newSyncRegistry(t, storage)
	service := NewSyncService(registry, time.Hour, testLogger())

	result, err := service.TriggerSync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.FilesDownloaded != 1 {
		t.Errorf("expected 1 file downloaded, got %d", result.FilesDownloaded)
	}
	if result.LayersTotal != 1 {
		t.Errorf("expected 1 layer after reload, got %d", result.LayersTotal)
	}
	if result.SyncedAt.IsZero() {
		t.Error("SyncedAt should be set")
	}
}

func TestSyncService_StartStop(t *testing.T) {
	registry := newSyncRegistry(t, &mockStorage{})
	service := NewSyncService(registry, 20*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	service.Stop()
	service.Stop() // second stop must not panic
}

func TestSyncService_Interval(t *testing.T) {
	interval := 2 * time.Hour
	service := NewSyncService(newSyncRegistry(t, &mockStorage{}), interval, testLogger())

	if service.Interval() != interval {
		t.Errorf("expected interval %v, got %v", interval, service.Interval())
	}
}
