package application

import (
	"context"
	"strconv"

	"github.com/jobrunner/vicinus/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	registry *LayerRegistry
	oracle   string // Configured oracle provider, "none" when disabled
}

// NewHealthService creates a new health service.
func NewHealthService(registry *LayerRegistry, oracleProvider string) *HealthService {
	return &HealthService{
		registry: registry,
		oracle:   oracleProvider,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true once a catalog has been loaded, even an empty one.
func (s *HealthService) IsReady(_ context.Context) bool {
	return s.registry.Snapshot().Version > 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	snap := s.registry.Snapshot()

	components := map[string]string{
		"catalog": "v" + strconv.FormatUint(snap.Version, 10),
		"oracle":  s.oracle,
	}
	if snap.Version == 0 {
		components["catalog"] = "loading"
	}

	return input.HealthDetails{
		Healthy:        s.IsHealthy(ctx),
		Ready:          s.IsReady(ctx),
		LayersLoaded:   snap.Catalog.Len(),
		CatalogVersion: snap.Version,
		Components:     components,
	}
}
