// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/vicinus/internal/domain"
)

// ChatService defines the primary port for answering questions.
type ChatService interface {
	// HandleQuery answers a natural-language question. It never fails:
	// errors are reported inside the response.
	HandleQuery(ctx context.Context, text string) *domain.Response
}

// CatalogService defines the primary port for browsing layers.
type CatalogService interface {
	// ListLayers returns the current catalog entries.
	ListLayers(ctx context.Context) []domain.Layer

	// GetLayer resolves a layer by name, ignoring case.
	GetLayer(ctx context.Context, name string) (domain.Layer, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy        bool              // Overall health status
	Ready          bool              // Ready to accept requests
	LayersLoaded   int               // Number of layers in the catalog
	CatalogVersion uint64            // Snapshot generation
	Components     map[string]string // Component statuses
}
