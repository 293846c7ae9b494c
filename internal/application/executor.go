package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
	"github.com/jobrunner/vicinus/internal/spatial"
)

// FeatureSource reads the features of a catalog layer.
type FeatureSource interface {
	Features(ctx context.Context, snap *CatalogSnapshot, layer domain.Layer) ([]domain.Feature, error)
}

// Executor runs a validated operation request.
type Executor interface {
	Execute(ctx context.Context, req domain.OperationRequest, target, reference domain.Layer, snap *CatalogSnapshot) (*domain.OperationResult, error)
}

type bufferKey struct {
	version uint64
	layer   string
	degrees float64
}

// SpatialExecutor implements buffer containment over in-memory features.
type SpatialExecutor struct {
	source   FeatureSource
	buffers  *lru.Cache[bufferKey, orb.MultiPolygon]
	segments int
	metrics  output.MetricsCollector
	logger   *slog.Logger
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	BufferSegments int // Vertices per full circle in buffer geometries
	CacheSize      int // Buffer geometries kept; 0 disables caching
}

// NewSpatialExecutor creates a new executor.
func NewSpatialExecutor(
	source FeatureSource,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg ExecutorConfig,
) (*SpatialExecutor, error) {
	if cfg.BufferSegments == 0 {
		cfg.BufferSegments = spatial.DefaultSegments
	}

	e := &SpatialExecutor{
		source:   source,
		segments: cfg.BufferSegments,
		metrics:  metrics,
		logger:   logger,
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[bufferKey, orb.MultiPolygon](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create buffer cache: %w", err)
		}
		e.buffers = cache
	}
	return e, nil
}

// Execute implements Executor. Target and reference must come from snap's
// catalog. An empty layer gives an empty result, not an error.
func (e *SpatialExecutor) Execute(
	ctx context.Context,
	req domain.OperationRequest,
	target, reference domain.Layer,
	snap *CatalogSnapshot,
) (*domain.OperationResult, error) {
	if !domain.ValidDistance(req.Distance) {
		return nil, &domain.PreconditionError{
			Field:   "distance",
			Value:   req.Distance,
			Message: "must be finite and greater than zero",
		}
	}
	degrees, err := domain.ToDegrees(req.Distance, req.Unit)
	if err != nil {
		return nil, &domain.PreconditionError{Field: "unit", Value: req.Unit, Message: err.Error()}
	}

	start := time.Now()
	var targets, references []domain.Feature
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		references, err = e.load(gctx, snap, reference, domain.RoleReference)
		return err
	})
	g.Go(func() error {
		var err error
		targets, err = e.load(gctx, snap, target, domain.RoleTarget)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.metrics.ObserveStageDuration("load", time.Since(start))

	refGeoms := make([]orb.Geometry, 0, len(references))
	for _, f := range references {
		if f.Geometry != nil {
			refGeoms = append(refGeoms, f.Geometry)
		}
	}

	matched := make([]domain.Feature, 0)
	if len(refGeoms) > 0 {
		for i := range targets {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if within(targets[i].Geometry, refGeoms, degrees) {
				matched = append(matched, targets[i])
			}
		}
	}

	e.logger.Debug("operation executed",
		"request", req.String(),
		"targets", len(targets),
		"references", len(refGeoms),
		"matched", len(matched),
	)

	return &domain.OperationResult{
		MatchedFeatures: matched,
		Buffer:          e.buffer(snap.Version, reference.Name, refGeoms, degrees),
		Count:           len(matched),
		Degrees:         degrees,
	}, nil
}

func (e *SpatialExecutor) load(ctx context.Context, snap *CatalogSnapshot, layer domain.Layer, role domain.LayerRole) ([]domain.Feature, error) {
	features, err := e.source.Features(ctx, snap, layer)
	if errors.Is(err, domain.ErrLayerNotFound) {
		// Validated against this snapshot, so the layer vanished underneath us.
		return nil, fmt.Errorf("%s layer %s vanished from snapshot %d: %w", role, layer.Name, snap.Version, domain.ErrInternal)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s layer %s: %w", role, layer.Name, err)
	}
	return features, nil
}

// buffer returns the display buffer for the reference geometries, cached per
// catalog version, layer and distance.
func (e *SpatialExecutor) buffer(version uint64, layer string, geoms []orb.Geometry, degrees float64) orb.MultiPolygon {
	if e.buffers == nil {
		return spatial.BufferAll(geoms, degrees, e.segments)
	}

	key := bufferKey{version: version, layer: layer, degrees: degrees}
	if mp, ok := e.buffers.Get(key); ok {
		e.metrics.IncBufferCache(true)
		return mp
	}
	e.metrics.IncBufferCache(false)

	mp := spatial.BufferAll(geoms, degrees, e.segments)
	e.buffers.Add(key, mp)
	return mp
}

// within reports whether g lies within d of any reference geometry.
func within(g orb.Geometry, refs []orb.Geometry, d float64) bool {
	if g == nil {
		return false
	}
	for _, r := range refs {
		if spatial.WithinDistance(g, r, d) {
			return true
		}
	}
	return false
}
