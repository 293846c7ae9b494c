package application

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/vicinus/internal/adapters/filestore"
	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
)

// schoolFeatures are five schools around a single east-west pipeline at
// latitude 29.75. One mile is about 0.01446 degrees.
func schoolFeatures() []domain.Feature {
	return []domain.Feature{
		{ID: 1, Geometry: orb.Point{-95.35, 29.755}, Properties: map[string]any{"name": "Lincoln"}},  // 0.005 deg
		{ID: 2, Geometry: orb.Point{-95.38, 29.74}, Properties: map[string]any{"name": "Adams"}},     // 0.010 deg
		{ID: 3, Geometry: orb.Point{-95.32, 29.7625}, Properties: map[string]any{"name": "Jackson"}}, // 0.0125 deg
		{ID: 4, Geometry: orb.Point{-95.35, 29.78}, Properties: map[string]any{"name": "Polk"}},      // 0.030 deg
		{ID: 5, Geometry: orb.Point{-95.50, 29.75}, Properties: map[string]any{"name": "Tyler"}},     // 0.100 deg past the end
	}
}

func pipelineFeatures() []domain.Feature {
	return []domain.Feature{
		{ID: 1, Geometry: orb.LineString{{-95.40, 29.75}, {-95.30, 29.75}}, Properties: map[string]any{"operator": "Acme"}},
	}
}

// scenarioRegistry loads schools, pipelines and an empty layer into an
// in-memory store.
func scenarioRegistry(t *testing.T) *LayerRegistry {
	t.Helper()
	store := filestore.NewMemoryStore(testLogger())
	require.NoError(t, store.Add("schools", "Public schools", schoolFeatures()))
	require.NoError(t, store.Add("pipelines", "Gas pipelines", pipelineFeatures()))
	require.NoError(t, store.Add("wells", "Abandoned wells", nil))
	require.NoError(t, store.Add("parks", "City parks", []domain.Feature{
		{ID: 1, Geometry: orb.Polygon{{{-95.36, 29.76}, {-95.34, 29.76}, {-95.34, 29.77}, {-95.36, 29.77}, {-95.36, 29.76}}}},
		{ID: 2, Geometry: orb.Polygon{{{-95.36, 29.90}, {-95.34, 29.90}, {-95.34, 29.91}, {-95.36, 29.91}, {-95.36, 29.90}}}},
	}))

	registry := NewLayerRegistry([]output.FeatureStore{store}, nil, &output.NoOpMetrics{}, testLogger(), t.TempDir())
	require.NoError(t, registry.Reload(context.Background()))
	return registry
}

func newTestExecutor(t *testing.T, registry *LayerRegistry, metrics output.MetricsCollector) *SpatialExecutor {
	t.Helper()
	e, err := NewSpatialExecutor(registry, metrics, testLogger(), ExecutorConfig{BufferSegments: 16, CacheSize: 8})
	require.NoError(t, err)
	return e
}

func request(target, reference string, d float64, u domain.Unit) domain.OperationRequest {
	return domain.OperationRequest{
		Operation:      domain.OpBufferContainment,
		TargetLayer:    target,
		ReferenceLayer: reference,
		Distance:       d,
		Unit:           u,
	}
}

func execute(t *testing.T, e *SpatialExecutor, registry *LayerRegistry, req domain.OperationRequest) (*domain.OperationResult, error) {
	t.Helper()
	snap := registry.Snapshot()
	target, err := snap.Catalog.Resolve(req.TargetLayer)
	require.NoError(t, err)
	reference, err := snap.Catalog.Resolve(req.ReferenceLayer)
	require.NoError(t, err)
	return e.Execute(context.Background(), req, target, reference, snap)
}

func matchedIDs(r *domain.OperationResult) []int64 {
	ids := make([]int64, 0, len(r.MatchedFeatures))
	for _, f := range r.MatchedFeatures {
		ids = append(ids, f.ID)
	}
	return ids
}

func TestExecutePointsNearLine(t *testing.T) {
	registry := scenarioRegistry(t)
	e := newTestExecutor(t, registry, &output.NoOpMetrics{})

	result, err := execute(t, e, registry, request("schools", "pipelines", 1, domain.UnitMiles))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Count)
	assert.Equal(t, len(result.MatchedFeatures), result.Count)
	assert.Equal(t, []int64{1, 2, 3}, matchedIDs(result), "matches keep target-layer order")
	assert.InDelta(t, 1609.344/domain.MetersPerDegree, result.Degrees, 1e-12)
	assert.NotEmpty(t, result.Buffer)
	for _, f := range result.MatchedFeatures {
		assert.Equal(t, "schools", f.LayerName)
	}
}

func TestExecuteDistanceMonotonic(t *testing.T) {
	registry := scenarioRegistry(t)
	e := newTestExecutor(t, registry, &output.NoOpMetrics{})

	prev := -1
	for _, miles := range []float64{0.1, 0.5, 1, 2, 5, 10} {
		result, err := execute(t, e, registry, request("schools", "pipelines", miles, domain.UnitMiles))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.Count, prev, "count must not shrink as the distance grows (%g mi)", miles)
		prev = result.Count
	}
	assert.Equal(t, 5, prev)
}

func TestExecutePolygonTargets(t *testing.T) {
	registry := scenarioRegistry(t)
	e := newTestExecutor(t, registry, &output.NoOpMetrics{})

	result, err := execute(t, e, registry, request("parks", "pipelines", 1, domain.UnitMiles))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, matchedIDs(result))

	// Polygon reference: 1.2 km is about 0.0108 degrees.
	result, err = execute(t, e, registry, request("schools", "parks", 1.2, domain.UnitKilometers))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, matchedIDs(result))
}

func TestExecuteEmptyLayers(t *testing.T) {
	registry := scenarioRegistry(t)
	e := newTestExecutor(t, registry, &output.NoOpMetrics{})

	result, err := execute(t, e, registry, request("schools", "wells", 10, domain.UnitKilometers))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.Empty(t, result.MatchedFeatures)
	assert.Empty(t, result.Buffer)

	result, err = execute(t, e, registry, request("wells", "pipelines", 10, domain.UnitKilometers))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
}

func TestExecutePrecondition(t *testing.T) {
	registry := scenarioRegistry(t)
	e := newTestExecutor(t, registry, &output.NoOpMetrics{})

	for _, d := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := execute(t, e, registry, request("schools", "pipelines", d, domain.UnitMiles))
		var pe *domain.PreconditionError
		require.ErrorAs(t, err, &pe, "distance %v", d)
		assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	}

	_, err := execute(t, e, registry, request("schools", "pipelines", 1, "leagues"))
	var pe *domain.PreconditionError
	assert.ErrorAs(t, err, &pe)
}

func TestExecuteBufferCache(t *testing.T) {
	registry := scenarioRegistry(t)
	metrics := newCountingMetrics()
	e := newTestExecutor(t, registry, metrics)

	req := request("schools", "pipelines", 1, domain.UnitMiles)
	first, err := execute(t, e, registry, req)
	require.NoError(t, err)
	second, err := execute(t, e, registry, req)
	require.NoError(t, err)

	assert.Equal(t, first.Buffer, second.Buffer)
	assert.Equal(t, 1, metrics.cache[false])
	assert.Equal(t, 1, metrics.cache[true])

	// A new catalog version misses the cache.
	require.NoError(t, registry.Reload(context.Background()))
	_, err = execute(t, e, registry, req)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.cache[false])
}

func TestExecuteVanishedLayer(t *testing.T) {
	registry := scenarioRegistry(t)
	e := newTestExecutor(t, registry, &output.NoOpMetrics{})
	snap := registry.Snapshot()

	target, _ := snap.Catalog.Resolve("schools")
	_, err := e.Execute(context.Background(), request("schools", "rivers", 1, domain.UnitMiles),
		target, domain.Layer{Name: "rivers"}, snap)

	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	var ule *domain.UnknownLayerError
	assert.False(t, errors.As(err, &ule), "a layer lost after validation is not the caller's mistake")
	assert.Contains(t, err.Error(), "rivers")
}

type failingSource struct{ err error }

func (f failingSource) Features(_ context.Context, _ *CatalogSnapshot, _ domain.Layer) ([]domain.Feature, error) {
	return nil, f.err
}

func TestExecuteLoadError(t *testing.T) {
	registry := scenarioRegistry(t)
	e, err := NewSpatialExecutor(failingSource{errors.New("disk I/O error")}, &output.NoOpMetrics{}, testLogger(), ExecutorConfig{})
	require.NoError(t, err)

	_, err = execute(t, e, registry, request("schools", "pipelines", 1, domain.UnitMiles))
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}
