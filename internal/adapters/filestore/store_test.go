package filestore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/vicinus/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePointShapefile(t *testing.T, path string, points []shp.Point, names []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))

	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 25),
		shp.NumberField("ENROLL", 10),
	}))
	for i := range points {
		idx := w.Write(&points[i])
		require.NoError(t, w.WriteAttribute(int(idx), 0, names[i]))
		require.NoError(t, w.WriteAttribute(int(idx), 1, 100*(i+1)))
	}
	w.Close()
}

const pipelinesGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 10, "properties": {"operator": "Acme", "diameter": 24},
     "geometry": {"type": "LineString", "coordinates": [[-95.40, 29.75], [-95.30, 29.75]]}}
  ]
}`

func TestStoreRefreshLoadsShapefilesAndGeoJSON(t *testing.T) {
	dir := t.TempDir()
	writePointShapefile(t, filepath.Join(dir, "Public Schools", "schools.shp"),
		[]shp.Point{{X: -95.36, Y: 29.76}, {X: -95.20, Y: 29.90}},
		[]string{"Lincoln", "Adams"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Gas-Pipelines.geojson"), []byte(pipelinesGeoJSON), 0o600))

	store := NewStore(dir, testLogger())
	require.NoError(t, store.Refresh(context.Background()))

	layers, err := store.ListLayers(context.Background())
	require.NoError(t, err)
	require.Len(t, layers, 2)

	catalog, err := domain.NewCatalog(layers)
	require.NoError(t, err)

	schools, err := catalog.Resolve("public_schools")
	require.NoError(t, err)
	assert.Equal(t, domain.KindPoint, schools.Kind)
	assert.Equal(t, int64(2), schools.FeatureCount)

	pipelines, err := catalog.Resolve("gas_pipelines")
	require.NoError(t, err)
	assert.Equal(t, domain.KindLine, pipelines.Kind)

	features, err := store.Features(context.Background(), "public_schools")
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, "Lincoln", features[0].Properties["NAME"])
	assert.Equal(t, int64(100), features[0].Properties["ENROLL"])
	assert.Equal(t, "public_schools", features[0].LayerName)
	assert.Equal(t, orb.Point{-95.36, 29.76}, features[0].Geometry)

	lines, err := store.Features(context.Background(), "gas_pipelines")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(10), lines[0].ID)
	assert.Equal(t, "Acme", lines[0].Properties["operator"])
}

func TestStoreSkipsProjectedShapefile(t *testing.T) {
	dir := t.TempDir()
	shpPath := filepath.Join(dir, "parcels", "parcels.shp")
	writePointShapefile(t, shpPath, []shp.Point{{X: 500000, Y: 5000000}}, []string{"p"})

	store := NewStore(dir, testLogger())
	require.NoError(t, store.Refresh(context.Background()))

	layers, err := store.ListLayers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, layers, "projected coordinates must be rejected by the extent check")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "parcels", "parcels.prj"),
		[]byte(`PROJCS["ETRS89 / UTM zone 32N"]`), 0o600))
	assert.ErrorIs(t, checkPrj(shpPath), errProjected)
}

func TestStoreFeaturesUnknownLayer(t *testing.T) {
	store := NewMemoryStore(testLogger())
	_, err := store.Features(context.Background(), "nothing")
	assert.ErrorIs(t, err, domain.ErrLayerNotFound)
}

func TestMemoryStoreAdd(t *testing.T) {
	store := NewMemoryStore(testLogger())

	err := store.Add("Schools", "Public schools", []domain.Feature{
		{ID: 1, Geometry: orb.Point{0, 0}},
		{ID: 2, Geometry: orb.Point{1, 1}},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, store.Add("schools", "", nil), domain.ErrDuplicateLayer)

	require.NoError(t, store.Refresh(context.Background()), "memory store refresh is a no-op")

	layers, err := store.ListLayers(context.Background())
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "schools", layers[0].Name)
	assert.Equal(t, "Public schools", layers[0].Description)

	features, err := store.Features(context.Background(), "schools")
	require.NoError(t, err)
	features[0].ID = 99

	again, err := store.Features(context.Background(), "schools")
	require.NoError(t, err)
	assert.Equal(t, int64(1), again[0].ID, "Features must return a copy of the slice")
}

func TestMemoryStoreEmptyLayer(t *testing.T) {
	store := NewMemoryStore(testLogger())
	require.NoError(t, store.Add("empty", "", nil))

	features, err := store.Features(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestLayerNameFor(t *testing.T) {
	root := filepath.Join("data")
	tests := []struct {
		path string
		want string
	}{
		{filepath.Join("data", "Fire Stations", "stations.shp"), "fire_stations"},
		{filepath.Join("data", "school-districts.geojson"), "school_districts"},
		{filepath.Join("data", "a", "b", "Rivers.shp"), "b"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, layerNameFor(root, tt.path), tt.path)
	}
}
