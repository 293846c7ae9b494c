package geopackage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/vicinus/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// encodeGeometry builds a GeoPackage geometry blob without an envelope.
func encodeGeometry(t *testing.T, geom orb.Geometry, srid int32) []byte {
	t.Helper()
	body, err := wkb.Marshal(geom, binary.LittleEndian)
	if err != nil {
		t.Fatalf("wkb.Marshal() error = %v", err)
	}
	blob := make([]byte, 8, 8+len(body))
	blob[0], blob[1] = 'G', 'P'
	blob[3] = flagByteOrder
	binary.LittleEndian.PutUint32(blob[4:8], uint32(srid))
	return append(blob, body...)
}

type testRow struct {
	name string
	geom orb.Geometry
}

// createPackage writes a minimal GeoPackage with one feature table.
func createPackage(t *testing.T, path, table, geomType string, srid int32, rows []testRow) {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gpkg_contents (
			table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL, identifier TEXT,
			description TEXT DEFAULT '', min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE, srs_id INTEGER)`,
		`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
			table_name TEXT NOT NULL, column_name TEXT NOT NULL, geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL, z TINYINT NOT NULL, m TINYINT NOT NULL)`,
		`CREATE TABLE "` + table + `" (fid INTEGER PRIMARY KEY AUTOINCREMENT, geom BLOB, name TEXT)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	if _, err := db.Exec(`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, 'features', ?, ?)`,
		table, table, srid); err != nil {
		t.Fatalf("insert contents: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', ?, ?, 0, 0)`,
		table, geomType, srid); err != nil {
		t.Fatalf("insert geometry column: %v", err)
	}

	for _, row := range rows {
		var blob []byte
		if row.geom != nil {
			blob = encodeGeometry(t, row.geom, srid)
		}
		if _, err := db.Exec(`INSERT INTO "`+table+`" (geom, name) VALUES (?, ?)`, blob, row.name); err != nil {
			t.Fatalf("insert row: %v", err)
		}
	}
}

func TestRepositoryReadsLayers(t *testing.T) {
	dir := t.TempDir()
	createPackage(t, filepath.Join(dir, "city.gpkg"), "Schools", "POINT", 4326, []testRow{
		{"Lincoln", orb.Point{-95.36, 29.76}},
		{"Adams", orb.Point{-95.30, 29.70}},
		{"Empty", nil},
	})

	repo := NewRepository(dir, testLogger())
	defer func() { _ = repo.Close() }()

	if err := repo.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	layers, err := repo.ListLayers(context.Background())
	if err != nil {
		t.Fatalf("ListLayers() error = %v", err)
	}
	if len(layers) != 1 {
		t.Fatalf("ListLayers() returned %d layers, want 1", len(layers))
	}
	l := layers[0]
	if l.Name != "schools" || l.Kind != domain.KindPoint || l.FeatureCount != 3 || l.SRID != 4326 {
		t.Errorf("layer = %+v", l)
	}

	features, err := repo.Features(context.Background(), "schools")
	if err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	if len(features) != 3 {
		t.Fatalf("Features() returned %d, want 3", len(features))
	}
	if features[0].GetStringProperty("name") != "Lincoln" || features[1].GetStringProperty("name") != "Adams" {
		t.Errorf("features not in storage order: %v, %v", features[0].Properties, features[1].Properties)
	}
	if p, ok := features[0].Geometry.(orb.Point); !ok || !p.Equal(orb.Point{-95.36, 29.76}) {
		t.Errorf("geometry = %v, want POINT(-95.36 29.76)", features[0].Geometry)
	}
	if features[2].Geometry != nil {
		t.Errorf("NULL geometry should decode to nil, got %v", features[2].Geometry)
	}
	if _, ok := features[0].Properties["fid"]; ok {
		t.Error("fid should not be exposed as a property")
	}
}

func TestRepositorySkipsProjectedLayers(t *testing.T) {
	dir := t.TempDir()
	createPackage(t, filepath.Join(dir, "utm.gpkg"), "parcels", "POLYGON", 25832, nil)

	repo := NewRepository(dir, testLogger())
	defer func() { _ = repo.Close() }()

	if err := repo.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	layers, _ := repo.ListLayers(context.Background())
	if len(layers) != 0 {
		t.Errorf("ListLayers() = %v, want none", layers)
	}
}

func TestRepositoryUnknownLayer(t *testing.T) {
	repo := NewRepository(t.TempDir(), testLogger())

	if err := repo.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := repo.Features(context.Background(), "nothing"); !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("Features() error = %v, want ErrLayerNotFound", err)
	}
}

func TestRepositoryMissingDirectory(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "missing"), testLogger())

	if err := repo.Refresh(context.Background()); err != nil {
		t.Errorf("Refresh() on missing dir error = %v, want nil", err)
	}
}

func TestRepositoryRefreshPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	repo := NewRepository(dir, testLogger())
	defer func() { _ = repo.Close() }()

	if err := repo.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	createPackage(t, filepath.Join(dir, "lines.gpkg"), "pipelines", "LINESTRING", 4326, []testRow{
		{"main", orb.LineString{{-95.4, 29.7}, {-95.3, 29.8}}},
	})
	if err := repo.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	features, err := repo.Features(context.Background(), "pipelines")
	if err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	if _, ok := features[0].Geometry.(orb.LineString); !ok {
		t.Errorf("geometry type = %T, want orb.LineString", features[0].Geometry)
	}
}

func TestFindPackages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.gpkg", "b.GPKG", "c.txt", "sub/d.gpkg"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	got, err := findPackages(dir)
	if err != nil {
		t.Fatalf("findPackages() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("findPackages() = %v, want 3 packages", got)
	}
}
