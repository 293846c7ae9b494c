// Package geopackage provides a FeatureStore over GeoPackage files.
package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/paulmach/orb"

	"github.com/jobrunner/vicinus/internal/domain"
)

// layerRef locates a feature table inside an open GeoPackage.
type layerRef struct {
	layer          domain.Layer
	table          string
	geometryColumn string
	db             *sql.DB
}

// Repository implements the FeatureStore port for every *.gpkg file below a
// directory. Each feature table becomes one layer.
type Repository struct {
	mu          sync.RWMutex
	dir         string
	connections map[string]*sql.DB // path -> connection
	layers      map[string]layerRef
	logger      *slog.Logger
}

// NewRepository creates a GeoPackage repository rooted at dir.
func NewRepository(dir string, logger *slog.Logger) *Repository {
	return &Repository{
		dir:         dir,
		connections: make(map[string]*sql.DB),
		layers:      make(map[string]layerRef),
		logger:      logger,
	}
}

// Name implements FeatureStore.
func (r *Repository) Name() string {
	return "geopackage"
}

// Refresh reopens every GeoPackage below the directory and rebuilds the
// layer table. Connections from the previous scan are closed afterwards.
func (r *Repository) Refresh(ctx context.Context) error {
	paths, err := findPackages(r.dir)
	if err != nil {
		return &domain.StorageError{Operation: "scan", Key: r.dir, Err: err}
	}

	connections := make(map[string]*sql.DB, len(paths))
	layers := make(map[string]layerRef)
	for _, path := range paths {
		db, err := openDB(ctx, path)
		if err != nil {
			r.logger.Error("failed to open geopackage", "path", path, "error", err)
			continue
		}
		refs, err := readLayers(ctx, db, path)
		if err != nil {
			r.logger.Error("failed to read geopackage layers", "path", path, "error", err)
			_ = db.Close()
			continue
		}
		connections[path] = db
		for _, ref := range refs {
			if err := checkLayer(ref); err != nil {
				r.logger.Warn("skipping geopackage layer", "path", path, "table", ref.table, "error", err)
				continue
			}
			if existing, dup := layers[ref.layer.Name]; dup {
				r.logger.Warn("duplicate layer name, keeping first",
					"layer", ref.layer.Name, "kept", existing.layer.Source, "skipped", path)
				continue
			}
			layers[ref.layer.Name] = ref
		}
	}

	r.mu.Lock()
	old := r.connections
	r.connections = connections
	r.layers = layers
	r.mu.Unlock()

	for path, db := range old {
		if err := db.Close(); err != nil {
			r.logger.Warn("failed to close geopackage", "path", path, "error", err)
		}
	}

	r.logger.Info("geopackages scanned", "dir", r.dir, "packages", len(connections), "layers", len(layers))
	return nil
}

// ListLayers implements FeatureStore.
func (r *Repository) ListLayers(_ context.Context) ([]domain.Layer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Layer, 0, len(r.layers))
	for _, ref := range r.layers {
		out = append(out, ref.layer)
	}
	return out, nil
}

// Features implements FeatureStore. Rows are returned in rowid order.
func (r *Repository) Features(ctx context.Context, layer string) ([]domain.Feature, error) {
	r.mu.RLock()
	ref, ok := r.layers[layer]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%q: %w", layer, domain.ErrLayerNotFound)
	}

	features, err := readFeatures(ctx, ref)
	if err != nil {
		return nil, &domain.QueryError{Source: ref.layer.Source, Layer: layer, Err: err}
	}
	return features, nil
}

// Close closes all GeoPackage connections.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for path, db := range r.connections {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", path, err)
		}
	}
	r.connections = make(map[string]*sql.DB)
	r.layers = make(map[string]layerRef)
	return firstErr
}

// findPackages returns every *.gpkg file below dir in lexical order.
func findPackages(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".gpkg") {
			paths = append(paths, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return paths, err
}

// openDB opens a GeoPackage read-only.
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// readLayers reads feature tables from gpkg_contents.
func readLayers(ctx context.Context, db *sql.DB, path string) ([]layerRef, error) {
	query := `
		SELECT
			c.table_name,
			COALESCE(c.description, ''),
			g.column_name,
			g.geometry_type_name,
			g.srs_id,
			c.min_x, c.min_y, c.max_x, c.max_y
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []layerRef
	for rows.Next() {
		var (
			ref                    layerRef
			geomType               string
			minX, minY, maxX, maxY sql.NullFloat64
		)
		err := rows.Scan(
			&ref.table, &ref.layer.Description, &ref.geometryColumn,
			&geomType, &ref.layer.SRID,
			&minX, &minY, &maxX, &maxY,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}

		ref.layer.Kind, _ = domain.ParseGeometryKind(geomType)
		ref.layer.Name = domain.NormalizeLayerName(ref.table)
		ref.layer.Source = path
		ref.db = db

		if minX.Valid && minY.Valid && maxX.Valid && maxY.Valid {
			if err := domain.CheckWGS84Extent(orb.Bound{
				Min: orb.Point{minX.Float64, minY.Float64},
				Max: orb.Point{maxX.Float64, maxY.Float64},
			}); err != nil && ref.layer.SRID == domain.WGS84 {
				ref.layer.SRID = 0 // declared WGS84 but extent says otherwise
			}
		}

		countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, ref.table) //#nosec G201 -- table name from trusted database source
		if err := db.QueryRowContext(ctx, countQuery).Scan(&ref.layer.FeatureCount); err != nil {
			return nil, fmt.Errorf("counting %s: %w", ref.table, err)
		}

		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

// checkLayer rejects layers the analysis cannot use.
func checkLayer(ref layerRef) error {
	if ref.layer.Kind == "" {
		return fmt.Errorf("geometry type of %s: %w", ref.table, domain.ErrUnsupported)
	}
	if ref.layer.SRID != domain.WGS84 {
		return fmt.Errorf("layer %s uses srs %d: %w", ref.table, ref.layer.SRID, domain.ErrUnsupportedSRID)
	}
	return nil
}

// readFeatures loads every row of a feature table.
func readFeatures(ctx context.Context, ref layerRef) ([]domain.Feature, error) {
	query := fmt.Sprintf(`SELECT rowid AS "__rowid", * FROM "%s" ORDER BY rowid`, ref.table) //#nosec G201 -- table name from trusted database source

	rows, err := ref.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var features []domain.Feature
	for rows.Next() {
		feature, err := scanFeature(rows, columns, ref)
		if err != nil {
			return nil, err
		}
		features = append(features, feature)
	}

	return features, rows.Err()
}

// scanFeature scans a row into a Feature.
func scanFeature(rows *sql.Rows, columns []string, ref layerRef) (domain.Feature, error) {
	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return domain.Feature{}, err
	}

	feature := domain.Feature{
		LayerName:  ref.layer.Name,
		Properties: make(map[string]any),
	}

	for i, col := range columns {
		switch col {
		case "__rowid":
			if v, ok := values[i].(int64); ok {
				feature.ID = v
			}
		case "fid":
			// Primary key, same value as rowid.
		case ref.geometryColumn:
			blob, ok := values[i].([]byte)
			if !ok || len(blob) == 0 {
				continue
			}
			geom, _, err := decodeGeometry(blob)
			if err != nil {
				return domain.Feature{}, fmt.Errorf("feature %d: %w", feature.ID, err)
			}
			feature.Geometry = geom
		default:
			feature.Properties[col] = scalar(values[i])
		}
	}

	return feature, nil
}

func scalar(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return domain.ScalarProperty(v)
}
