package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature represents a geo feature with geometry and properties.
// Coordinates are lon/lat in WGS84.
type Feature struct {
	ID         int64          // Feature ID (fid or record number)
	LayerName  string         // Associated layer name
	Geometry   orb.Geometry   // Geometry data
	Properties map[string]any // Attribute data
}

// GetProperty returns a property value by key.
func (f *Feature) GetProperty(key string) (any, bool) {
	if f.Properties == nil {
		return nil, false
	}
	v, ok := f.Properties[key]
	return v, ok
}

// GetStringProperty returns a property as string.
func (f *Feature) GetStringProperty(key string) string {
	if v, ok := f.GetProperty(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Kind returns the geometry kind of the feature.
func (f *Feature) Kind() (GeometryKind, bool) {
	if f.Geometry == nil {
		return "", false
	}
	return ParseGeometryKind(f.Geometry.GeoJSONType())
}

// GeoJSON converts the feature into a GeoJSON feature carrying its
// properties plus the owning layer name.
func (f *Feature) GeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(f.Geometry)
	gf.ID = f.ID
	for k, v := range f.Properties {
		gf.Properties[k] = v
	}
	gf.Properties["layer"] = f.LayerName
	return gf
}

// ScalarProperty coerces a raw attribute value into one of the scalar types
// carried by features (string, int64, float64, bool or nil).
func ScalarProperty(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return nil
	}
}
