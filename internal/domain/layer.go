package domain

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// GeometryKind is the coarse geometry class of a layer.
type GeometryKind string

// Geometry kinds.
const (
	KindPoint   GeometryKind = "point"
	KindLine    GeometryKind = "line"
	KindPolygon GeometryKind = "polygon"
)

// ParseGeometryKind maps a geometry type name (OGC, GeoJSON or shapefile
// spelling, any case, with or without a Multi prefix) to its kind.
func ParseGeometryKind(typeName string) (GeometryKind, bool) {
	t := strings.ToUpper(strings.TrimSpace(typeName))
	t = strings.TrimPrefix(t, "MULTI")
	switch t {
	case "POINT":
		return KindPoint, true
	case "LINESTRING", "LINE", "POLYLINE":
		return KindLine, true
	case "POLYGON", "SURFACE":
		return KindPolygon, true
	default:
		return "", false
	}
}

// WGS84 is the only SRID admitted into the catalog.
const WGS84 = 4326

// Layer is a catalog entry describing a named feature collection.
type Layer struct {
	Name         string       `json:"name"`
	Kind         GeometryKind `json:"geometry_type"`
	FeatureCount int64        `json:"feature_count"`
	SRID         int          `json:"srid"`
	Description  string       `json:"description,omitempty"`
	Source       string       `json:"-"` // File backing the layer
}

// Summary renders the layer the way it is presented to the oracle.
func (l Layer) Summary() string {
	s := fmt.Sprintf("%s (%s layer, %d features)", l.Name, l.Kind, l.FeatureCount)
	if l.Description != "" {
		s += ": " + l.Description
	}
	return s
}

// NormalizeLayerName turns a folder or file name into a layer name:
// lower-cased, with spaces and hyphens replaced by underscores.
func NormalizeLayerName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, s)
}

// DefaultDescription derives a description from a layer name,
// e.g. "school_districts" -> "School Districts dataset".
func DefaultDescription(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' })
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return "dataset"
	}
	return strings.Join(words, " ") + " dataset"
}

// Catalog is an immutable set of layers with case-insensitive lookup.
type Catalog struct {
	layers []Layer
	index  map[string]int
}

// NewCatalog builds a catalog. Names must be unique ignoring case.
func NewCatalog(layers []Layer) (*Catalog, error) {
	sorted := make([]Layer, len(layers))
	copy(sorted, layers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	c := &Catalog{
		layers: sorted,
		index:  make(map[string]int, len(sorted)),
	}
	for i, l := range sorted {
		key := catalogKey(l.Name)
		if key == "" {
			return nil, fmt.Errorf("empty layer name from %s: %w", l.Source, ErrInvalidInput)
		}
		if _, exists := c.index[key]; exists {
			return nil, fmt.Errorf("%q: %w", l.Name, ErrDuplicateLayer)
		}
		c.index[key] = i
	}
	return c, nil
}

// List returns the catalog entries sorted by name.
func (c *Catalog) List() []Layer {
	if c == nil {
		return nil
	}
	out := make([]Layer, len(c.layers))
	copy(out, c.layers)
	return out
}

// Len returns the number of layers.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.layers)
}

// Resolve looks a layer up by name, ignoring case and surrounding whitespace.
func (c *Catalog) Resolve(name string) (Layer, error) {
	if c != nil {
		if i, ok := c.index[catalogKey(name)]; ok {
			return c.layers[i], nil
		}
	}
	return Layer{}, fmt.Errorf("%q: %w", name, ErrLayerNotFound)
}

// Names returns the layer names sorted.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.layers))
	for i, l := range c.layers {
		names[i] = l.Name
	}
	return names
}

func catalogKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
