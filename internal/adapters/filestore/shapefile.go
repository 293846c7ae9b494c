package filestore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/jobrunner/vicinus/internal/domain"
)

var errProjected = errors.New("projected coordinate system")

// loadShapefile reads every record of a shapefile into memory.
func loadShapefile(name, path string) (memLayer, error) {
	if err := checkPrj(path); err != nil {
		return memLayer{}, err
	}

	reader, err := shp.Open(path)
	if err != nil {
		return memLayer{}, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	var features []domain.Feature
	for reader.Next() {
		n, shape := reader.Shape()

		props := make(map[string]any, len(fields))
		for i, f := range fields {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			props[names[i]] = attributeValue(f.Fieldtype, f.Precision, val)
		}

		features = append(features, domain.Feature{
			ID:         int64(n),
			Geometry:   shapeGeometry(shape),
			Properties: props,
		})
	}

	return newMemLayer(name, "", path, features)
}

// checkPrj rejects shapefiles whose .prj sidecar declares a projected CRS.
// A missing .prj is accepted; the extent check catches projected data.
func checkPrj(shpPath string) error {
	prj := strings.TrimSuffix(shpPath, ".shp") + ".prj"
	data, err := os.ReadFile(prj) //#nosec G304 -- sidecar of a discovered dataset
	if err != nil {
		return nil //nolint:nilerr // .prj is optional
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("PROJCS")) {
		return fmt.Errorf("%s: %w", prj, errProjected)
	}
	return nil
}

// attributeValue converts a DBF attribute string by field type.
func attributeValue(fieldType byte, precision uint8, val string) any {
	if val == "" {
		return nil
	}
	switch fieldType {
	case 'N', 'F':
		if precision == 0 {
			if i, err := strconv.ParseInt(val, 10, 64); err == nil {
				return i
			}
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	case 'L':
		switch strings.ToUpper(val) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	}
	return val
}

// shapeGeometry converts a shapefile record to an orb geometry.
// Unsupported or empty shapes yield nil.
func shapeGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.MultiPoint:
		mp := make(orb.MultiPoint, 0, len(s.Points))
		for _, p := range s.Points {
			mp = append(mp, orb.Point{p.X, p.Y})
		}
		return mp
	case *shp.PolyLine:
		parts := splitParts(s.Parts, s.Points)
		if len(parts) == 0 {
			return nil
		}
		mls := make(orb.MultiLineString, 0, len(parts))
		for _, p := range parts {
			mls = append(mls, orb.LineString(p))
		}
		if len(mls) == 1 {
			return mls[0]
		}
		return mls
	case *shp.Polygon:
		return ringsToPolygons(splitParts(s.Parts, s.Points))
	default:
		return nil
	}
}

// splitParts slices a point array at the part offsets.
func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	var out [][]orb.Point
	for i := range parts {
		start := int(parts[i])
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if start < 0 || start >= end || end > len(points) {
			continue
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out
}

// ringsToPolygons groups shapefile rings: clockwise rings are outer
// boundaries, counter-clockwise rings are holes of the preceding outer ring.
func ringsToPolygons(rings [][]orb.Point) orb.Geometry {
	var mp orb.MultiPolygon
	for _, pts := range rings {
		ring := orb.Ring(pts)
		if len(ring) < 4 {
			continue
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
			continue
		}
		mp = append(mp, orb.Polygon{ring})
	}
	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	default:
		return mp
	}
}
