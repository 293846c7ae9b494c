// Package domain contains the core business entities and value objects.
package domain

import (
	"github.com/paulmach/orb"
)

// CheckWGS84Extent verifies that a layer extent fits in lon/lat degrees.
// Layers declared as EPSG:4326 but stored in a projected CRS fail here.
func CheckWGS84Extent(b orb.Bound) error {
	if b.Min[0] < -180 || b.Max[0] > 180 {
		return &ValidationError{
			Field:      "longitude",
			Value:      [2]float64{b.Min[0], b.Max[0]},
			Constraint: "[-180, 180]",
			Message:    "longitude must be between -180 and 180",
		}
	}
	if b.Min[1] < -90 || b.Max[1] > 90 {
		return &ValidationError{
			Field:      "latitude",
			Value:      [2]float64{b.Min[1], b.Max[1]},
			Constraint: "[-90, 90]",
			Message:    "latitude must be between -90 and 90",
		}
	}
	return nil
}

// ExtentOf returns the combined bound of the features' geometries and
// whether any geometry was present.
func ExtentOf(features []Feature) (orb.Bound, bool) {
	var (
		b     orb.Bound
		found bool
	)
	for i := range features {
		if features[i].Geometry == nil {
			continue
		}
		fb := features[i].Geometry.Bound()
		if !found {
			b, found = fb, true
			continue
		}
		b = b.Union(fb)
	}
	return b, found
}
