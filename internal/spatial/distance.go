// Package spatial implements the planar geometry used by proximity analysis:
// distance between geometries and buffer polygon construction. All
// coordinates are treated as planar lon/lat degrees.
package spatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// parts is a geometry flattened into the pieces distance is computed on.
type parts struct {
	points     []orb.Point
	standalone []orb.Point // Points that are not vertices of a path
	segments   [][2]orb.Point
	polygons []orb.Polygon
}

func decompose(g orb.Geometry) parts {
	var p parts
	p.add(g)
	return p
}

func (p *parts) add(g orb.Geometry) {
	switch geom := g.(type) {
	case orb.Point:
		p.addPoints(geom)
	case orb.MultiPoint:
		p.addPoints(geom...)
	case orb.LineString:
		p.addPath(geom)
	case orb.MultiLineString:
		for _, ls := range geom {
			p.addPath(ls)
		}
	case orb.Ring:
		p.addPath(orb.LineString(geom))
		p.polygons = append(p.polygons, orb.Polygon{geom})
	case orb.Polygon:
		for _, r := range geom {
			p.addPath(orb.LineString(r))
		}
		p.polygons = append(p.polygons, geom)
	case orb.MultiPolygon:
		for _, poly := range geom {
			p.add(poly)
		}
	case orb.Collection:
		for _, c := range geom {
			p.add(c)
		}
	case orb.Bound:
		p.add(geom.ToPolygon())
	}
}

func (p *parts) addPoints(pts ...orb.Point) {
	p.points = append(p.points, pts...)
	p.standalone = append(p.standalone, pts...)
}

func (p *parts) addPath(ls orb.LineString) {
	switch len(ls) {
	case 0:
		return
	case 1:
		p.addPoints(ls[0])
		return
	}
	for i := 0; i+1 < len(ls); i++ {
		p.segments = append(p.segments, [2]orb.Point{ls[i], ls[i+1]})
	}
	// Vertices double as points so point-in-polygon checks see them.
	p.points = append(p.points, ls...)
}

// Distance returns the minimum planar distance between two geometries.
// It is zero when they touch, cross, or one contains the other.
// Empty geometries are infinitely far apart.
func Distance(a, b orb.Geometry) float64 {
	if a == nil || b == nil {
		return math.Inf(1)
	}
	return distance(decompose(a), decompose(b))
}

// WithinDistance reports whether a lies within d of b. Bounds are compared
// first so distant pairs are rejected without walking their vertices.
func WithinDistance(a, b orb.Geometry, d float64) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Bound().Pad(d).Intersects(b.Bound()) {
		return false
	}
	return Distance(a, b) <= d
}

func distance(a, b parts) float64 {
	if len(a.points) == 0 || len(b.points) == 0 {
		return math.Inf(1)
	}
	if containsAny(a.polygons, b.points) || containsAny(b.polygons, a.points) {
		return 0
	}
	for _, sa := range a.segments {
		for _, sb := range b.segments {
			if segmentsIntersect(sa[0], sa[1], sb[0], sb[1]) {
				return 0
			}
		}
	}

	best := math.Inf(1)
	best = math.Min(best, pointsToSegments(a.points, b.segments))
	best = math.Min(best, pointsToSegments(b.points, a.segments))
	if len(a.segments) == 0 || len(b.segments) == 0 {
		for _, pa := range a.points {
			for _, pb := range b.points {
				best = math.Min(best, planar.Distance(pa, pb))
			}
		}
	}
	return best
}

func containsAny(polygons []orb.Polygon, points []orb.Point) bool {
	for _, poly := range polygons {
		for _, pt := range points {
			if planar.PolygonContains(poly, pt) {
				return true
			}
		}
	}
	return false
}

func pointsToSegments(points []orb.Point, segments [][2]orb.Point) float64 {
	best := math.Inf(1)
	for _, pt := range points {
		for _, s := range segments {
			if d := planar.DistanceFromSegment(s[0], s[1], pt); d < best {
				best = d
			}
		}
	}
	return best
}

// segmentsIntersect reports whether segment p1p2 touches or crosses q1q2.
func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// onSegment assumes c is collinear with ab.
func onSegment(a, b, c orb.Point) bool {
	return math.Min(a[0], b[0]) <= c[0] && c[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= c[1] && c[1] <= math.Max(a[1], b[1])
}
