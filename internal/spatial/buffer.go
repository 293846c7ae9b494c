package spatial

import (
	"math"

	"github.com/paulmach/orb"
)

// DefaultSegments is the number of vertices used to approximate a full circle.
const DefaultSegments = 32

// Buffer approximates the region within d of g as a set of polygons whose
// union is the buffer: a circle per point, a capsule per line segment, and
// the polygon itself for areal geometries. Pieces may overlap.
func Buffer(g orb.Geometry, d float64, segments int) orb.MultiPolygon {
	if g == nil || d <= 0 {
		return nil
	}
	if segments < 8 {
		segments = 8
	}

	p := decompose(g)
	var out orb.MultiPolygon
	out = append(out, p.polygons...)

	for _, pt := range p.standalone {
		out = append(out, circle(pt, d, segments))
	}
	for _, s := range p.segments {
		out = append(out, capsule(s[0], s[1], d, segments))
	}
	return out
}

// BufferAll buffers every geometry and concatenates the pieces.
func BufferAll(geoms []orb.Geometry, d float64, segments int) orb.MultiPolygon {
	var out orb.MultiPolygon
	for _, g := range geoms {
		out = append(out, Buffer(g, d, segments)...)
	}
	return out
}

func circle(c orb.Point, r float64, segments int) orb.Polygon {
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		a := 2 * math.Pi * float64(i) / float64(segments)
		ring = append(ring, orb.Point{c[0] + r*math.Cos(a), c[1] + r*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// capsule is the set of points within r of segment ab, wound counter-clockwise.
func capsule(a, b orb.Point, r float64, segments int) orb.Polygon {
	if a.Equal(b) {
		return circle(a, r, segments)
	}

	theta := math.Atan2(b[1]-a[1], b[0]-a[0])
	half := segments / 2
	ring := make(orb.Ring, 0, 2*(half+1)+1)

	// Half circle around b from the right side of the direction to the left.
	for i := 0; i <= half; i++ {
		ang := theta - math.Pi/2 + math.Pi*float64(i)/float64(half)
		ring = append(ring, orb.Point{b[0] + r*math.Cos(ang), b[1] + r*math.Sin(ang)})
	}
	// Half circle around a from the left side back to the right.
	for i := 0; i <= half; i++ {
		ang := theta + math.Pi/2 + math.Pi*float64(i)/float64(half)
		ring = append(ring, orb.Point{a[0] + r*math.Cos(ang), a[1] + r*math.Sin(ang)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}
