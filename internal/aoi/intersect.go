package aoi

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Intersects reports whether the geometry intersects the AOI polygon itself,
// not merely its bounding box. Touching the boundary counts as intersecting.
// This is the exact predicate used by the clipper after the tile and query
// fetches have over-covered.
func (a *AOI) Intersects(g orb.Geometry) bool {
	if g == nil {
		return false
	}
	if !a.bound.Intersects(g.Bound()) {
		return false
	}

	switch v := g.(type) {
	case orb.Point:
		return a.ContainsPoint(v)
	case orb.MultiPoint:
		for _, p := range v {
			if a.ContainsPoint(p) {
				return true
			}
		}
		return false
	case orb.LineString:
		return a.intersectsLine(v)
	case orb.MultiLineString:
		for _, ls := range v {
			if a.intersectsLine(ls) {
				return true
			}
		}
		return false
	case orb.Ring:
		return a.intersectsPolygon(orb.Polygon{v})
	case orb.Polygon:
		return a.intersectsPolygon(v)
	case orb.MultiPolygon:
		for _, p := range v {
			if a.intersectsPolygon(p) {
				return true
			}
		}
		return false
	case orb.Bound:
		return a.intersectsPolygon(orb.Polygon{v.ToRing()})
	case orb.Collection:
		for _, m := range v {
			if a.Intersects(m) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (a *AOI) intersectsLine(ls orb.LineString) bool {
	for _, p := range ls {
		if a.ContainsPoint(p) {
			return true
		}
	}
	// No vertex inside: the line may still cross the AOI boundary.
	for i := 0; i+1 < len(ls); i++ {
		if a.segmentCrossesBoundary(ls[i], ls[i+1]) {
			return true
		}
	}
	return false
}

func (a *AOI) intersectsPolygon(poly orb.Polygon) bool {
	if len(poly) == 0 || len(poly[0]) == 0 {
		return false
	}
	outer := poly[0]

	// Any polygon vertex inside the AOI.
	for _, p := range outer {
		if a.ContainsPoint(p) {
			return true
		}
	}
	// Any AOI vertex inside the polygon (AOI fully contained).
	for _, apoly := range a.geom {
		for _, p := range apoly[0] {
			if planar.PolygonContains(poly, p) {
				return true
			}
		}
	}
	// Edge crossings.
	for i := 0; i+1 < len(outer); i++ {
		if a.segmentCrossesBoundary(outer[i], outer[i+1]) {
			return true
		}
	}
	return false
}

func (a *AOI) segmentCrossesBoundary(p1, p2 orb.Point) bool {
	for _, poly := range a.geom {
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				if segmentsIntersect(p1, p2, ring[i], ring[i+1]) {
					return true
				}
			}
		}
	}
	return false
}

// segmentsIntersect reports whether segments p1p2 and q1q2 intersect,
// including collinear overlap and shared endpoints.
func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

// cross returns the z component of (b-a) x (c-a).
func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// onSegment reports whether c lies on the segment ab (collinear and within
// the bounding rectangle).
func onSegment(a, b, c orb.Point) bool {
	if cross(a, b, c) != 0 {
		return false
	}
	return min(a[0], b[0]) <= c[0] && c[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= c[1] && c[1] <= max(a[1], b[1])
}
