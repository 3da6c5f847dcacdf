// Package aoi models the user-defined area of interest bounding a retrieval
// session. An AOI is validated at construction and immutable afterwards.
package aoi

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
)

// ErrInvalidGeometry is returned when an AOI ring is degenerate,
// self-intersecting, or has fewer than three distinct vertices.
var ErrInvalidGeometry = eris.New("aoi: invalid geometry")

// AOI is one polygon or multipolygon in WGS84 lon/lat with its derived
// bounding box.
type AOI struct {
	geom  orb.MultiPolygon
	bound orb.Bound
}

// New builds an AOI from a single exterior ring. The ring is closed if the
// input leaves it open.
func New(ring []orb.Point) (*AOI, error) {
	r := orb.Ring(ring)
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(orb.Ring{}, r...)
		r = append(r, r[0])
	}
	return NewMulti(orb.MultiPolygon{orb.Polygon{r}})
}

// NewMulti builds an AOI from a multipolygon. Every exterior ring is
// validated; holes are carried through untouched.
func NewMulti(mp orb.MultiPolygon) (*AOI, error) {
	if len(mp) == 0 {
		return nil, eris.Wrap(ErrInvalidGeometry, "empty multipolygon")
	}
	for _, p := range mp {
		if len(p) == 0 {
			return nil, eris.Wrap(ErrInvalidGeometry, "polygon without rings")
		}
		if err := validateRing(p[0]); err != nil {
			return nil, err
		}
	}
	a := &AOI{geom: mp.Clone()}
	a.bound = a.geom.Bound()
	return a, nil
}

// FromGeoJSON builds an AOI from a GeoJSON geometry, Feature, or
// FeatureCollection containing a single Polygon or MultiPolygon.
func FromGeoJSON(data []byte) (*AOI, error) {
	g, err := decodeGeoJSONGeometry(data)
	if err != nil {
		return nil, err
	}
	switch v := g.(type) {
	case orb.Polygon:
		return NewMulti(orb.MultiPolygon{v})
	case orb.MultiPolygon:
		return NewMulti(v)
	default:
		return nil, eris.Wrapf(ErrInvalidGeometry, "unsupported AOI geometry type %s", g.GeoJSONType())
	}
}

func decodeGeoJSONGeometry(data []byte) (orb.Geometry, error) {
	// Peek at the type tag to decide how to decode.
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "aoi: parse geojson")
	}

	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, eris.Wrap(err, "aoi: parse geojson feature")
		}
		return f.Geometry, nil
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, eris.Wrap(err, "aoi: parse geojson feature collection")
		}
		if len(fc.Features) != 1 {
			return nil, eris.Wrapf(ErrInvalidGeometry, "expected exactly one AOI feature, got %d", len(fc.Features))
		}
		return fc.Features[0].Geometry, nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, eris.Wrap(err, "aoi: parse geojson geometry")
		}
		return g.Geometry(), nil
	}
}

// validateRing rejects rings with fewer than three distinct vertices, zero
// area, or self-intersections.
func validateRing(r orb.Ring) error {
	distinct := map[orb.Point]struct{}{}
	for _, p := range r {
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return eris.Wrap(ErrInvalidGeometry, "ring has fewer than 3 distinct vertices")
	}
	if planar.Area(r) == 0 {
		return eris.Wrap(ErrInvalidGeometry, "ring has zero area")
	}
	if ringSelfIntersects(r) {
		return eris.Wrap(ErrInvalidGeometry, "ring is self-intersecting")
	}
	return nil
}

// ringSelfIntersects tests every non-adjacent segment pair of the ring.
// AOIs are small (user-drawn), so the quadratic scan is fine.
func ringSelfIntersects(r orb.Ring) bool {
	n := len(r) - 1 // closed ring: last vertex repeats the first
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// Skip adjacent segments (they share an endpoint).
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(r[i], r[i+1], r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}

// Bound returns the axis-aligned bounding box (minLon, minLat, maxLon, maxLat).
func (a *AOI) Bound() orb.Bound {
	return a.bound
}

// MultiPolygon returns a copy of the AOI geometry.
func (a *AOI) MultiPolygon() orb.MultiPolygon {
	return a.geom.Clone()
}

// ApproxAreaKm2 estimates the AOI area from its bounding box with the
// 1 degree ~ 111 km approximation, as reported in run summaries.
func (a *AOI) ApproxAreaKm2() float64 {
	b := a.bound
	return (b.Right() - b.Left()) * (b.Top() - b.Bottom()) * 111 * 111
}

// ContainsPoint reports whether the point lies inside the AOI or on its
// boundary.
func (a *AOI) ContainsPoint(p orb.Point) bool {
	if !a.bound.Contains(p) {
		return false
	}
	if planar.MultiPolygonContains(a.geom, p) {
		return true
	}
	return a.onBoundary(p)
}

func (a *AOI) onBoundary(p orb.Point) bool {
	for _, poly := range a.geom {
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				if onSegment(ring[i], ring[i+1], p) {
					return true
				}
			}
		}
	}
	return false
}
