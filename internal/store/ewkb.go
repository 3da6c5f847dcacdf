package store

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

const srid = 4326

// EncodeEWKB converts an orb geometry to EWKB bytes with SRID 4326, the
// form PostGIS geometry columns ingest directly.
func EncodeEWKB(g orb.Geometry) ([]byte, error) {
	if g == nil {
		return nil, nil
	}

	converted := toGeom(g)
	if converted == nil {
		return nil, eris.Errorf("store: unsupported geometry type %T", g)
	}

	data, err := ewkb.Marshal(converted, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode EWKB")
	}
	return data, nil
}

func toGeom(g orb.Geometry) geom.T {
	switch t := g.(type) {
	case orb.Point:
		return geom.NewPointFlat(geom.XY, []float64{t[0], t[1]}).SetSRID(srid)

	case orb.MultiPoint:
		return geom.NewMultiPointFlat(geom.XY, flatPoints(t)).SetSRID(srid)

	case orb.LineString:
		return geom.NewLineStringFlat(geom.XY, flatPoints(orb.MultiPoint(t))).SetSRID(srid)

	case orb.MultiLineString:
		mls := geom.NewMultiLineString(geom.XY).SetSRID(srid)
		for _, l := range t {
			ls := geom.NewLineStringFlat(geom.XY, flatPoints(orb.MultiPoint(l)))
			if err := mls.Push(ls); err != nil {
				return nil
			}
		}
		return mls

	case orb.Ring:
		return toGeom(orb.Polygon{t})

	case orb.Polygon:
		return polygonToGeom(t).SetSRID(srid)

	case orb.MultiPolygon:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
		for _, p := range t {
			if err := mp.Push(polygonToGeom(p)); err != nil {
				return nil
			}
		}
		return mp

	default:
		return nil
	}
}

func polygonToGeom(p orb.Polygon) *geom.Polygon {
	poly := geom.NewPolygon(geom.XY)
	for _, r := range p {
		ring := geom.NewLinearRingFlat(geom.XY, flatPoints(orb.MultiPoint(r)))
		if err := poly.Push(ring); err != nil {
			continue
		}
	}
	return poly
}

func flatPoints(pts orb.MultiPoint) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p[0], p[1])
	}
	return flat
}
