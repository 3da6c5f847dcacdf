// Package normalize converts raw adapter output into canonical features:
// working-CRS geometry, layer-appropriate geometry family, and attributes
// mapped onto the layer's fixed schema.
package normalize

import (
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/sources"
)

// ErrReprojection marks a feature whose geometry cannot be brought into the
// working CRS. It is recovered per feature: the offender is dropped, the
// rest of the layer proceeds.
var ErrReprojection = eris.New("normalize: geometry cannot be reprojected into the working CRS")

// Normalizer maps one layer's raw features onto the canonical model.
type Normalizer struct {
	layer  model.LayerID
	fields []sources.FieldSpec
}

// New creates a Normalizer for a layer using its canonical field mapping.
func New(layer model.LayerID, fields []sources.FieldSpec) *Normalizer {
	return &Normalizer{layer: layer, fields: fields}
}

// Normalize converts raw features in order. Features that fail reprojection,
// carry malformed geometry, or cannot be coerced into the layer's geometry
// family are dropped and surfaced as one aggregate warning.
func (n *Normalizer) Normalize(raw []model.RawFeature) ([]model.CanonicalFeature, []model.Warning) {
	out := make([]model.CanonicalFeature, 0, len(raw))
	var dropped int

	for _, rf := range raw {
		cf, err := n.one(rf)
		if err != nil {
			dropped++
			zap.L().Debug("dropping feature",
				zap.String("layer", string(n.layer)),
				zap.String("source_id", rf.SourceID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, cf)
	}

	var warnings []model.Warning
	if dropped > 0 {
		warnings = append(warnings, model.Warning{
			Kind:    model.WarnDroppedFeatures,
			Message: fmt.Sprintf("%d of %d features dropped during normalization", dropped, len(raw)),
		})
	}
	return out, warnings
}

func (n *Normalizer) one(rf model.RawFeature) (model.CanonicalFeature, error) {
	geom, err := reproject(rf.Geometry, rf.CRS)
	if err != nil {
		return model.CanonicalFeature{}, err
	}

	geom = coerceFamily(geom, n.layer.Family())
	if geom == nil {
		return model.CanonicalFeature{}, eris.Errorf(
			"normalize: geometry does not fit the %s family", n.layer.Family())
	}

	attrs := make(map[string]any, len(n.fields)+1)
	for _, f := range n.fields {
		attrs[f.Name] = mapField(f, rf.Props)
	}
	attrs["source_id"] = rf.SourceID

	return model.CanonicalFeature{
		Layer:    n.layer,
		SourceID: rf.SourceID,
		Geometry: geom,
		Attrs:    attrs,
		Tile:     rf.Tile,
	}, nil
}

// reproject brings a geometry into WGS84 and validates its coordinate
// domain. Only web-mercator input needs an actual transform.
func reproject(g orb.Geometry, crs string) (orb.Geometry, error) {
	if g == nil {
		return nil, eris.Wrap(ErrReprojection, "nil geometry")
	}

	switch crs {
	case model.CRSWGS84, "":
	case model.CRSWebMercator:
		g = project.Geometry(orb.Clone(g), project.Mercator.ToWGS84)
	default:
		return nil, eris.Wrapf(ErrReprojection, "unsupported source CRS %q", crs)
	}

	valid := true
	eachPoint(g, func(p orb.Point) {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) ||
			p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
			valid = false
		}
	})
	if !valid {
		return nil, eris.Wrap(ErrReprojection, "coordinates outside the WGS84 domain")
	}
	return g, nil
}

func eachPoint(g orb.Geometry, fn func(orb.Point)) {
	switch t := g.(type) {
	case orb.Point:
		fn(t)
	case orb.MultiPoint:
		for _, p := range t {
			fn(p)
		}
	case orb.LineString:
		for _, p := range t {
			fn(p)
		}
	case orb.MultiLineString:
		for _, l := range t {
			eachPoint(l, fn)
		}
	case orb.Ring:
		eachPoint(orb.LineString(t), fn)
	case orb.Polygon:
		for _, r := range t {
			eachPoint(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range t {
			eachPoint(p, fn)
		}
	case orb.Collection:
		for _, c := range t {
			eachPoint(c, fn)
		}
	}
}

// coerceFamily reshapes a geometry into the layer's family where a faithful
// conversion exists, or returns nil when none does. Closed ways become
// polygons for polygon layers; point layers take the centroid of areal and
// linear features, which is how amenity ways are conventionally rendered.
func coerceFamily(g orb.Geometry, family model.GeometryFamily) orb.Geometry {
	if family.Matches(g) {
		if r, ok := g.(orb.Ring); ok {
			return orb.Polygon{r}
		}
		return g
	}

	switch family {
	case model.FamilyPolygon:
		switch t := g.(type) {
		case orb.LineString:
			if ring := closedRing(t); ring != nil {
				return orb.Polygon{ring}
			}
		case orb.MultiLineString:
			var mp orb.MultiPolygon
			for _, l := range t {
				if ring := closedRing(l); ring != nil {
					mp = append(mp, orb.Polygon{ring})
				}
			}
			if len(mp) == 1 {
				return mp[0]
			}
			if len(mp) > 1 {
				return mp
			}
		}
	case model.FamilyPoint:
		centroid, _ := planar.CentroidArea(g)
		return centroid
	case model.FamilyLine:
		switch t := g.(type) {
		case orb.Ring:
			return orb.LineString(t)
		case orb.Polygon:
			if len(t) > 0 {
				return orb.LineString(t[0])
			}
		}
	}
	return nil
}

func closedRing(l orb.LineString) orb.Ring {
	if len(l) < 4 || l[0] != l[len(l)-1] {
		return nil
	}
	return orb.Ring(l)
}

// mapField pulls one schema field out of the untyped props, converting to
// the declared type. Missing or unconvertible values take the documented
// default; upstream data is known to be incomplete, so this is not an error.
func mapField(f sources.FieldSpec, props map[string]any) any {
	raw, ok := props[f.From]
	if !ok || raw == nil {
		return defaultFor(f)
	}

	switch f.Type {
	case "float":
		switch v := raw.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
		return defaultFor(f)
	default:
		switch v := raw.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return fmt.Sprintf("%v", v)
		}
	}
}

func defaultFor(f sources.FieldSpec) any {
	if f.Default != nil {
		if f.Type == "float" {
			switch v := f.Default.(type) {
			case float64:
				return v
			case int:
				return float64(v)
			}
		}
		return f.Default
	}
	if f.Type == "float" {
		return float64(0)
	}
	return ""
}
