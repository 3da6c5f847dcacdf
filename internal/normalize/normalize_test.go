package normalize

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/sources"
)

func buildingFields() []sources.FieldSpec {
	return []sources.FieldSpec{
		{Name: "height", From: "height", Type: "float", Default: -1},
	}
}

func roadFields() []sources.FieldSpec {
	return []sources.FieldSpec{
		{Name: "name", From: "name", Type: "string"},
		{Name: "highway", From: "highway", Type: "string", Required: true},
	}
}

func square(cx, cy, d float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{cx - d, cy - d}, {cx + d, cy - d}, {cx + d, cy + d}, {cx - d, cy + d}, {cx - d, cy - d},
	}}
}

func TestNormalize_MapsSchemaFields(t *testing.T) {
	n := New(model.LayerBuildingsMS, buildingFields())

	out, warnings := n.Normalize([]model.RawFeature{{
		CRS:      model.CRSWGS84,
		Geometry: square(0.5, 0.5, 0.1),
		Props:    map[string]any{"height": 7.5, "confidence": 0.99},
		Tile:     "021230221",
	}})
	require.Len(t, out, 1)
	assert.Empty(t, warnings)

	f := out[0]
	assert.Equal(t, model.LayerBuildingsMS, f.Layer)
	assert.Equal(t, 7.5, f.Attrs["height"])
	assert.Equal(t, "", f.Attrs["source_id"])
	assert.Equal(t, "021230221", f.Tile)
	// Unknown upstream attributes are dropped.
	assert.NotContains(t, f.Attrs, "confidence")
}

func TestNormalize_MissingFieldTakesDefault(t *testing.T) {
	n := New(model.LayerBuildingsMS, buildingFields())

	out, _ := n.Normalize([]model.RawFeature{{
		CRS:      model.CRSWGS84,
		Geometry: square(0.5, 0.5, 0.1),
		Props:    map[string]any{},
	}})
	require.Len(t, out, 1)
	assert.Equal(t, float64(-1), out[0].Attrs["height"])
}

func TestNormalize_CopiesSourceID(t *testing.T) {
	n := New(model.LayerRoadsOSM, roadFields())

	out, _ := n.Normalize([]model.RawFeature{{
		SourceID: "way/202",
		CRS:      model.CRSWGS84,
		Geometry: orb.LineString{{0, 0}, {1, 1}},
		Props:    map[string]any{"highway": "residential"},
	}})
	require.Len(t, out, 1)
	assert.Equal(t, "way/202", out[0].SourceID)
	assert.Equal(t, "way/202", out[0].Attrs["source_id"])
	assert.Equal(t, "residential", out[0].Attrs["highway"])
	assert.Equal(t, "", out[0].Attrs["name"])
}

func TestNormalize_ReprojectsWebMercator(t *testing.T) {
	n := New(model.LayerAmenitiesOSM, nil)

	// Web-mercator origin maps to (0, 0) in lon/lat.
	out, warnings := n.Normalize([]model.RawFeature{{
		CRS:      model.CRSWebMercator,
		Geometry: orb.Point{0, 0},
	}})
	require.Len(t, out, 1)
	assert.Empty(t, warnings)

	p, ok := out[0].Geometry.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, 0, p[0], 1e-9)
	assert.InDelta(t, 0, p[1], 1e-9)
}

func TestNormalize_DropsOutOfDomainCoordinates(t *testing.T) {
	n := New(model.LayerAmenitiesOSM, nil)

	out, warnings := n.Normalize([]model.RawFeature{
		{CRS: model.CRSWGS84, Geometry: orb.Point{200, 10}},
		{CRS: model.CRSWGS84, Geometry: orb.Point{10, math.NaN()}},
		{CRS: model.CRSWGS84, Geometry: orb.Point{10, 10}},
	})
	require.Len(t, out, 1)
	assert.Equal(t, orb.Point{10, 10}, out[0].Geometry)

	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnDroppedFeatures, warnings[0].Kind)
	assert.Contains(t, warnings[0].Message, "2 of 3")
}

func TestNormalize_UnsupportedCRSDropsFeature(t *testing.T) {
	n := New(model.LayerAmenitiesOSM, nil)

	out, warnings := n.Normalize([]model.RawFeature{{
		CRS:      "EPSG:27700",
		Geometry: orb.Point{400000, 100000},
	}})
	assert.Empty(t, out)
	require.Len(t, warnings, 1)
}

func TestNormalize_ClosedWayBecomesPolygon(t *testing.T) {
	n := New(model.LayerBuildingsOSM, nil)

	closed := orb.LineString{{0, 0}, {1, 0}, {1, 1}, {0, 0}}
	out, _ := n.Normalize([]model.RawFeature{{
		SourceID: "way/1",
		CRS:      model.CRSWGS84,
		Geometry: closed,
	}})
	require.Len(t, out, 1)
	_, isPoly := out[0].Geometry.(orb.Polygon)
	assert.True(t, isPoly, "closed way should coerce to polygon, got %T", out[0].Geometry)
}

func TestNormalize_OpenWayDroppedFromPolygonLayer(t *testing.T) {
	n := New(model.LayerBuildingsOSM, nil)

	open := orb.LineString{{0, 0}, {1, 0}, {1, 1}}
	out, warnings := n.Normalize([]model.RawFeature{{
		CRS:      model.CRSWGS84,
		Geometry: open,
	}})
	assert.Empty(t, out)
	assert.Len(t, warnings, 1)
}

func TestNormalize_ArealAmenityBecomesCentroidPoint(t *testing.T) {
	n := New(model.LayerAmenitiesOSM, nil)

	out, _ := n.Normalize([]model.RawFeature{{
		SourceID: "way/9",
		CRS:      model.CRSWGS84,
		Geometry: square(2, 3, 1),
	}})
	require.Len(t, out, 1)

	p, ok := out[0].Geometry.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, 2, p[0], 1e-9)
	assert.InDelta(t, 3, p[1], 1e-9)
}

func TestNormalize_PolygonRingBecomesLineForLineLayer(t *testing.T) {
	n := New(model.LayerWaterwaysOSM, nil)

	out, _ := n.Normalize([]model.RawFeature{{
		CRS:      model.CRSWGS84,
		Geometry: square(0, 0, 1),
	}})
	require.Len(t, out, 1)
	_, isLine := out[0].Geometry.(orb.LineString)
	assert.True(t, isLine)
}

func TestNormalize_PreservesRetrievalOrder(t *testing.T) {
	n := New(model.LayerAmenitiesOSM, nil)

	raw := []model.RawFeature{
		{SourceID: "node/1", CRS: model.CRSWGS84, Geometry: orb.Point{1, 1}},
		{SourceID: "node/2", CRS: model.CRSWGS84, Geometry: orb.Point{2, 2}},
		{SourceID: "node/3", CRS: model.CRSWGS84, Geometry: orb.Point{3, 3}},
	}
	out, _ := n.Normalize(raw)
	require.Len(t, out, 3)
	for i, f := range out {
		assert.Equal(t, raw[i].SourceID, f.SourceID)
	}
}
