package model

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func poly(points ...orb.Point) orb.Polygon {
	return orb.Polygon{orb.Ring(points)}
}

func TestDedupKey_SourceIDWins(t *testing.T) {
	a := CanonicalFeature{Layer: LayerRoadsOSM, SourceID: "way/42", Geometry: orb.LineString{{0, 0}, {1, 1}}}
	b := CanonicalFeature{Layer: LayerRoadsOSM, SourceID: "way/42", Geometry: orb.LineString{{5, 5}, {6, 6}}}
	assert.Equal(t, a.DedupKey(), b.DedupKey())

	c := CanonicalFeature{Layer: LayerRoadsOSM, SourceID: "way/43", Geometry: a.Geometry}
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestDedupKey_LayerScoped(t *testing.T) {
	a := CanonicalFeature{Layer: LayerRoadsOSM, SourceID: "way/42"}
	b := CanonicalFeature{Layer: LayerWaterwaysOSM, SourceID: "way/42"}
	assert.NotEqual(t, a.DedupKey(), b.DedupKey())
}

func TestDedupKey_GeometryFallback(t *testing.T) {
	g := poly(orb.Point{0, 0}, orb.Point{1, 0}, orb.Point{1, 1}, orb.Point{0, 0})

	a := CanonicalFeature{Layer: LayerBuildingsMS, Geometry: g}
	b := CanonicalFeature{Layer: LayerBuildingsMS, Geometry: g.Clone()}
	assert.Equal(t, a.DedupKey(), b.DedupKey())
}

func TestGeometryHash_ToleratesFloatDrift(t *testing.T) {
	// Duplicates of a feature decoded from adjacent tiles differ in the
	// last few float digits; the quantized hash must not.
	g1 := poly(orb.Point{46.6753, 24.7136}, orb.Point{46.6754, 24.7136}, orb.Point{46.6754, 24.7137}, orb.Point{46.6753, 24.7136})
	g2 := poly(
		orb.Point{46.6753 + 1e-9, 24.7136 - 1e-9},
		orb.Point{46.6754, 24.7136 + 1e-9},
		orb.Point{46.6754 - 1e-9, 24.7137},
		orb.Point{46.6753, 24.7136},
	)
	assert.Equal(t, GeometryHash(g1), GeometryHash(g2))
}

func TestGeometryHash_DistinguishesGeometries(t *testing.T) {
	g1 := poly(orb.Point{0, 0}, orb.Point{1, 0}, orb.Point{1, 1}, orb.Point{0, 0})
	g2 := poly(orb.Point{0, 0}, orb.Point{2, 0}, orb.Point{2, 2}, orb.Point{0, 0})
	assert.NotEqual(t, GeometryHash(g1), GeometryHash(g2))

	// Same coordinates, different type.
	ls := orb.LineString{{0, 0}, {1, 0}, {1, 1}, {0, 0}}
	assert.NotEqual(t, GeometryHash(g1), GeometryHash(ls))
}

func TestFamilyMatches(t *testing.T) {
	assert.True(t, FamilyPolygon.Matches(orb.Polygon{}))
	assert.True(t, FamilyPolygon.Matches(orb.MultiPolygon{}))
	assert.True(t, FamilyLine.Matches(orb.LineString{}))
	assert.True(t, FamilyPoint.Matches(orb.Point{}))
	assert.False(t, FamilyPolygon.Matches(orb.LineString{}))
	assert.False(t, FamilyLine.Matches(nil))
}

func TestLayerFamilies(t *testing.T) {
	assert.Equal(t, FamilyPolygon, LayerBuildingsMS.Family())
	assert.Equal(t, FamilyPolygon, LayerCountriesNE.Family())
	assert.Equal(t, FamilyLine, LayerRoadsOSM.Family())
	assert.Equal(t, FamilyLine, LayerWaterwaysOSM.Family())
	assert.Equal(t, FamilyPoint, LayerAmenitiesOSM.Family())
}
