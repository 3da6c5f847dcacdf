// Package model defines the domain types shared across the extraction
// pipeline: raw and canonical features, layers, warnings, and run records.
package model

import (
	"github.com/paulmach/orb"
)

// Coordinate reference systems a source adapter may emit geometries in.
// The pipeline's working CRS is always WGS84 lon/lat.
const (
	CRSWGS84       = "EPSG:4326"
	CRSWebMercator = "EPSG:3857"
)

// LayerID identifies one extractable data layer. The set is fixed; adapters
// are registered per layer.
type LayerID string

const (
	LayerBuildingsMS  LayerID = "buildings_ms"
	LayerRoadsOSM     LayerID = "roads_osm"
	LayerBuildingsOSM LayerID = "buildings_osm"
	LayerWaterwaysOSM LayerID = "waterways_osm"
	LayerParksOSM     LayerID = "parks_osm"
	LayerAmenitiesOSM LayerID = "amenities_osm"
	LayerCountriesNE  LayerID = "countries_ne"
)

// AllLayers returns every registered layer identifier in a stable order.
func AllLayers() []LayerID {
	return []LayerID{
		LayerBuildingsMS,
		LayerRoadsOSM,
		LayerBuildingsOSM,
		LayerWaterwaysOSM,
		LayerParksOSM,
		LayerAmenitiesOSM,
		LayerCountriesNE,
	}
}

// Valid reports whether id is one of the registered layers.
func (id LayerID) Valid() bool {
	for _, l := range AllLayers() {
		if l == id {
			return true
		}
	}
	return false
}

// GeometryFamily is the geometry class a layer's features must belong to.
type GeometryFamily string

const (
	FamilyPolygon GeometryFamily = "polygon"
	FamilyLine    GeometryFamily = "line"
	FamilyPoint   GeometryFamily = "point"
)

// Family returns the expected geometry family for the layer.
func (id LayerID) Family() GeometryFamily {
	switch id {
	case LayerRoadsOSM, LayerWaterwaysOSM:
		return FamilyLine
	case LayerAmenitiesOSM:
		return FamilyPoint
	default:
		return FamilyPolygon
	}
}

// Matches reports whether a geometry belongs to the family. Multi-variants
// count as members of their base family.
func (f GeometryFamily) Matches(g orb.Geometry) bool {
	if g == nil {
		return false
	}
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		return f == FamilyPolygon
	case orb.LineString, orb.MultiLineString:
		return f == FamilyLine
	case orb.Point, orb.MultiPoint:
		return f == FamilyPoint
	default:
		return false
	}
}

// RawFeature is a geometry in source-native CRS plus the source's untyped
// attributes, as emitted by a source adapter. It is consumed and discarded
// by the normalizer.
type RawFeature struct {
	// SourceID is the source-provided stable identifier, empty when the
	// source has none (the dedup key then falls back to a geometry hash).
	SourceID string

	// CRS names the coordinate reference system of Geometry.
	CRS string

	Geometry orb.Geometry

	// Props is the untyped attribute mapping from the source payload.
	Props map[string]any

	// Tile is the origin partition quadkey for tiled sources, empty otherwise.
	Tile string
}

// CanonicalFeature is a feature in the working CRS with attributes mapped
// onto the layer's canonical schema.
type CanonicalFeature struct {
	Layer    LayerID
	SourceID string
	Geometry orb.Geometry
	Attrs    map[string]any
	Tile     string
}
