package model

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
)

// coordQuantum is the coordinate quantization step used by the geometry-hash
// fallback: 1e-7 degrees is roughly a centimeter at the equator, well below
// any real feature displacement but above the float drift observed between
// duplicate copies of a feature emitted by adjacent tiles.
const coordQuantum = 1e-7

// DedupKey derives the identity used to collapse features fetched more than
// once from overlapping partitions. A source-provided id wins; otherwise the
// key is a tolerance-quantized hash of the geometry.
func (f CanonicalFeature) DedupKey() string {
	if f.SourceID != "" {
		return string(f.Layer) + ":" + f.SourceID
	}
	return fmt.Sprintf("%s:g:%016x", f.Layer, GeometryHash(f.Geometry))
}

// GeometryHash computes a 64-bit hash over a geometry's type tag and its
// quantized coordinate stream.
func GeometryHash(g orb.Geometry) uint64 {
	d := xxhash.New()
	if g == nil {
		return d.Sum64()
	}
	_, _ = d.WriteString(g.GeoJSONType())

	var buf [8]byte
	eachCoord(g, func(p orb.Point) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(math.Round(p[0]/coordQuantum))))
		_, _ = d.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(math.Round(p[1]/coordQuantum))))
		_, _ = d.Write(buf[:])
	})
	return d.Sum64()
}

func eachCoord(g orb.Geometry, fn func(orb.Point)) {
	switch v := g.(type) {
	case orb.Point:
		fn(v)
	case orb.MultiPoint:
		for _, p := range v {
			fn(p)
		}
	case orb.LineString:
		for _, p := range v {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range v {
			eachCoord(ls, fn)
		}
	case orb.Ring:
		for _, p := range v {
			fn(p)
		}
	case orb.Polygon:
		for _, r := range v {
			eachCoord(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			eachCoord(p, fn)
		}
	case orb.Collection:
		for _, m := range v {
			eachCoord(m, fn)
		}
	case orb.Bound:
		eachCoord(v.ToRing(), fn)
	}
}
