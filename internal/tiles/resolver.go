// Package tiles maps AOI bounding boxes onto the quadkey partition grid of
// tiled global datasets.
package tiles

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"
)

// ErrUnsupportedZoom is returned when an AOI spans more tiles at the
// configured zoom than the safety ceiling allows. It is fatal for the tiled
// layer only; the caller surfaces it as a layer warning.
var ErrUnsupportedZoom = eris.New("tiles: bounding box spans too many tiles at the configured zoom")

const (
	// DefaultZoom balances tile count against per-tile payload size for the
	// building-footprint dataset partitions.
	DefaultZoom = 9

	// DefaultMaxTiles caps the fetch fan-out for accidentally huge AOIs.
	DefaultMaxTiles = 256
)

// Resolver converts bounding boxes to covering tile sets at a fixed zoom.
type Resolver struct {
	zoom     maptile.Zoom
	maxTiles int
}

// NewResolver creates a Resolver. Non-positive arguments take the defaults.
func NewResolver(zoom, maxTiles int) *Resolver {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	if maxTiles <= 0 {
		maxTiles = DefaultMaxTiles
	}
	return &Resolver{zoom: maptile.Zoom(zoom), maxTiles: maxTiles}
}

// Zoom returns the fixed zoom level the resolver covers at.
func (r *Resolver) Zoom() int {
	return int(r.zoom)
}

// Cover returns the minimal axis-aligned rectangle of tiles covering the
// bounding box, in row-major order (west→east, then north→south). The cover
// intentionally over-includes tiles whose payload lies partly outside the
// AOI; exact clipping happens downstream.
func (r *Resolver) Cover(b orb.Bound) ([]maptile.Tile, error) {
	if b.IsEmpty() && b.Min != b.Max {
		return nil, eris.New("tiles: empty bounding box")
	}

	// Tile Y grows southward, so the north-west corner carries both minima.
	nw := maptile.At(orb.Point{b.Left(), b.Top()}, r.zoom)
	se := maptile.At(orb.Point{b.Right(), b.Bottom()}, r.zoom)

	cols := int(se.X-nw.X) + 1
	rows := int(se.Y-nw.Y) + 1
	if cols*rows > r.maxTiles {
		return nil, eris.Wrapf(ErrUnsupportedZoom,
			"%d tiles at zoom %d exceeds the ceiling of %d", cols*rows, r.zoom, r.maxTiles)
	}

	cover := make([]maptile.Tile, 0, cols*rows)
	for y := nw.Y; y <= se.Y; y++ {
		for x := nw.X; x <= se.X; x++ {
			cover = append(cover, maptile.New(x, y, r.zoom))
		}
	}
	return cover, nil
}

// Quadkey renders the Bing-style string partition key for a tile: one base-4
// digit per zoom level, most significant first.
func Quadkey(t maptile.Tile) string {
	if t.Z == 0 {
		return ""
	}
	digits := make([]byte, 0, t.Z)
	for i := int(t.Z); i > 0; i-- {
		d := byte('0')
		mask := uint32(1) << (i - 1)
		if t.X&mask != 0 {
			d++
		}
		if t.Y&mask != 0 {
			d += 2
		}
		digits = append(digits, d)
	}
	return string(digits)
}
