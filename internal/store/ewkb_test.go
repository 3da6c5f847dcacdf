package store

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

var lineAcross = orb.LineString{{0, 0}, {1, 1}}

func decodeEWKB(t *testing.T, data []byte) srided {
	t.Helper()
	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	return g
}

type srided interface {
	SRID() int
	FlatCoords() []float64
}

func TestEncodeEWKB_Point(t *testing.T) {
	data, err := EncodeEWKB(orb.Point{-0.1278, 51.5074})
	require.NoError(t, err)

	g := decodeEWKB(t, data)
	assert.Equal(t, 4326, g.SRID())
	assert.Equal(t, []float64{-0.1278, 51.5074}, g.FlatCoords())
}

func TestEncodeEWKB_LineString(t *testing.T) {
	data, err := EncodeEWKB(lineAcross)
	require.NoError(t, err)

	g := decodeEWKB(t, data)
	assert.Equal(t, 4326, g.SRID())
	assert.Equal(t, []float64{0, 0, 1, 1}, g.FlatCoords())
}

func TestEncodeEWKB_Polygon(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}

	data, err := EncodeEWKB(poly)
	require.NoError(t, err)

	g := decodeEWKB(t, data)
	assert.Equal(t, 4326, g.SRID())
	assert.Equal(t, []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}, g.FlatCoords())
}

func TestEncodeEWKB_RingBecomesPolygon(t *testing.T) {
	ring := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}

	data, err := EncodeEWKB(ring)
	require.NoError(t, err)

	g := decodeEWKB(t, data)
	assert.Equal(t, 4326, g.SRID())
	assert.Equal(t, []float64{0, 0, 1, 0, 1, 1, 0, 0}, g.FlatCoords())
}

func TestEncodeEWKB_MultiPolygon(t *testing.T) {
	mp := orb.MultiPolygon{
		{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		{{{2, 2}, {3, 2}, {3, 3}, {2, 2}}},
	}

	data, err := EncodeEWKB(mp)
	require.NoError(t, err)

	g := decodeEWKB(t, data)
	assert.Equal(t, 4326, g.SRID())
	assert.Len(t, g.FlatCoords(), 16)
}

func TestEncodeEWKB_Nil(t *testing.T) {
	data, err := EncodeEWKB(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestEncodeEWKB_Unsupported(t *testing.T) {
	_, err := EncodeEWKB(orb.Collection{orb.Point{0, 0}})
	require.Error(t, err)
}
