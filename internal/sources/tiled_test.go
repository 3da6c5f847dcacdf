package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/fetcher"
	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/resilience"
	"github.com/atlas-group/aoi-extract/internal/tiles"
)

func fastRetry() resilience.Policy {
	return resilience.Policy{
		Attempts:  2,
		BaseDelay: 1 * time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		Growth:    2.0,
	}
}

// smallAOI returns an AOI strictly inside the zoom-9 tile containing (10,50).
func smallAOI(t *testing.T) (*aoi.AOI, string) {
	t.Helper()
	tile := maptile.At(orb.Point{10, 50}, 9)
	b := tile.Bound()
	cx, cy := (b.Left()+b.Right())/2, (b.Bottom()+b.Top())/2
	d := (b.Right() - b.Left()) / 10

	area, err := aoi.New(orb.Ring{
		{cx - d, cy - d}, {cx + d, cy - d}, {cx + d, cy + d}, {cx - d, cy + d}, {cx - d, cy - d},
	})
	require.NoError(t, err)
	return area, tiles.Quadkey(tile)
}

func geojsonLine(lon, lat float64, height float64) string {
	return fmt.Sprintf(
		`{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[%f,%f],[%f,%f],[%f,%f],[%f,%f]]]},"properties":{"height":%f}}`,
		lon, lat, lon+0.001, lat, lon+0.001, lat+0.001, lon, lat, height,
	)
}

func tiledTestServer(t *testing.T, qk string, payload string, tileStatus *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/index.csv", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "QuadKey,Url,Size\n%s,%s/tiles/%s,123\n", qk, srv.URL, qk)
	})
	mux.HandleFunc("/tiles/", func(w http.ResponseWriter, _ *http.Request) {
		if tileStatus != nil && tileStatus.Load() != 0 {
			w.WriteHeader(int(tileStatus.Load()))
			return
		}
		_, _ = w.Write([]byte(payload))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestTiledAdapter(t *testing.T, indexURL string) *TiledAdapter {
	t.Helper()
	a, err := NewTiledAdapter(TiledConfig{
		Layer:    model.LayerBuildingsMS,
		IndexURL: indexURL,
		Retry:    fastRetry(),
	}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), tiles.NewResolver(9, 0))
	require.NoError(t, err)
	return a
}

func TestTiledAdapter_FetchesAndTagsTile(t *testing.T) {
	area, qk := smallAOI(t)
	b := area.Bound()
	inside := geojsonLine(b.Left(), b.Bottom(), 12.5)

	srv := tiledTestServer(t, qk, inside+"\n", nil)
	a := newTestTiledAdapter(t, srv.URL+"/index.csv")

	res, err := a.Fetch(context.Background(), area)
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assert.Empty(t, res.Warnings)

	f := res.Features[0]
	assert.Equal(t, qk, f.Tile)
	assert.Equal(t, model.CRSWGS84, f.CRS)
	assert.Equal(t, 12.5, f.Props["height"])
	assert.Empty(t, f.SourceID)
}

func TestTiledAdapter_SkipsMalformedLines(t *testing.T) {
	area, qk := smallAOI(t)
	b := area.Bound()
	payload := "not json at all\n" + geojsonLine(b.Left(), b.Bottom(), 3) + "\n{\"type\":\"Feature\"}\n"

	srv := tiledTestServer(t, qk, payload, nil)
	a := newTestTiledAdapter(t, srv.URL+"/index.csv")

	res, err := a.Fetch(context.Background(), area)
	require.NoError(t, err)
	assert.Len(t, res.Features, 1)
}

func TestTiledAdapter_FiltersByAOIBound(t *testing.T) {
	area, qk := smallAOI(t)
	b := area.Bound()
	// One feature inside the AOI bbox, one elsewhere in the same tile.
	payload := geojsonLine(b.Left(), b.Bottom(), 1) + "\n" + geojsonLine(b.Right()+1, b.Top()+1, 2) + "\n"

	srv := tiledTestServer(t, qk, payload, nil)
	a := newTestTiledAdapter(t, srv.URL+"/index.csv")

	res, err := a.Fetch(context.Background(), area)
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assert.Equal(t, 1.0, res.Features[0].Props["height"])
}

func TestTiledAdapter_PartialTileFailureWarning(t *testing.T) {
	area, qk := smallAOI(t)

	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := tiledTestServer(t, qk, "", &status)
	a := newTestTiledAdapter(t, srv.URL+"/index.csv")

	res, err := a.Fetch(context.Background(), area)
	require.NoError(t, err, "a failed tile must not abort the layer")
	assert.Empty(t, res.Features)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, model.WarnPartialTileFailure, res.Warnings[0].Kind)
	assert.Equal(t, qk, res.Warnings[0].Tile)
}

func TestTiledAdapter_UnsupportedZoomPropagates(t *testing.T) {
	area, err := aoi.New(orb.Ring{{-60, -60}, {60, -60}, {60, 60}, {-60, 60}, {-60, -60}})
	require.NoError(t, err)

	a, err := NewTiledAdapter(TiledConfig{
		Layer:    model.LayerBuildingsMS,
		IndexURL: "http://127.0.0.1:0/unused",
		Retry:    fastRetry(),
	}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), tiles.NewResolver(9, 16))
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), area)
	require.Error(t, err)
	assert.ErrorIs(t, err, tiles.ErrUnsupportedZoom)
}

func TestTiledAdapter_IndexFailureIsNotSticky(t *testing.T) {
	area, qk := smallAOI(t)
	b := area.Bound()

	srv := tiledTestServer(t, qk, geojsonLine(b.Left(), b.Bottom(), 7)+"\n", nil)
	a := newTestTiledAdapter(t, srv.URL+"/index.csv")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Fetch(cancelled, area)
	require.Error(t, err)

	// A fresh call must retry the index load, not replay the old failure.
	res, err := a.Fetch(context.Background(), area)
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
}

func TestTiledAdapter_CachesTilePayloads(t *testing.T) {
	area, qk := smallAOI(t)
	b := area.Bound()

	var tileHits atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/index.csv", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "QuadKey,Url,Size\n%s,%s/tiles/%s,1\n", qk, srv.URL, qk)
	})
	mux.HandleFunc("/tiles/", func(w http.ResponseWriter, _ *http.Request) {
		tileHits.Add(1)
		_, _ = w.Write([]byte(geojsonLine(b.Left(), b.Bottom(), 9) + "\n"))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	a := newTestTiledAdapter(t, srv.URL+"/index.csv")

	_, err := a.Fetch(context.Background(), area)
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), area)
	require.NoError(t, err)

	assert.Equal(t, int32(1), tileHits.Load(), "second fetch should hit the payload cache")
}
