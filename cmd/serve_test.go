package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/pipeline"
	"github.com/atlas-group/aoi-extract/internal/sources"
	"github.com/atlas-group/aoi-extract/internal/store"
)

func newTestAPI(t *testing.T, extract extractFunc) *api {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	registry, err := sources.LoadRegistry()
	require.NoError(t, err)

	return &api{st: st, registry: registry, extract: extract, baseCtx: context.Background()}
}

func stubExtract(result *pipeline.Result, err error) extractFunc {
	return func(ctx context.Context, area *aoi.AOI, layers []model.LayerID) (*pipeline.Result, error) {
		return result, err
	}
}

func TestServe_Health(t *testing.T) {
	a := newTestAPI(t, nil)
	srv := httptest.NewServer(a.router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServe_Layers(t *testing.T) {
	a := newTestAPI(t, nil)
	srv := httptest.NewServer(a.router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/layers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var infos []layerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, len(model.AllLayers()))
	assert.Equal(t, model.LayerBuildingsMS, infos[0].ID)
	assert.Equal(t, "tiled", infos[0].Kind)
	assert.Contains(t, infos[0].Fields, "height")
}

func TestServe_CreateRun(t *testing.T) {
	result := &pipeline.Result{
		RunID: "internal-id",
		Layers: []model.Layer{
			{
				ID: model.LayerRoadsOSM,
				Features: []model.CanonicalFeature{
					{SourceID: "way/1", Geometry: orb.LineString{{0, 0}, {1, 1}}, Attrs: map[string]any{"name": "A road"}},
				},
				Stats: model.LayerStats{FeatureCount: 1, GeometryCounts: map[string]int{"LineString": 1}},
			},
		},
		TotalFeatures: 1,
	}

	a := newTestAPI(t, stubExtract(result, nil))
	srv := httptest.NewServer(a.router())
	defer srv.Close()

	body := `{"bbox":[0,0,1,1],"layers":["roads_osm"]}`
	resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	runID := accepted["run_id"]
	require.NotEmpty(t, runID)
	assert.Equal(t, "running", accepted["status"])

	// The extraction runs in the background; wait for it to complete.
	assert.Eventually(t, func() bool {
		run, err := a.st.GetRun(context.Background(), runID)
		return err == nil && run.Status == model.RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	run, err := a.st.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, run.Result)
	assert.Equal(t, 1, run.Result.TotalFeatures)
	assert.Equal(t, []model.LayerID{model.LayerRoadsOSM}, run.Layers)
}

func TestServe_CreateRun_FailedExtraction(t *testing.T) {
	a := newTestAPI(t, stubExtract(nil, assert.AnError))
	srv := httptest.NewServer(a.router())
	defer srv.Close()

	body := `{"bbox":[0,0,1,1]}`
	resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))

	assert.Eventually(t, func() bool {
		run, err := a.st.GetRun(context.Background(), accepted["run_id"])
		return err == nil && run.Status == model.RunStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServe_CreateRun_BadRequests(t *testing.T) {
	a := newTestAPI(t, nil)
	srv := httptest.NewServer(a.router())
	defer srv.Close()

	cases := []string{
		`not json`,
		`{}`,
		`{"bbox":[0,0,1]}`,
		`{"bbox":[0,0,1,1],"geojson":{"type":"Point","coordinates":[0,0]}}`,
		`{"bbox":[0,0,1,1],"layers":["parking_lots"]}`,
	}
	for _, c := range cases {
		resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(c))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, c)
		resp.Body.Close()
	}
}

func TestServe_ListAndGetRuns(t *testing.T) {
	a := newTestAPI(t, nil)
	srv := httptest.NewServer(a.router())
	defer srv.Close()

	run, err := a.st.CreateRun(context.Background(), [4]float64{0, 0, 1, 1}, 12300,
		[]model.LayerID{model.LayerParksOSM}, "geojson")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()

	var runs []model.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	single, err := http.Get(srv.URL + "/runs/" + run.ID)
	require.NoError(t, err)
	defer single.Body.Close()
	assert.Equal(t, http.StatusOK, single.StatusCode)

	missing, err := http.Get(srv.URL + "/runs/no-such-run")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestServe_ListRuns_Empty(t *testing.T) {
	a := newTestAPI(t, nil)
	srv := httptest.NewServer(a.router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()

	var runs []model.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	assert.Empty(t, runs)
}
