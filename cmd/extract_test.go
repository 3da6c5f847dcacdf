package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/pipeline"
	"github.com/atlas-group/aoi-extract/internal/sources"
)

func TestRunResult(t *testing.T) {
	r := &pipeline.Result{
		RunID:         "run-1",
		TotalFeatures: 5,
		Duration:      1500 * time.Millisecond,
		Layers: []model.Layer{
			{
				ID:    model.LayerRoadsOSM,
				Stats: model.LayerStats{FeatureCount: 5, GeometryCounts: map[string]int{"LineString": 5}},
				Warnings: []model.Warning{
					{Kind: model.WarnSourceUnavailable, Message: "mirror down"},
				},
			},
		},
	}

	res := runResult(r)
	assert.Equal(t, 5, res.TotalFeatures)
	assert.Equal(t, int64(1500), res.DurationMillis)
	require.Len(t, res.Layers, 1)
	assert.Equal(t, model.LayerRoadsOSM, res.Layers[0].Layer)
	assert.Equal(t, 5, res.Layers[0].Stats.FeatureCount)
	require.Len(t, res.Layers[0].Warnings, 1)
}

func TestFormatSources(t *testing.T) {
	registry, err := sources.LoadRegistry()
	require.NoError(t, err)

	var buf bytes.Buffer
	formatSources(&buf, registry)

	out := buf.String()
	assert.Contains(t, out, "LAYER")
	assert.Contains(t, out, "buildings_ms")
	assert.Contains(t, out, "tiled")
	assert.Contains(t, out, "countries_ne")
	assert.Contains(t, out, "iso_a3")
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "run-1",
			Layers:    []model.LayerID{model.LayerRoadsOSM, model.LayerParksOSM},
			Status:    model.RunStatusCompleted,
			AreaKm2:   42.5,
			Result:    &model.RunResult{TotalFeatures: 17},
			CreatedAt: now,
		},
		{
			ID:        "run-2",
			Layers:    []model.LayerID{model.LayerCountriesNE},
			Status:    model.RunStatusRunning,
			CreatedAt: now,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "roads_osm,parks_osm")
	assert.Contains(t, out, "17")
	assert.Contains(t, out, "run-2")
	// No result yet means no feature count.
	assert.Contains(t, out, "-")
}
