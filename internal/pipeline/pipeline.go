// Package pipeline runs a retrieval session: per requested layer it invokes
// the source adapter, normalizes, clips, and aggregates, then hands the
// resulting layers to the caller for export.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-group/aoi-extract/internal/aggregate"
	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/clip"
	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/normalize"
	"github.com/atlas-group/aoi-extract/internal/sources"
	"github.com/atlas-group/aoi-extract/internal/tiles"
)

// Result is one session run's output: the requested layers in request
// order, each complete with statistics and warnings.
type Result struct {
	RunID         string
	AreaKm2       float64
	Layers        []model.Layer
	TotalFeatures int
	Duration      time.Duration
}

// Config bounds a session's resource use.
type Config struct {
	// LayerConcurrency caps how many layers fetch at once. Default: 4.
	LayerConcurrency int
}

// Session owns one retrieval run: the AOI, the adapter set, and the
// accumulated layers. Sessions are independent; concurrent sessions don't
// share mutable state.
type Session struct {
	id       string
	area     *aoi.AOI
	adapters map[model.LayerID]sources.Adapter
	registry *sources.Registry
	cfg      Config
}

// NewSession creates a session for an AOI over the given adapters.
func NewSession(area *aoi.AOI, adapters map[model.LayerID]sources.Adapter, registry *sources.Registry, cfg Config) *Session {
	if cfg.LayerConcurrency <= 0 {
		cfg.LayerConcurrency = 4
	}
	return &Session{
		id:       uuid.NewString(),
		area:     area,
		adapters: adapters,
		registry: registry,
		cfg:      cfg,
	}
}

// ID returns the session's run identifier.
func (s *Session) ID() string {
	return s.id
}

// Run retrieves the requested layers concurrently. Layer-fatal failures
// (source unavailable, AOI too large for a tiled source) produce an empty
// layer with a warning; a multi-layer run never fails wholesale because one
// source is down. Only context cancellation aborts the run.
func (s *Session) Run(ctx context.Context, layers []model.LayerID) (*Result, error) {
	for _, layer := range layers {
		if !layer.Valid() {
			return nil, eris.Errorf("pipeline: unknown layer %q", layer)
		}
		if _, ok := s.adapters[layer]; !ok {
			return nil, eris.Errorf("pipeline: no adapter registered for layer %q", layer)
		}
	}

	start := time.Now()
	results := make([]model.Layer, len(layers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.LayerConcurrency)
	for i, layer := range layers {
		g.Go(func() error {
			built, err := s.runLayer(gctx, layer)
			if err != nil {
				return err
			}
			results[i] = built
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:    s.id,
		AreaKm2:  s.area.ApproxAreaKm2(),
		Layers:   results,
		Duration: time.Since(start),
	}
	for _, l := range results {
		res.TotalFeatures += l.Stats.FeatureCount
	}

	zap.L().Info("session complete",
		zap.String("run_id", s.id),
		zap.Int("layers", len(results)),
		zap.Int("features", res.TotalFeatures),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// runLayer executes the full per-layer pipeline. Fatal adapter errors are
// converted into an empty layer carrying the corresponding warning.
func (s *Session) runLayer(ctx context.Context, layer model.LayerID) (model.Layer, error) {
	collector := aggregate.NewCollector(layer, s.registry.Fields(layer))

	fetched, err := s.adapters[layer].Fetch(ctx, s.area)
	if err != nil {
		if ctx.Err() != nil {
			return model.Layer{}, eris.Wrapf(err, "pipeline: layer %s cancelled", layer)
		}
		collector.Warn(layerFatalWarning(layer, err))
		return collector.ToLayer(), nil
	}
	collector.Warn(fetched.Warnings...)

	normalizer := normalize.New(layer, s.registry.Fields(layer))
	canonical, warnings := normalizer.Normalize(fetched.Features)
	collector.Warn(warnings...)

	collector.Add(clip.Filter(s.area, canonical)...)

	built := collector.ToLayer()
	zap.L().Debug("layer built",
		zap.String("run_id", s.id),
		zap.String("layer", string(layer)),
		zap.Int("raw", len(fetched.Features)),
		zap.Int("kept", built.Stats.FeatureCount),
		zap.Int("warnings", len(built.Warnings)),
	)
	return built, nil
}

func layerFatalWarning(layer model.LayerID, err error) model.Warning {
	kind := model.WarnSourceUnavailable
	if eris.Is(err, tiles.ErrUnsupportedZoom) {
		kind = model.WarnUnsupportedZoom
	}
	zap.L().Warn("layer fetch failed, returning empty layer",
		zap.String("layer", string(layer)),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return model.Warning{
		Kind:    kind,
		Message: fmt.Sprintf("layer %s: %s", layer, eris.ToString(err, false)),
	}
}
