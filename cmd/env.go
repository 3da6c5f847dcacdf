package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/db"
	"github.com/atlas-group/aoi-extract/internal/fetcher"
	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/resilience"
	"github.com/atlas-group/aoi-extract/internal/sources"
	"github.com/atlas-group/aoi-extract/internal/store"
	"github.com/atlas-group/aoi-extract/internal/tiles"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "aoi-extract.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(pool), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func retryPolicy() resilience.Policy {
	p := resilience.DefaultPolicy()
	if cfg.Fetch.Retries > 0 {
		p.Attempts = cfg.Fetch.Retries
	}
	return p
}

// buildAdapters wires one source adapter per registered layer from the
// loaded configuration.
func buildAdapters() (map[model.LayerID]sources.Adapter, *sources.Registry, error) {
	registry, err := sources.LoadRegistry()
	if err != nil {
		return nil, nil, err
	}

	retry := retryPolicy()
	httpf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
	})
	ftpf := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
	})
	resolver := tiles.NewResolver(cfg.Tiles.Zoom, cfg.Tiles.MaxTiles)
	breakers := resilience.NewEndpointBreakers(resilience.BreakerConfig{})

	adapters := make(map[model.LayerID]sources.Adapter, len(model.AllLayers()))
	for _, layer := range model.AllLayers() {
		spec, ok := registry.Spec(layer)
		if !ok {
			return nil, nil, eris.Errorf("no source descriptor for layer %s", layer)
		}

		switch spec.Kind {
		case "tiled":
			a, err := sources.NewTiledAdapter(sources.TiledConfig{
				Layer:       layer,
				IndexURL:    cfg.Sources.Microsoft.IndexURL,
				Concurrency: cfg.Sources.Microsoft.Concurrency,
				CacheSize:   cfg.Sources.Microsoft.CacheSize,
				Retry:       retry,
			}, httpf, resolver)
			if err != nil {
				return nil, nil, err
			}
			adapters[layer] = a
		case "query":
			adapters[layer] = sources.NewQueryAdapter(sources.QueryConfig{
				Layer:      layer,
				Endpoints:  cfg.Sources.Overpass.Endpoints,
				Tag:        spec.Tag,
				Values:     spec.Values,
				TimeoutSec: cfg.Sources.Overpass.TimeoutSec,
				Retry:      retry,
			}, httpf, breakers)
		case "static":
			adapters[layer] = sources.NewStaticAdapter(sources.StaticConfig{
				Layer:    layer,
				URL:      cfg.Sources.Natural.URL,
				CacheDir: cfg.Sources.Natural.CacheDir,
				Retry:    retry,
			}, httpf, ftpf)
		default:
			return nil, nil, eris.Errorf("unknown source kind %q for layer %s", spec.Kind, layer)
		}
	}

	return adapters, registry, nil
}

// parseBBox parses "minLon,minLat,maxLon,maxLat" into an AOI rectangle.
func parseBBox(s string) (*aoi.AOI, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, eris.Errorf("bbox must be minLon,minLat,maxLon,maxLat, got %q", s)
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "bbox component %d", i+1)
		}
		v[i] = f
	}

	return aoi.New([]orb.Point{
		{v[0], v[1]}, {v[2], v[1]}, {v[2], v[3]}, {v[0], v[3]}, {v[0], v[1]},
	})
}

// resolveAOI builds the AOI from either a bbox string or a GeoJSON file.
func resolveAOI(bbox, geojsonPath string) (*aoi.AOI, error) {
	switch {
	case bbox != "" && geojsonPath != "":
		return nil, eris.New("use either --bbox or --aoi, not both")
	case bbox != "":
		return parseBBox(bbox)
	case geojsonPath != "":
		data, err := os.ReadFile(geojsonPath)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", geojsonPath)
		}
		return aoi.FromGeoJSON(data)
	default:
		return nil, eris.New("an area of interest is required: --bbox or --aoi")
	}
}

// parseLayers maps layer names to identifiers; an empty list means all.
func parseLayers(names []string) ([]model.LayerID, error) {
	if len(names) == 0 {
		return model.AllLayers(), nil
	}

	layers := make([]model.LayerID, 0, len(names))
	for _, n := range names {
		id := model.LayerID(strings.TrimSpace(n))
		if !id.Valid() {
			return nil, eris.Errorf("unknown layer %q", n)
		}
		layers = append(layers, id)
	}
	return layers, nil
}
