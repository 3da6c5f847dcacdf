package sources

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/fetcher"
	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/resilience"
	"github.com/atlas-group/aoi-extract/internal/tiles"
)

// TiledConfig configures a TiledAdapter.
type TiledConfig struct {
	Layer model.LayerID

	// IndexURL points at the dataset's partition index CSV, mapping
	// quadkeys to payload URLs.
	IndexURL string

	// Concurrency bounds the per-tile fetch worker pool. Default: 8.
	Concurrency int

	// CacheSize is the number of decoded tile payloads kept across
	// fetches within a session. Default: 64.
	CacheSize int

	Retry resilience.Policy
}

// TiledAdapter fetches a globally partitioned dataset one tile at a time.
// The partition index is downloaded once per session; decoded tile payloads
// are cached so overlapping AOIs don't re-download.
type TiledAdapter struct {
	cfg      TiledConfig
	fetcher  fetcher.Fetcher
	resolver *tiles.Resolver
	cache    *lru.Cache[string, []model.RawFeature]

	indexMu sync.Mutex
	index   map[string][]string
}

// NewTiledAdapter creates a tiled-partition adapter.
func NewTiledAdapter(cfg TiledConfig, f fetcher.Fetcher, r *tiles.Resolver) (*TiledAdapter, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 64
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = resilience.DefaultPolicy()
	}
	cache, err := lru.New[string, []model.RawFeature](cfg.CacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "tiled: create cache")
	}
	return &TiledAdapter{cfg: cfg, fetcher: f, resolver: r, cache: cache}, nil
}

// Layer returns the layer this adapter feeds.
func (a *TiledAdapter) Layer() model.LayerID {
	return a.cfg.Layer
}

// Fetch resolves the AOI to a tile cover, downloads each tile's payload
// concurrently, and returns the decoded features in tile order. A tile that
// exhausts retries is skipped and recorded as a partial-failure warning.
func (a *TiledAdapter) Fetch(ctx context.Context, area *aoi.AOI) (*FetchResult, error) {
	cover, err := a.resolver.Cover(area.Bound())
	if err != nil {
		return nil, eris.Wrapf(err, "tiled: resolve cover for %s", a.cfg.Layer)
	}

	if err := a.loadIndex(ctx); err != nil {
		return nil, err
	}

	type tileResult struct {
		features []model.RawFeature
		warning  *model.Warning
	}
	results := make([]tileResult, len(cover))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, tile := range cover {
		qk := tiles.Quadkey(tile)
		urls, ok := a.index[qk]
		if !ok {
			// Ocean tiles and other empty partitions have no index entry.
			continue
		}
		g.Go(func() error {
			features, err := a.fetchTile(gctx, qk, urls)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("skipping tile after retry exhaustion",
					zap.String("layer", string(a.cfg.Layer)),
					zap.String("quadkey", qk),
					zap.Error(err),
				)
				results[i].warning = &model.Warning{
					Kind:    model.WarnPartialTileFailure,
					Message: eris.ToString(err, false),
					Tile:    qk,
				}
				return nil
			}
			results[i].features = features
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "tiled: fetch tiles")
	}

	// Assemble in tile order so dedup tie-breaks are reproducible.
	out := &FetchResult{}
	bound := area.Bound()
	for _, res := range results {
		if res.warning != nil {
			out.Warnings = append(out.Warnings, *res.warning)
			continue
		}
		for _, f := range res.features {
			if f.Geometry == nil || !bound.Intersects(f.Geometry.Bound()) {
				continue
			}
			out.Features = append(out.Features, f)
		}
	}
	return out, nil
}

// loadIndex streams the partition index CSV the first time a fetch needs
// it. Rows are (QuadKey, Url, ...); a quadkey may map to several payload
// files. A failed load is not remembered, so the next Fetch retries it.
func (a *TiledAdapter) loadIndex(ctx context.Context) error {
	a.indexMu.Lock()
	defer a.indexMu.Unlock()
	if a.index != nil {
		return nil
	}

	body, err := resilience.DoVal(ctx, a.cfg.Retry, func(ctx context.Context) (io.ReadCloser, error) {
		return a.fetcher.Download(ctx, a.cfg.IndexURL)
	})
	if err != nil {
		return eris.Wrap(err, "tiled: download partition index")
	}
	defer body.Close() //nolint:errcheck

	index := make(map[string][]string)
	rowCh, errCh := fetcher.StreamCSV(ctx, body, fetcher.CSVOptions{HasHeader: true})
	for row := range rowCh {
		if len(row) < 2 || row[0] == "" {
			continue
		}
		index[row[0]] = append(index[row[0]], row[1])
	}
	if err := <-errCh; err != nil {
		return eris.Wrap(err, "tiled: read partition index")
	}
	a.index = index
	zap.L().Info("loaded partition index",
		zap.String("layer", string(a.cfg.Layer)),
		zap.Int("quadkeys", len(index)),
	)
	return nil
}

func (a *TiledAdapter) fetchTile(ctx context.Context, qk string, urls []string) ([]model.RawFeature, error) {
	if cached, ok := a.cache.Get(qk); ok {
		return cached, nil
	}

	var features []model.RawFeature
	for _, url := range urls {
		part, err := resilience.DoVal(ctx, a.retryFor(qk), func(ctx context.Context) ([]model.RawFeature, error) {
			body, err := a.fetcher.Download(ctx, url)
			if err != nil {
				return nil, err
			}
			defer body.Close() //nolint:errcheck
			return a.decodePayload(body, qk)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "tiled: fetch payload for quadkey %s", qk)
		}
		features = append(features, part...)
	}

	a.cache.Add(qk, features)
	return features, nil
}

func (a *TiledAdapter) retryFor(qk string) resilience.Policy {
	p := a.cfg.Retry
	p.OnAttempt = resilience.LogAttempts(string(a.cfg.Layer), "tile "+qk)
	return p
}

// decodePayload parses a newline-delimited GeoJSON tile payload. Payloads
// may arrive gzip-compressed. Malformed lines are skipped so one bad record
// can't poison the tile.
func (a *TiledAdapter) decodePayload(r io.Reader, qk string) ([]model.RawFeature, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, eris.Wrap(err, "tiled: open gzip payload")
		}
		defer gz.Close() //nolint:errcheck
		br = bufio.NewReader(gz)
	}

	var features []model.RawFeature
	var malformed int
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		feat, err := geojson.UnmarshalFeature(line)
		if err != nil || feat.Geometry == nil {
			malformed++
			continue
		}
		features = append(features, model.RawFeature{
			CRS:      model.CRSWGS84,
			Geometry: feat.Geometry,
			Props:    feat.Properties,
			Tile:     qk,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "tiled: scan payload")
	}
	if malformed > 0 {
		zap.L().Warn("skipped malformed payload lines",
			zap.String("quadkey", qk),
			zap.Int("count", malformed),
		)
	}
	return features, nil
}
