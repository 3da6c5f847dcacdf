package sources

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/tidwall/rtree"
	"go.uber.org/zap"

	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/fetcher"
	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/resilience"
)

// StaticConfig configures a StaticAdapter.
type StaticConfig struct {
	Layer model.LayerID

	// Path is a local shapefile (.shp). When empty the archive behind URL
	// is downloaded and extracted into CacheDir on first use.
	Path string

	// URL is the zipped shapefile archive to download when Path is unset.
	// ftp:// URLs are fetched with the FTP fetcher.
	URL string

	// CacheDir holds the downloaded archive and its extracted sidecars.
	CacheDir string

	Retry resilience.Policy
}

// StaticAdapter serves a pre-packaged global boundary dataset. The file is
// read once per session into an in-memory spatial index; per-AOI calls are
// pure index lookups with no I/O.
type StaticAdapter struct {
	cfg   StaticConfig
	httpf fetcher.Fetcher
	ftpf  fetcher.Fetcher

	mu       sync.Mutex
	loaded   bool
	features []model.RawFeature
	index    rtree.RTreeG[int]
}

// NewStaticAdapter creates a static-file adapter. ftpf may be nil when no
// ftp:// mirror is configured.
func NewStaticAdapter(cfg StaticConfig, httpf, ftpf fetcher.Fetcher) *StaticAdapter {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = resilience.DefaultPolicy()
	}
	return &StaticAdapter{cfg: cfg, httpf: httpf, ftpf: ftpf}
}

// Layer returns the layer this adapter feeds.
func (a *StaticAdapter) Layer() model.LayerID {
	return a.cfg.Layer
}

// Fetch filters the loaded dataset by bounding-box overlap. Results come
// back in file order so repeated runs are reproducible. A failed load is
// not remembered; the next call retries it.
func (a *StaticAdapter) Fetch(ctx context.Context, area *aoi.AOI) (*FetchResult, error) {
	a.mu.Lock()
	if !a.loaded {
		if err := a.load(ctx); err != nil {
			a.mu.Unlock()
			return nil, eris.Wrapf(ErrSourceUnavailable, "static: %s: %v", a.cfg.Layer, err)
		}
		a.loaded = true
	}
	a.mu.Unlock()

	b := area.Bound()
	var hits []int
	a.index.Search(
		[2]float64{b.Left(), b.Bottom()},
		[2]float64{b.Right(), b.Top()},
		func(_, _ [2]float64, i int) bool {
			hits = append(hits, i)
			return true
		},
	)
	sort.Ints(hits)

	out := &FetchResult{Features: make([]model.RawFeature, 0, len(hits))}
	for _, i := range hits {
		out.Features = append(out.Features, a.features[i])
	}
	return out, nil
}

func (a *StaticAdapter) load(ctx context.Context) error {
	path := a.cfg.Path
	if path == "" {
		var err error
		path, err = a.download(ctx)
		if err != nil {
			return err
		}
	}

	reader, err := shp.Open(path)
	if err != nil {
		return eris.Wrapf(err, "static: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	// Field name → index, dBase names arrive null-padded.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[name] = i
	}

	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		geom := shapeGeometry(shape)
		if geom == nil {
			skipped++
			continue
		}

		props := make(map[string]any, len(fieldIdx))
		for name, idx := range fieldIdx {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
			if val != "" {
				props[name] = val
			}
		}

		i := len(a.features)
		a.features = append(a.features, model.RawFeature{
			CRS:      model.CRSWGS84,
			Geometry: geom,
			Props:    props,
		})
		gb := geom.Bound()
		a.index.Insert(
			[2]float64{gb.Left(), gb.Bottom()},
			[2]float64{gb.Right(), gb.Top()},
			i,
		)
	}
	if skipped > 0 {
		zap.L().Debug("skipped shapefile records without usable geometry",
			zap.String("layer", string(a.cfg.Layer)),
			zap.Int("skipped", skipped),
		)
	}

	zap.L().Info("loaded static boundary dataset",
		zap.String("layer", string(a.cfg.Layer)),
		zap.Int("features", len(a.features)),
	)
	return nil
}

// download fetches the zipped archive and extracts it, returning the .shp
// path. Already-extracted archives are reused across sessions.
func (a *StaticAdapter) download(ctx context.Context) (string, error) {
	if a.cfg.URL == "" {
		return "", eris.New("static: neither path nor url configured")
	}
	dir := a.cfg.CacheDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "aoi-extract")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "static: create cache dir")
	}

	extractDir := filepath.Join(dir, strings.TrimSuffix(filepath.Base(a.cfg.URL), ".zip"))
	if shpPath, err := findShapefile(extractDir); err == nil {
		return shpPath, nil
	}

	f := a.httpf
	if strings.HasPrefix(a.cfg.URL, "ftp://") {
		if a.ftpf == nil {
			return "", eris.New("static: ftp mirror configured without ftp fetcher")
		}
		f = a.ftpf
	}

	zipPath := filepath.Join(dir, filepath.Base(a.cfg.URL))
	retry := a.cfg.Retry
	retry.OnAttempt = resilience.LogAttempts(string(a.cfg.Layer), "download archive")
	_, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (int64, error) {
		return f.DownloadToFile(ctx, a.cfg.URL, zipPath)
	})
	if err != nil {
		return "", eris.Wrap(err, "static: download archive")
	}

	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", err
	}
	return findShapefile(extractDir)
}

func findShapefile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.shp"))
	if err != nil || len(matches) == 0 {
		return "", eris.Errorf("static: no shapefile under %s", dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// shapeGeometry converts a go-shp shape into an orb geometry. Only the
// types boundary datasets actually use are handled.
func shapeGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PolyLine:
		lines := polyLineParts(s)
		if len(lines) == 1 {
			return lines[0]
		}
		if len(lines) > 1 {
			return orb.MultiLineString(lines)
		}
		return nil
	case *shp.Polygon:
		lines := polyLineParts((*shp.PolyLine)(s))
		var mp orb.MultiPolygon
		for _, line := range lines {
			if len(line) < 4 {
				continue
			}
			mp = append(mp, orb.Polygon{orb.Ring(line)})
		}
		if len(mp) == 1 {
			return mp[0]
		}
		if len(mp) > 1 {
			return mp
		}
		return nil
	default:
		return nil
	}
}

func polyLineParts(pl *shp.PolyLine) []orb.LineString {
	parts := make([]orb.LineString, 0, pl.NumParts)
	for p := 0; p < int(pl.NumParts); p++ {
		start := pl.Parts[p]
		end := int32(len(pl.Points))
		if p+1 < int(pl.NumParts) {
			end = pl.Parts[p+1]
		}
		line := make(orb.LineString, 0, end-start)
		for i := start; i < end; i++ {
			line = append(line, orb.Point{pl.Points[i].X, pl.Points[i].Y})
		}
		if len(line) >= 2 {
			parts = append(parts, line)
		}
	}
	return parts
}
