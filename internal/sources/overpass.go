package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/fetcher"
	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/resilience"
)

// QueryConfig configures a QueryAdapter.
type QueryConfig struct {
	Layer model.LayerID

	// Endpoints are interchangeable Overpass mirrors, tried in order.
	Endpoints []string

	// Tag is the feature-class key the query filters on.
	Tag string

	// Values restricts Tag to specific values. Empty means any value.
	Values []string

	// TimeoutSec is the server-side query timeout. Default: 90.
	TimeoutSec int

	Retry resilience.Policy
}

// QueryAdapter fetches one layer's features with a single bounding-box
// Overpass query. Mirrors that keep failing are taken out of rotation by a
// per-endpoint breaker; when every mirror is exhausted the layer fails with
// ErrSourceUnavailable.
type QueryAdapter struct {
	cfg      QueryConfig
	fetcher  fetcher.Fetcher
	breakers *resilience.EndpointBreakers
}

// NewQueryAdapter creates a bounding-box query adapter.
func NewQueryAdapter(cfg QueryConfig, f fetcher.Fetcher, breakers *resilience.EndpointBreakers) *QueryAdapter {
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 90
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = resilience.DefaultPolicy()
	}
	if breakers == nil {
		breakers = resilience.NewEndpointBreakers(resilience.DefaultBreakerConfig())
	}
	return &QueryAdapter{cfg: cfg, fetcher: f, breakers: breakers}
}

// Layer returns the layer this adapter feeds.
func (a *QueryAdapter) Layer() model.LayerID {
	return a.cfg.Layer
}

// Fetch issues the bounding-box query against the first healthy mirror.
func (a *QueryAdapter) Fetch(ctx context.Context, area *aoi.AOI) (*FetchResult, error) {
	query := a.buildQuery(area.Bound())
	payload := []byte("data=" + url.QueryEscape(query))

	var lastErr error
	for _, endpoint := range a.cfg.Endpoints {
		breaker := a.breakers.Get(endpoint)
		if err := breaker.Allow(); err != nil {
			lastErr = err
			continue
		}

		retry := a.cfg.Retry
		retry.OnAttempt = resilience.LogAttempts(string(a.cfg.Layer), "overpass query")
		body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (io.ReadCloser, error) {
			return a.fetcher.Post(ctx, endpoint, "application/x-www-form-urlencoded", payload)
		})
		breaker.Record(err)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(err, "query: fetch")
			}
			zap.L().Warn("overpass mirror failed, trying next",
				zap.String("layer", string(a.cfg.Layer)),
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		features, err := a.decode(body)
		_ = body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return &FetchResult{Features: features}, nil
	}

	return nil, eris.Wrapf(ErrSourceUnavailable, "query: %s exhausted all endpoints: %v",
		a.cfg.Layer, lastErr)
}

// buildQuery renders the Overpass QL for the layer's tag filter over the
// AOI bounding box. Overpass bbox order is (south, west, north, east).
func (a *QueryAdapter) buildQuery(b orb.Bound) string {
	filter := fmt.Sprintf("[%q]", a.cfg.Tag)
	if len(a.cfg.Values) > 0 {
		filter = fmt.Sprintf("[%q~\"^(%s)$\"]", a.cfg.Tag, strings.Join(a.cfg.Values, "|"))
	}
	coords := make([]string, 4)
	for i, v := range []float64{b.Bottom(), b.Left(), b.Top(), b.Right()} {
		coords[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	bbox := "(" + strings.Join(coords, ",") + ")"

	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d];\n(\n", a.cfg.TimeoutSec)
	for _, kind := range []string{"node", "way", "relation"} {
		fmt.Fprintf(&sb, "  %s%s%s;\n", kind, filter, bbox)
	}
	sb.WriteString(");\nout geom;")
	return sb.String()
}

type overpassPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type overpassMember struct {
	Type     string          `json:"type"`
	Role     string          `json:"role"`
	Geometry []overpassPoint `json:"geometry"`
}

type overpassElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Geometry []overpassPoint   `json:"geometry"`
	Members  []overpassMember  `json:"members"`
}

func (a *QueryAdapter) decode(r io.Reader) ([]model.RawFeature, error) {
	var resp struct {
		Elements []overpassElement `json:"elements"`
	}
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, eris.Wrap(err, "query: decode response")
	}

	features := make([]model.RawFeature, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		geom := elementGeometry(el)
		if geom == nil {
			continue
		}
		props := make(map[string]any, len(el.Tags))
		for k, v := range el.Tags {
			props[k] = v
		}
		features = append(features, model.RawFeature{
			SourceID: fmt.Sprintf("%s/%d", el.Type, el.ID),
			CRS:      model.CRSWGS84,
			Geometry: geom,
			Props:    props,
		})
	}
	return features, nil
}

// elementGeometry converts an Overpass element into its natural geometry:
// nodes become points, ways become line strings, relations become multi
// line strings of their member geometries. Family coercion (closed ring →
// polygon, centroid → point) is the normalizer's job.
func elementGeometry(el overpassElement) orb.Geometry {
	switch el.Type {
	case "node":
		return orb.Point{el.Lon, el.Lat}
	case "way":
		if len(el.Geometry) < 2 {
			return nil
		}
		return lineOf(el.Geometry)
	case "relation":
		var lines orb.MultiLineString
		for _, m := range el.Members {
			if len(m.Geometry) < 2 {
				continue
			}
			lines = append(lines, lineOf(m.Geometry))
		}
		if len(lines) == 0 {
			return nil
		}
		return lines
	default:
		return nil
	}
}

func lineOf(pts []overpassPoint) orb.LineString {
	line := make(orb.LineString, len(pts))
	for i, p := range pts {
		line[i] = orb.Point{p.Lon, p.Lat}
	}
	return line
}
