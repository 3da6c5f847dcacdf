// Package clip filters normalized features down to the set actually inside
// the AOI: duplicates from overlapping tile fetches are removed first, then
// every survivor is tested with exact polygon intersection.
package clip

import (
	"go.uber.org/zap"

	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/model"
)

// Filter applies the two-stage filter in its required order: dedup, then
// clip. Dedup must come first — a feature straddling a tile boundary shows
// up in more than one tile payload, and the representative must be chosen
// before geometry tests discard copies. First-seen wins; input order is
// retrieval order, so repeated runs pick the same representative.
func Filter(area *aoi.AOI, features []model.CanonicalFeature) []model.CanonicalFeature {
	seen := make(map[string]struct{}, len(features))
	out := make([]model.CanonicalFeature, 0, len(features))
	bound := area.Bound()

	var duplicates, outside int
	for _, f := range features {
		key := f.DedupKey()
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		seen[key] = struct{}{}

		if f.Geometry == nil {
			outside++
			continue
		}
		// Cheap bbox gate before the exact polygon test.
		if !bound.Intersects(f.Geometry.Bound()) || !area.Intersects(f.Geometry) {
			outside++
			continue
		}
		out = append(out, f)
	}

	if duplicates > 0 || outside > 0 {
		zap.L().Debug("clip filter",
			zap.Int("input", len(features)),
			zap.Int("duplicates", duplicates),
			zap.Int("outside_aoi", outside),
			zap.Int("kept", len(out)),
		)
	}
	return out
}
