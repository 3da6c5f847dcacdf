// Package aggregate collects the filtered features of one layer and
// computes its summary statistics. Pure bookkeeping: no retries, no failure
// modes, deterministic over already-validated input.
package aggregate

import (
	"sort"

	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/sources"
)

// Collector accumulates one layer's features and warnings ahead of the
// export hand-off.
type Collector struct {
	layer    model.LayerID
	fields   []sources.FieldSpec
	features []model.CanonicalFeature
	warnings []model.Warning
}

// NewCollector creates a Collector for a layer. fields drives the
// attribute-completeness statistics and may be nil.
func NewCollector(layer model.LayerID, fields []sources.FieldSpec) *Collector {
	return &Collector{layer: layer, fields: fields}
}

// Add appends features in order.
func (c *Collector) Add(features ...model.CanonicalFeature) {
	c.features = append(c.features, features...)
}

// Warn attaches warnings to the layer summary.
func (c *Collector) Warn(warnings ...model.Warning) {
	c.warnings = append(c.warnings, warnings...)
}

// ToLayer produces the finished Layer with its statistics.
func (c *Collector) ToLayer() model.Layer {
	stats := model.LayerStats{
		FeatureCount:   len(c.features),
		GeometryCounts: make(map[string]int),
	}
	for _, f := range c.features {
		if f.Geometry != nil {
			stats.GeometryCounts[f.Geometry.GeoJSONType()]++
		}
	}

	if len(c.fields) > 0 && len(c.features) > 0 {
		stats.AttributeCompleteness = make(map[string]float64, len(c.fields))
		for _, field := range c.fields {
			var set int
			for _, f := range c.features {
				if hasValue(f.Attrs[field.Name], field) {
					set++
				}
			}
			stats.AttributeCompleteness[field.Name] = float64(set) / float64(len(c.features))
		}
	}

	return model.Layer{
		ID:       c.layer,
		Features: c.features,
		Stats:    stats,
		Warnings: sortedWarnings(c.warnings),
	}
}

// hasValue reports whether an attribute carries real upstream data rather
// than the schema default.
func hasValue(v any, field sources.FieldSpec) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != "" && val != field.Default
	case float64:
		switch d := field.Default.(type) {
		case float64:
			return val != d
		case int:
			return val != float64(d)
		}
		return true
	default:
		return true
	}
}

// sortedWarnings orders warnings by kind then tile so the summary is stable
// regardless of worker completion order.
func sortedWarnings(warnings []model.Warning) []model.Warning {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]model.Warning, len(warnings))
	copy(out, warnings)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Tile < out[j].Tile
	})
	return out
}
