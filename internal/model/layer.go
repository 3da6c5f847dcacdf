package model

// WarningKind classifies recoverable failures surfaced on a layer's summary.
type WarningKind string

const (
	// WarnPartialTileFailure records a tile partition skipped after retry
	// exhaustion; the layer is returned with partial coverage.
	WarnPartialTileFailure WarningKind = "partial_tile_failure"

	// WarnSourceUnavailable records a query source that failed every retry;
	// the layer is returned empty.
	WarnSourceUnavailable WarningKind = "source_unavailable"

	// WarnUnsupportedZoom records an AOI that spans more tiles than the
	// configured ceiling for a tiled source; the layer is returned empty.
	WarnUnsupportedZoom WarningKind = "unsupported_zoom"

	// WarnDroppedFeatures records features dropped during normalization
	// (reprojection failures, malformed geometries, family mismatches).
	WarnDroppedFeatures WarningKind = "dropped_features"
)

// Warning is a recoverable problem attached to a layer's summary rather than
// propagated as an error.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
	Tile    string      `json:"tile,omitempty"`
}

// LayerStats summarizes the features collected for one layer.
type LayerStats struct {
	FeatureCount int `json:"feature_count"`

	// GeometryCounts is a histogram keyed by GeoJSON geometry type.
	GeometryCounts map[string]int `json:"geometry_counts"`

	// AttributeCompleteness maps each schema field to the fraction of
	// features carrying a non-default value for it, in [0, 1].
	AttributeCompleteness map[string]float64 `json:"attribute_completeness,omitempty"`
}

// Layer is the normalized, deduplicated, clipped feature set for one
// requested source, plus its summary statistics and warnings. It is built
// once per retrieval run and handed to the export writer.
type Layer struct {
	ID       LayerID            `json:"id"`
	Features []CanonicalFeature `json:"-"`
	Stats    LayerStats         `json:"stats"`
	Warnings []Warning          `json:"warnings,omitempty"`
}
