package model

import "time"

// RunStatus tracks the lifecycle of a persisted extraction run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// LayerSummary is the per-layer portion of a run result kept in the store.
type LayerSummary struct {
	Layer    LayerID    `json:"layer"`
	Stats    LayerStats `json:"stats"`
	Warnings []Warning  `json:"warnings,omitempty"`
}

// RunResult is the outcome of a completed extraction run.
type RunResult struct {
	TotalFeatures  int            `json:"total_features"`
	Layers         []LayerSummary `json:"layers"`
	DurationMillis int64          `json:"duration_millis"`
}

// Run is one extraction session as recorded in the store.
type Run struct {
	ID string `json:"id"`

	// BBox is the AOI bounding box as (minLon, minLat, maxLon, maxLat).
	BBox [4]float64 `json:"bbox"`

	// AreaKm2 is the approximate AOI area derived from the bounding box.
	AreaKm2 float64 `json:"area_km2"`

	Layers []LayerID `json:"layers"`
	Format string    `json:"format"`

	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
