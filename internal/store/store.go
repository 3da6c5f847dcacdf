// Package store persists extraction run history and, optionally, the
// extracted features themselves. Two drivers: a zero-setup sqlite file for
// local use and PostgreSQL for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-group/aoi-extract/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Layer  model.LayerID   `json:"layer,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines run-history persistence.
type Store interface {
	// CreateRun records a new run in the running state and returns it.
	CreateRun(ctx context.Context, bbox [4]float64, areaKm2 float64, layers []model.LayerID, format string) (*model.Run, error)

	// UpdateRunStatus moves a run between lifecycle states.
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error

	// CompleteRun stores the result and marks the run completed.
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error

	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// SaveLayerFeatures persists a layer's features under a run. Returns
	// the number of rows written.
	SaveLayerFeatures(ctx context.Context, runID string, layer model.Layer) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// newRun builds the initial run record shared by both drivers.
func newRun(bbox [4]float64, areaKm2 float64, layers []model.LayerID, format string) *model.Run {
	now := time.Now().UTC()
	return &model.Run{
		ID:        uuid.NewString(),
		BBox:      bbox,
		AreaKm2:   areaKm2,
		Layers:    layers,
		Format:    format,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
