// Package sources implements the adapters that pull raw features for an AOI
// from the upstream datasets: tiled partition downloads, Overpass vector
// queries, and bundled boundary files.
package sources

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/model"
)

// ErrSourceUnavailable is returned when a query source exhausts retries on
// every endpoint. It is fatal for that layer only; other layers in the same
// session proceed.
var ErrSourceUnavailable = eris.New("sources: upstream source unavailable")

// FetchResult carries one adapter call's output: raw features in retrieval
// order plus any non-fatal warnings accumulated along the way.
type FetchResult struct {
	Features []model.RawFeature
	Warnings []model.Warning
}

// Adapter fetches the raw features of one layer for an AOI. Each call
// re-fetches from scratch; results are complete, never partial streams.
type Adapter interface {
	// Layer returns the layer this adapter feeds.
	Layer() model.LayerID

	// Fetch retrieves every raw feature whose payload region overlaps the
	// AOI, in stable retrieval order.
	Fetch(ctx context.Context, area *aoi.AOI) (*FetchResult, error)
}
