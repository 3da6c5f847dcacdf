package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/atlas-group/aoi-extract/internal/db"
	"github.com/atlas-group/aoi-extract/internal/model"
)

// PostgresStore implements Store on PostgreSQL. Geometries are written as
// EWKB so a PostGIS geometry column can index them; features load through
// the COPY protocol.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	bbox       JSONB NOT NULL,
	area_km2   DOUBLE PRECISION NOT NULL,
	layers     JSONB NOT NULL,
	format     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_features (
	id        BIGSERIAL PRIMARY KEY,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	layer     TEXT NOT NULL,
	source_id TEXT,
	tile      TEXT,
	attrs     JSONB NOT NULL,
	geometry  BYTEA NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_features_run_id ON run_features(run_id);
CREATE INDEX IF NOT EXISTS idx_run_features_layer ON run_features(run_id, layer);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, bbox [4]float64, areaKm2 float64, layers []model.LayerID, format string) (*model.Run, error) {
	run := newRun(bbox, areaKm2, layers, format)

	bboxJSON, _ := json.Marshal(run.BBox)
	layersJSON, _ := json.Marshal(run.Layers)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, bbox, area_km2, layers, format, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, bboxJSON, run.AreaKm2, layersJSON, run.Format,
		string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusCompleted), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, bbox, area_km2, layers, format, status, result, created_at, updated_at
		 FROM runs WHERE id = $1`,
		runID,
	)
	return scanPGRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, bbox, area_km2, layers, format, status, result, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	if filter.Layer != "" {
		args = append(args, string(filter.Layer))
		query += ` AND layers ? $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPGRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveLayerFeatures(ctx context.Context, runID string, layer model.Layer) (int, error) {
	rows := make([][]any, 0, len(layer.Features))
	for _, f := range layer.Features {
		attrsJSON, err := json.Marshal(f.Attrs)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal attrs")
		}
		geomEWKB, err := EncodeEWKB(f.Geometry)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{runID, string(layer.ID), f.SourceID, f.Tile, attrsJSON, geomEWKB})
	}

	n, err := db.CopyFrom(ctx, s.pool, "run_features",
		[]string{"run_id", "layer", "source_id", "tile", "attrs", "geometry"}, rows)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanPGRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var bboxJSON, layersJSON []byte
	var resultJSON []byte

	err := row.Scan(&r.ID, &bboxJSON, &r.AreaKm2, &layersJSON, &r.Format,
		&r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if err := json.Unmarshal(bboxJSON, &r.BBox); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal bbox")
	}
	if err := json.Unmarshal(layersJSON, &r.Layers); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal layers")
	}
	if len(resultJSON) > 0 {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}
