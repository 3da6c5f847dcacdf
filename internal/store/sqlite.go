package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/atlas-group/aoi-extract/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Geometries are
// stored as GeoJSON text since sqlite carries no spatial types.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	bbox       TEXT NOT NULL,
	area_km2   REAL NOT NULL,
	layers     TEXT NOT NULL,
	format     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_features (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	layer     TEXT NOT NULL,
	source_id TEXT,
	tile      TEXT,
	attrs     TEXT NOT NULL,
	geometry  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_features_run_id ON run_features(run_id);
CREATE INDEX IF NOT EXISTS idx_run_features_layer ON run_features(run_id, layer);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, bbox [4]float64, areaKm2 float64, layers []model.LayerID, format string) (*model.Run, error) {
	run := newRun(bbox, areaKm2, layers, format)

	bboxJSON, _ := json.Marshal(run.BBox)
	layersJSON, _ := json.Marshal(run.Layers)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, bbox, area_km2, layers, format, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(bboxJSON), run.AreaKm2, string(layersJSON), run.Format,
		string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusCompleted), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, bbox, area_km2, layers, format, status, result, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, bbox, area_km2, layers, format, status, result, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Layer != "" {
		query += ` AND layers LIKE ?`
		args = append(args, `%"`+string(filter.Layer)+`"%`)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveLayerFeatures(ctx context.Context, runID string, layer model.Layer) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_features (run_id, layer, source_id, tile, attrs, geometry)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	var written int
	for _, f := range layer.Features {
		attrsJSON, err := json.Marshal(f.Attrs)
		if err != nil {
			return written, eris.Wrap(err, "sqlite: marshal attrs")
		}
		geomJSON, err := json.Marshal(geojson.NewGeometry(f.Geometry))
		if err != nil {
			return written, eris.Wrap(err, "sqlite: marshal geometry")
		}
		if _, err := stmt.ExecContext(ctx,
			runID, string(layer.ID), f.SourceID, f.Tile, string(attrsJSON), string(geomJSON),
		); err != nil {
			return written, eris.Wrap(err, "sqlite: insert feature")
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, eris.Wrap(err, "sqlite: commit")
	}
	return written, nil
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var bboxJSON, layersJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &bboxJSON, &r.AreaKm2, &layersJSON, &r.Format,
		&r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(bboxJSON), &r.BBox); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal bbox")
	}
	if err := json.Unmarshal([]byte(layersJSON), &r.Layers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal layers")
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
