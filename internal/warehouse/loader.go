// Package warehouse bulk-loads imaging metadata into PostgreSQL.
package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/theranostics/internal/imaging"
)

// Table receives one row per extracted file.
const Table = "imaging_metadata"

const schemaSQL = `CREATE TABLE IF NOT EXISTS imaging_metadata (
    run_id              TEXT NOT NULL,
    study_instance_uid  TEXT NOT NULL DEFAULT '',
    series_instance_uid TEXT NOT NULL DEFAULT '',
    sop_instance_uid    TEXT NOT NULL DEFAULT '',
    patient_id          TEXT NOT NULL DEFAULT '',
    modality            TEXT NOT NULL DEFAULT '',
    study_date          TEXT NOT NULL DEFAULT '',
    manufacturer        TEXT NOT NULL DEFAULT '',
    file_path           TEXT NOT NULL,
    loaded_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_imaging_metadata_run ON imaging_metadata (run_id);
CREATE INDEX IF NOT EXISTS idx_imaging_metadata_study ON imaging_metadata (study_instance_uid)`

// DB is satisfied by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type Loader struct {
	db DB
}

func NewLoader(db DB) *Loader {
	return &Loader{db: db}
}

// EnsureSchema creates the target table and indexes when missing.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure %s schema: %w", Table, err)
	}
	return nil
}

// Columns returns the COPY column list: run_id followed by the record
// columns.
func Columns() []string {
	return append([]string{"run_id"}, imaging.Columns...)
}

// Load copies records tagged with runID and returns the number of rows
// written. Empty input is a no-op.
func (l *Loader) Load(ctx context.Context, runID string, records []imaging.MetadataRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	src := pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		vals := records[i].Values()
		row := make([]any, 0, len(vals)+1)
		row = append(row, runID)
		for _, v := range vals {
			row = append(row, v)
		}
		return row, nil
	})

	n, err := l.db.CopyFrom(ctx, pgx.Identifier{Table}, Columns(), src)
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", Table, err)
	}
	return n, nil
}
