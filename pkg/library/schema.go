package library

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// migrate creates (or upgrades) the library schema in-place.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS media_files (
			file_id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			name TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			mtime TEXT NOT NULL,
			added_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			-- missing_at marks files no longer present in the source (soft delete).
			missing_at TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_media_files_path_active
			ON media_files(path) WHERE missing_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_media_files_missing_at ON media_files(missing_at);`,
		`CREATE INDEX IF NOT EXISTS idx_media_files_name_size ON media_files(name, size_bytes);`,

		`CREATE TABLE IF NOT EXISTS analysis_results (
			result_id TEXT PRIMARY KEY,
			file_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			external_job_id TEXT,
			status TEXT NOT NULL,
			payload TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(file_id, kind),
			FOREIGN KEY(file_id) REFERENCES media_files(file_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_results_file_id ON analysis_results(file_id);`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_results_kind ON analysis_results(kind);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current != schemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, schemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
