package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/golumen/pkg/reconcile"
)

// ErrFileNotFound indicates the requested media file does not exist.
var ErrFileNotFound = errors.New("media file not found")

// MediaFile represents a row in the media_files table.
type MediaFile struct {
	FileID    string
	Path      string
	Name      string
	SizeBytes int64
	MTime     time.Time
	AddedAt   time.Time
	UpdatedAt time.Time

	// MissingAt is set when the file is no longer present in the source.
	MissingAt *time.Time
}

// AddFile inserts a new active media file and returns it.
//
// The basename of the path becomes the file name used for fingerprinting.
func (s *Store) AddFile(ctx context.Context, filePath string, size int64, mtime time.Time) (*MediaFile, error) {
	now := time.Now().UTC()
	mf := &MediaFile{
		FileID:    uuid.New().String(),
		Path:      filePath,
		Name:      path.Base(filePath),
		SizeBytes: size,
		MTime:     mtime,
		AddedAt:   now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_files
		 (file_id, path, name, size_bytes, mtime, added_at, updated_at, missing_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		mf.FileID, mf.Path, mf.Name, mf.SizeBytes,
		formatTime(mf.MTime), formatTime(mf.AddedAt), formatTime(mf.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert media file: %w", err)
	}

	return mf, nil
}

// GetFile retrieves a media file by ID.
func (s *Store) GetFile(ctx context.Context, fileID string) (*MediaFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT file_id, path, name, size_bytes, mtime, added_at, updated_at, missing_at
		 FROM media_files
		 WHERE file_id = ?`,
		fileID)
	return scanMediaFile(row)
}

// GetFileByPath retrieves the active media file at the given path.
func (s *Store) GetFileByPath(ctx context.Context, filePath string) (*MediaFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT file_id, path, name, size_bytes, mtime, added_at, updated_at, missing_at
		 FROM media_files
		 WHERE path = ? AND missing_at IS NULL`,
		filePath)
	return scanMediaFile(row)
}

// ListActiveFiles returns all media files not marked missing, ordered by path.
func (s *Store) ListActiveFiles(ctx context.Context) ([]MediaFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, path, name, size_bytes, mtime, added_at, updated_at, missing_at
		 FROM media_files
		 WHERE missing_at IS NULL
		 ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list media files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []MediaFile
	for rows.Next() {
		mf, err := scanMediaFileRows(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *mf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media files: %w", err)
	}
	return files, nil
}

// UpdateFilePath records a detected move by pointing the file at its new path.
func (s *Store) UpdateFilePath(ctx context.Context, fileID, newPath string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE media_files
		 SET path = ?, name = ?, updated_at = ?
		 WHERE file_id = ?`,
		newPath, path.Base(newPath), formatTime(time.Now().UTC()), fileID)
	if err != nil {
		return fmt.Errorf("update media file path: %w", err)
	}
	return requireOneRow(result, fileID)
}

// UpdateFileStat refreshes size and mtime for a file that changed in place.
func (s *Store) UpdateFileStat(ctx context.Context, fileID string, size int64, mtime time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE media_files
		 SET size_bytes = ?, mtime = ?, updated_at = ?
		 WHERE file_id = ?`,
		size, formatTime(mtime), formatTime(time.Now().UTC()), fileID)
	if err != nil {
		return fmt.Errorf("update media file stat: %w", err)
	}
	return requireOneRow(result, fileID)
}

// MarkFileMissing soft-deletes a file that disappeared from the source.
// Marking an already-missing file is a no-op.
func (s *Store) MarkFileMissing(ctx context.Context, fileID string) error {
	now := formatTime(time.Now().UTC())
	result, err := s.db.ExecContext(ctx,
		`UPDATE media_files
		 SET missing_at = ?, updated_at = ?
		 WHERE file_id = ? AND missing_at IS NULL`,
		now, now, fileID)
	if err != nil {
		return fmt.Errorf("mark media file missing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish "already missing" from "unknown file".
		if _, err := s.GetFile(ctx, fileID); err != nil {
			return err
		}
	}
	return nil
}

// RecordedEntries returns all active files as reconciler input.
func (s *Store) RecordedEntries(ctx context.Context) ([]reconcile.RecordedEntry, error) {
	files, err := s.ListActiveFiles(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]reconcile.RecordedEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, reconcile.RecordedEntry{
			ID:    f.FileID,
			Path:  f.Path,
			Name:  f.Name,
			Size:  f.SizeBytes,
			MTime: f.MTime.Unix(),
		})
	}
	return entries, nil
}

func requireOneRow(result sql.Result, fileID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("media file %s: %w", fileID, ErrFileNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMediaFile(row *sql.Row) (*MediaFile, error) {
	mf, err := scanMediaFileRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	return mf, err
}

func scanMediaFileRows(row rowScanner) (*MediaFile, error) {
	var mf MediaFile
	var mtimeRaw, addedRaw, updatedRaw string
	var missingRaw sql.NullString

	err := row.Scan(&mf.FileID, &mf.Path, &mf.Name, &mf.SizeBytes,
		&mtimeRaw, &addedRaw, &updatedRaw, &missingRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan media file: %w", err)
	}

	if mf.MTime, err = parseTime(mtimeRaw); err != nil {
		return nil, fmt.Errorf("parse mtime: %w", err)
	}
	if mf.AddedAt, err = parseTime(addedRaw); err != nil {
		return nil, fmt.Errorf("parse added_at: %w", err)
	}
	if mf.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if missingRaw.Valid {
		t, err := parseTime(missingRaw.String)
		if err != nil {
			return nil, fmt.Errorf("parse missing_at: %w", err)
		}
		mf.MissingAt = &t
	}

	return &mf, nil
}

// Timestamps are stored as RFC 3339 text so rows stay readable with the
// sqlite3 shell and comparable with string ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
