package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrResultNotFound indicates the requested analysis result does not exist.
var ErrResultNotFound = errors.New("analysis result not found")

// AnalysisResult represents a row in the analysis_results table.
//
// One row exists per (file, kind) pair; re-running an analysis
// replaces the previous result.
type AnalysisResult struct {
	ResultID      string
	FileID        string
	Kind          string
	ExternalJobID string
	Status        string
	Payload       []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UpsertResult inserts or replaces the analysis result for a (file, kind) pair.
func (s *Store) UpsertResult(ctx context.Context, fileID, kind, externalJobID, status string, payload []byte) (*AnalysisResult, error) {
	now := time.Now().UTC()
	res := &AnalysisResult{
		ResultID:      uuid.New().String(),
		FileID:        fileID,
		Kind:          kind,
		ExternalJobID: externalJobID,
		Status:        status,
		Payload:       payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_results
		 (result_id, file_id, kind, external_job_id, status, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_id, kind) DO UPDATE SET
		   external_job_id = excluded.external_job_id,
		   status = excluded.status,
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		res.ResultID, res.FileID, res.Kind, res.ExternalJobID, res.Status,
		payloadValue(res.Payload), formatTime(res.CreatedAt), formatTime(res.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert analysis result: %w", err)
	}

	return s.GetResult(ctx, fileID, kind)
}

// GetResult retrieves the analysis result for a (file, kind) pair.
func (s *Store) GetResult(ctx context.Context, fileID, kind string) (*AnalysisResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result_id, file_id, kind, external_job_id, status, payload, created_at, updated_at
		 FROM analysis_results
		 WHERE file_id = ? AND kind = ?`,
		fileID, kind)

	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	return res, err
}

// ListResults returns all analysis results for a file, ordered by kind.
func (s *Store) ListResults(ctx context.Context, fileID string) ([]AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result_id, file_id, kind, external_job_id, status, payload, created_at, updated_at
		 FROM analysis_results
		 WHERE file_id = ?
		 ORDER BY kind`,
		fileID)
	if err != nil {
		return nil, fmt.Errorf("list analysis results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []AnalysisResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis results: %w", err)
	}
	return results, nil
}

func scanResult(row rowScanner) (*AnalysisResult, error) {
	var res AnalysisResult
	var externalRaw, payloadRaw sql.NullString
	var createdRaw, updatedRaw string

	err := row.Scan(&res.ResultID, &res.FileID, &res.Kind, &externalRaw,
		&res.Status, &payloadRaw, &createdRaw, &updatedRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan analysis result: %w", err)
	}

	res.ExternalJobID = externalRaw.String
	if payloadRaw.Valid {
		res.Payload = []byte(payloadRaw.String)
	}
	if res.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if res.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &res, nil
}

func payloadValue(payload []byte) any {
	if payload == nil {
		return nil
	}
	return string(payload)
}
