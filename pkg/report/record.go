// Package report provides JSONL output for rescan and batch runs.
//
// Output is structured as typed record envelopes containing per-item
// results, errors, and progress updates. Each line is a self-contained
// JSON object that can be parsed independently.
package report

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: golumen.<type>.v<version>
const (
	// TypeItem identifies per-item result records.
	TypeItem = "golumen.item.v1"

	// TypeError identifies error records.
	TypeError = "golumen.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "golumen.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "golumen.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "golumen.item.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this run.
	JobID string `json:"job_id"`

	// Source identifies the media source backend (e.g., "file", "s3").
	Source string `json:"source"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ItemRecord is the data payload for a single processed item.
type ItemRecord struct {
	// ItemID identifies the item within the run (file ID or path).
	ItemID string `json:"item_id"`

	// Path is the source path of the item, if applicable.
	Path string `json:"path,omitempty"`

	// Action describes what happened to the item
	// (e.g., "matched", "moved", "deleted", "new", "analyzed").
	Action string `json:"action"`

	// Detail carries action-specific context.
	Detail any `json:"detail,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire run,
// allowing partial results when some items fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// ItemID is the item related to this error, if applicable.
	ItemID string `json:"item_id,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the item was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted periodically during long-running
// batches to provide visibility into where a run stands.
type ProgressRecord struct {
	// Phase indicates the current run phase.
	Phase string `json:"phase"`

	// TotalItems is the number of items in the run.
	TotalItems int `json:"total_items"`

	// CompletedItems is the number of items that succeeded so far.
	CompletedItems int `json:"completed_items"`

	// FailedItems is the number of items that failed so far.
	FailedItems int `json:"failed_items"`

	// CurrentItem is the item in flight, if applicable.
	CurrentItem string `json:"current_item,omitempty"`
}

// Progress phase constants.
const (
	// PhaseStarting indicates the run is initializing.
	PhaseStarting = "starting"

	// PhaseListing indicates source entries are being listed.
	PhaseListing = "listing"

	// PhaseReconciling indicates library reconciliation is in progress.
	PhaseReconciling = "reconciling"

	// PhaseApplying indicates library changes are being applied.
	PhaseApplying = "applying"

	// PhaseComplete indicates the run has finished.
	PhaseComplete = "complete"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	// Status is the terminal job status of the run.
	Status string `json:"status"`

	// TotalItems is the number of items in the run.
	TotalItems int `json:"total_items"`

	// CompletedItems is the number of items that succeeded.
	CompletedItems int `json:"completed_items"`

	// FailedItems is the number of items that failed.
	FailedItems int `json:"failed_items"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Errors is the count of errors encountered.
	Errors int `json:"errors"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "report: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
