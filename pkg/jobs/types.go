// Package jobs tracks the lifecycle of every long-running unit of work:
// single-file analyses, multi-file batch runs, and rescan imports.
//
// The registry is the single source of truth for job state. Workers never
// mutate a Job directly; they go through registry mutators so that counter
// updates on one job are serialized without contending with unrelated jobs.
package jobs

import "time"

// Kind distinguishes a single tracked operation from a fanned-out batch.
type Kind string

const (
	KindSingleItem Kind = "single_item"
	KindBatch      Kind = "batch"
)

// Status is the lifecycle state of a tracked job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract. SUCCEEDED, FAILED, and CANCELLED are terminal: once a
// job reaches one of them it never transitions again.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ItemError records one failed work item. The list on a Job is append-only.
type ItemError struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// Job is the persistent record for a tracked unit of work.
//
// The schema is designed for backward-compatible extension (additive fields).
type Job struct {
	ID   string `json:"job_id"`
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`

	Status Status `json:"status"`

	TotalItems      int `json:"total_items"`
	CompletedItems  int `json:"completed_items"`
	FailedItems     int `json:"failed_items"`
	DispatchedItems int `json:"dispatched_items"`

	// CurrentItem is the most recently dispatched item. Best-effort under
	// concurrency; cleared on terminal transition.
	CurrentItem string `json:"current_item,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Errors []ItemError `json:"errors,omitempty"`

	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Fault holds the coordinator fault message for FAILED jobs. Per-item
	// failures live in Errors and never set this.
	Fault string `json:"fault,omitempty"`
}

// Snapshot is a point-in-time progress view of a job.
type Snapshot struct {
	JobID          string      `json:"job_id"`
	Kind           Kind        `json:"kind"`
	Status         Status      `json:"status"`
	TotalItems     int         `json:"total_items"`
	CompletedItems int         `json:"completed_items"`
	FailedItems    int         `json:"failed_items"`
	CurrentItem    string      `json:"current_item,omitempty"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	ETASeconds     float64     `json:"eta_seconds"`
	Errors         []ItemError `json:"errors,omitempty"`
}

// Snapshot derives a progress view at the given time.
//
// The ETA is advisory: remaining work scaled by observed throughput. It is
// clamped at zero and never divides by zero.
func (j *Job) Snapshot(now time.Time) Snapshot {
	start := j.CreatedAt
	if j.StartedAt != nil {
		start = *j.StartedAt
	}
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	elapsed := end.Sub(start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	done := j.CompletedItems + j.FailedItems
	remaining := j.TotalItems - done
	var eta float64
	if !j.Status.Terminal() && remaining > 0 {
		divisor := done
		if divisor < 1 {
			divisor = 1
		}
		eta = elapsed * float64(remaining) / float64(divisor)
	}
	if eta < 0 {
		eta = 0
	}

	errs := make([]ItemError, len(j.Errors))
	copy(errs, j.Errors)

	return Snapshot{
		JobID:          j.ID,
		Kind:           j.Kind,
		Status:         j.Status,
		TotalItems:     j.TotalItems,
		CompletedItems: j.CompletedItems,
		FailedItems:    j.FailedItems,
		CurrentItem:    j.CurrentItem,
		ElapsedSeconds: elapsed,
		ETASeconds:     eta,
		Errors:         errs,
	}
}

// clone returns a deep copy safe to hand to callers outside the job lock.
func (j *Job) clone() Job {
	out := *j
	out.Errors = make([]ItemError, len(j.Errors))
	copy(out.Errors, j.Errors)
	return out
}
