package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by registry operations.
var (
	// ErrNotFound indicates an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidState indicates an operation the job state machine forbids,
	// e.g. deleting a non-terminal job or cancelling a terminal one.
	ErrInvalidState = errors.New("invalid job state")
)

// Registry owns all Job records for the process.
//
// Locking is two-level: a registry mutex guards only the map of entries,
// and each entry carries its own mutex serializing mutations to that job.
// Unrelated batches therefore never contend on a shared lock, and no lock
// is ever held across I/O.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store *Store // optional write-through persistence
	clock func() time.Time
}

type entry struct {
	mu  sync.Mutex
	job Job
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore enables best-effort write-through persistence of job records.
// Store failures never fail a mutation; the in-memory record stays
// authoritative.
func WithStore(s *Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.clock = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new job and returns its id. Ids are unique and never
// reused.
func (r *Registry) Create(kind Kind, name string, totalItems int) (string, error) {
	if totalItems < 0 {
		return "", fmt.Errorf("total_items must be >= 0, got %d", totalItems)
	}

	job := Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Name:       name,
		Status:     StatusSubmitted,
		TotalItems: totalItems,
		CreatedAt:  r.clock().UTC(),
	}

	r.mu.Lock()
	r.entries[job.ID] = &entry{job: job}
	r.mu.Unlock()

	r.persist(job)
	return job.ID, nil
}

// Get returns a copy of the job record.
func (r *Registry) Get(jobID string) (Job, error) {
	e, err := r.lookup(jobID)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone(), nil
}

// List returns copies of all jobs matching the filter, newest first.
func (r *Registry) List(filter Filter) []Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		job := e.job.clone()
		e.mu.Unlock()
		if filter.matches(job) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Kind     Kind
	Status   Status
	Terminal *bool
}

func (f Filter) matches(j Job) bool {
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Terminal != nil && j.Status.Terminal() != *f.Terminal {
		return false
	}
	return true
}

// Update applies one atomic mutation to the job under its lock, then runs
// the state machine advance. The mutator must not block or perform I/O.
func (r *Registry) Update(jobID string, mutate func(*Job)) error {
	_, err := r.apply(jobID, func(j *Job) error {
		mutate(j)
		return nil
	})
	return err
}

// Delete removes a job. Only terminal jobs may be deleted; callers must
// cancel a running job first.
func (r *Registry) Delete(jobID string) error {
	e, err := r.lookup(jobID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if !e.job.Status.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("delete job %s in status %s: %w", jobID, e.job.Status, ErrInvalidState)
	}
	e.mu.Unlock()

	r.mu.Lock()
	delete(r.entries, jobID)
	r.mu.Unlock()

	if r.store != nil {
		_ = r.store.Delete(jobID)
	}
	return nil
}

// BeginItem records that a worker is starting the given item. It returns
// false without side effects when cancellation has been requested, which is
// the cooperative-cancellation checkpoint: the check and the dispatch count
// update happen under one lock, so no item can slip past a cancel.
//
// The first successful BeginItem moves the job from SUBMITTED to RUNNING.
func (r *Registry) BeginItem(jobID, itemID string) (bool, error) {
	begun := false
	_, err := r.apply(jobID, func(j *Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("begin item on job %s in status %s: %w", jobID, j.Status, ErrInvalidState)
		}
		if j.CancelRequested {
			return nil
		}
		if j.Status == StatusSubmitted {
			now := r.clock().UTC()
			j.Status = StatusRunning
			j.StartedAt = &now
		}
		j.DispatchedItems++
		j.CurrentItem = itemID
		begun = true
		return nil
	})
	return begun, err
}

// MarkItemDone records a successful item completion.
func (r *Registry) MarkItemDone(jobID, itemID string) error {
	_, err := r.apply(jobID, func(j *Job) error {
		j.CompletedItems++
		return nil
	})
	return err
}

// MarkItemFailed records a failed item. The failure is appended to the
// job's error list and never aborts the batch.
func (r *Registry) MarkItemFailed(jobID, itemID, message string) error {
	_, err := r.apply(jobID, func(j *Job) error {
		j.FailedItems++
		j.Errors = append(j.Errors, ItemError{ItemID: itemID, Message: message})
		return nil
	})
	return err
}

// RequestCancel sets the cancellation flag. It returns immediately; workers
// observe the flag cooperatively and in-flight items are allowed to finish.
// Cancelling a terminal job is an InvalidState error.
func (r *Registry) RequestCancel(jobID string) error {
	_, err := r.apply(jobID, func(j *Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("cancel job %s in status %s: %w", jobID, j.Status, ErrInvalidState)
		}
		j.CancelRequested = true
		return nil
	})
	return err
}

// Fail marks the whole job FAILED. Reserved for coordinator faults (worker
// pool crash); per-item failures go through MarkItemFailed.
func (r *Registry) Fail(jobID, message string) error {
	_, err := r.apply(jobID, func(j *Job) error {
		if j.Status.Terminal() {
			return nil
		}
		now := r.clock().UTC()
		j.Status = StatusFailed
		j.Fault = message
		j.CurrentItem = ""
		j.CompletedAt = &now
		return nil
	})
	return err
}

// Advance runs the state machine without any other mutation and returns the
// resulting status. Calling Advance on a terminal job is a no-op.
func (r *Registry) Advance(jobID string) (Status, error) {
	return r.apply(jobID, func(*Job) error { return nil })
}

// Snapshot returns the progress view of a job.
func (r *Registry) Snapshot(jobID string) (Snapshot, error) {
	e, err := r.lookup(jobID)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Snapshot(r.clock().UTC()), nil
}

func (r *Registry) lookup(jobID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return e, nil
}

// apply runs the mutation and the advance step under the job lock, then
// persists a copy outside the lock.
func (r *Registry) apply(jobID string, mutate func(*Job) error) (Status, error) {
	e, err := r.lookup(jobID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	if err := mutate(&e.job); err != nil {
		status := e.job.Status
		e.mu.Unlock()
		return status, err
	}
	r.advanceLocked(&e.job)
	job := e.job.clone()
	e.mu.Unlock()

	r.persist(job)
	return job.Status, nil
}

// advanceLocked applies the status transition rules. Terminal states are
// frozen, so re-running it is always a no-op once the job has finished.
//
// A job completes as SUCCEEDED when every item has been processed, even if
// some items failed (the failures are visible in Errors). It completes as
// CANCELLED when cancellation was requested and every dispatched item has
// drained before the batch could finish.
func (r *Registry) advanceLocked(j *Job) {
	if j.Status.Terminal() {
		return
	}

	done := j.CompletedItems + j.FailedItems
	switch {
	case done >= j.TotalItems:
		r.finishLocked(j, StatusSucceeded)
	case j.CancelRequested && done >= j.DispatchedItems:
		// No new items can begin once the flag is set, so the dispatch
		// count is frozen and drain is definitive.
		r.finishLocked(j, StatusCancelled)
	}
}

func (r *Registry) finishLocked(j *Job, status Status) {
	now := r.clock().UTC()
	j.Status = status
	j.CurrentItem = ""
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.CompletedAt = &now
}

func (r *Registry) persist(job Job) {
	if r.store == nil {
		return
	}
	// Best effort: the in-memory record is authoritative.
	_ = r.store.Write(&job)
}
