// Package poller caches the status of long-lived external jobs (a
// video-analysis job id, a model-batch-inference ARN) behind a pull-based
// query with an adaptive cache policy.
//
// Callers may poll as often as they like; while a handle is non-terminal
// the poller issues at most one remote query per cache window, and once a
// terminal status has been observed it never queries the provider for that
// handle again. Terminal external states are immutable by definition, and
// providers may refuse status queries for completed jobs indefinitely.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound indicates an unknown handle id.
var ErrNotFound = errors.New("handle not found")

// DefaultCacheTTL bounds remote polling to roughly two calls per minute
// per in-flight handle.
const DefaultCacheTTL = 30 * time.Second

// Status is the last-observed state of an external job.
type Status struct {
	// State is the provider-specific status value (e.g. "IN_PROGRESS").
	State string `json:"state"`

	// Terminal reports whether the external job has finished. Terminal
	// statuses are frozen and never re-queried.
	Terminal bool `json:"terminal"`

	// Payload is the parsed result document, populated once terminal.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PollFunc performs one remote status query for an external job id.
type PollFunc func(ctx context.Context, externalID string) (Status, error)

// Handle is a read-only view of one tracked external job, for inspection
// and reporting.
type Handle struct {
	ID            string    `json:"handle_id"`
	ExternalID    string    `json:"external_id"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	CacheUntil    time.Time `json:"cache_until"`
	Last          Status    `json:"last_status"`
	RemoteCalls   int64     `json:"remote_calls"`
}

type handle struct {
	// mu is held across the remote call so that concurrent callers with a
	// stale cache wait for the single in-flight query instead of issuing
	// duplicates.
	mu sync.Mutex

	externalID  string
	lastChecked time.Time
	cacheUntil  time.Time
	last        Status
	checked     bool
	remoteCalls int64
}

// Poller tracks external job handles and serves their status through the
// cache policy. Safe for concurrent use; contention is per handle, never
// global.
type Poller struct {
	mu      sync.RWMutex
	handles map[string]*handle

	poll  PollFunc
	ttl   time.Duration
	clock func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithCacheTTL overrides the non-terminal cache window.
func WithCacheTTL(ttl time.Duration) Option {
	return func(p *Poller) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.clock = now }
}

// New creates a poller that uses poll for remote queries.
func New(poll PollFunc, opts ...Option) *Poller {
	p := &Poller{
		handles: make(map[string]*handle),
		poll:    poll,
		ttl:     DefaultCacheTTL,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register starts tracking an external job under the given handle id.
// Registering an id twice is an error; handle ids follow the owning job
// and are never reused.
func (p *Poller) Register(handleID, externalID string) error {
	if handleID == "" || externalID == "" {
		return fmt.Errorf("handle id and external id are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.handles[handleID]; exists {
		return fmt.Errorf("handle %s already registered", handleID)
	}
	p.handles[handleID] = &handle{externalID: externalID}
	return nil
}

// Forget stops tracking a handle. Called when the owning job is deleted.
func (p *Poller) Forget(handleID string) {
	p.mu.Lock()
	delete(p.handles, handleID)
	p.mu.Unlock()
}

// Status returns the current status of the handle, consulting the cache
// first.
//
// A remote query failure is returned to the caller without advancing the
// cache window, so the next call retries immediately instead of being
// locked out for a full window by a failed check.
func (p *Poller) Status(ctx context.Context, handleID string) (Status, error) {
	h, err := p.lookup(handleID)
	if err != nil {
		return Status{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.last.Terminal {
		return h.last, nil
	}
	now := p.clock()
	if h.checked && now.Before(h.cacheUntil) {
		return h.last, nil
	}

	st, err := p.poll(ctx, h.externalID)
	h.remoteCalls++
	if err != nil {
		return Status{}, fmt.Errorf("poll %s: %w", h.externalID, err)
	}

	h.checked = true
	h.lastChecked = now
	h.last = st
	if st.Terminal {
		// Frozen forever; cacheUntil is irrelevant from here on.
		h.cacheUntil = time.Time{}
	} else {
		h.cacheUntil = now.Add(p.ttl)
	}
	return st, nil
}

// Handle returns the bookkeeping view of a tracked handle.
func (p *Poller) Handle(handleID string) (Handle, error) {
	h, err := p.lookup(handleID)
	if err != nil {
		return Handle{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return Handle{
		ID:            handleID,
		ExternalID:    h.externalID,
		LastCheckedAt: h.lastChecked,
		CacheUntil:    h.cacheUntil,
		Last:          h.last,
		RemoteCalls:   h.remoteCalls,
	}, nil
}

func (p *Poller) lookup(handleID string) (*handle, error) {
	p.mu.RLock()
	h, ok := p.handles[handleID]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("handle %s: %w", handleID, ErrNotFound)
	}
	return h, nil
}
