// Package batch fans a list of work items out across a bounded worker pool
// and tracks progress through the job registry.
//
// The coordinator is generic over the work function: it never interprets
// item identifiers and never branches on what kind of analysis an item
// represents. A single item's failure is recorded and never aborts the
// batch; only a fault in the pool itself (a panic escaping a work
// function) fails the batch as a whole.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/golumen/pkg/jobs"
)

// WorkFunc processes one item. It may block on provider I/O or on retry
// backoff; the pool size bounds how many run at once.
type WorkFunc func(ctx context.Context, itemID string) error

// DefaultConcurrency is the worker pool size when the caller does not
// choose one. It is a fixed cap, not proportional to batch size, so one
// huge batch cannot stampede the external providers.
const DefaultConcurrency = 4

// Options tunes one submission.
type Options struct {
	// Name is an optional operator-facing label for the job.
	Name string

	// Concurrency is the worker pool size. Zero or negative uses the
	// coordinator default.
	Concurrency int
}

// Coordinator schedules batches. Safe for concurrent use.
type Coordinator struct {
	registry *jobs.Registry
	logger   *zap.Logger

	defaultConcurrency int

	mu   sync.Mutex
	done map[string]chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDefaultConcurrency sets the pool size used when a submission does
// not choose one. Zero or negative keeps DefaultConcurrency.
func WithDefaultConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.defaultConcurrency = n
		}
	}
}

// New creates a coordinator backed by the given registry.
func New(registry *jobs.Registry, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		registry:           registry,
		logger:             logger,
		defaultConcurrency: DefaultConcurrency,
		done:               make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the backing registry for callers that need direct
// lookups (listing, deletion).
func (c *Coordinator) Registry() *jobs.Registry {
	return c.registry
}

// Submit creates a batch job for the items and starts the worker pool.
// It returns as soon as the job is registered; progress is observed via
// Status and completion via Wait.
//
// The pool runs detached from the submitting request's cancellation:
// batches outlive HTTP requests and are stopped through Cancel, not
// through context teardown.
func (c *Coordinator) Submit(ctx context.Context, items []string, work WorkFunc, opts Options) (string, error) {
	if work == nil {
		return "", fmt.Errorf("work function is required")
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = c.defaultConcurrency
	}
	if concurrency > len(items) && len(items) > 0 {
		concurrency = len(items)
	}

	jobID, err := c.registry.Create(jobs.KindBatch, opts.Name, len(items))
	if err != nil {
		return "", err
	}

	doneCh := make(chan struct{})
	c.mu.Lock()
	c.done[jobID] = doneCh
	c.mu.Unlock()

	if len(items) == 0 {
		// Nothing to do; settle immediately.
		_, _ = c.registry.Advance(jobID)
		close(doneCh)
		return jobID, nil
	}

	c.logger.Info("batch submitted",
		zap.String("job_id", jobID),
		zap.String("name", opts.Name),
		zap.Int("total_items", len(items)),
		zap.Int("concurrency", concurrency))

	go c.run(context.WithoutCancel(ctx), jobID, items, work, concurrency, doneCh)

	return jobID, nil
}

// Cancel requests cooperative cancellation. It returns immediately;
// in-flight items finish and the batch settles as CANCELLED once they
// drain. Cancelling a terminal job returns jobs.ErrInvalidState.
func (c *Coordinator) Cancel(jobID string) error {
	return c.registry.RequestCancel(jobID)
}

// Status returns the progress snapshot for a job.
func (c *Coordinator) Status(jobID string) (jobs.Snapshot, error) {
	return c.registry.Snapshot(jobID)
}

// Wait blocks until the job's worker pool has exited or the context is
// cancelled. Jobs not started by this coordinator instance (e.g. read
// from the persisted store) report completion from their registry status.
func (c *Coordinator) Wait(ctx context.Context, jobID string) error {
	c.mu.Lock()
	ch, ok := c.done[jobID]
	c.mu.Unlock()

	if !ok {
		job, err := c.registry.Get(jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
		return fmt.Errorf("job %s is not managed by this coordinator", jobID)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Forget drops completion bookkeeping for a job. Called when the owning
// job record is deleted.
func (c *Coordinator) Forget(jobID string) {
	c.mu.Lock()
	delete(c.done, jobID)
	c.mu.Unlock()
}

// run feeds the item channel and drives the worker pool to completion.
func (c *Coordinator) run(ctx context.Context, jobID string, items []string, work WorkFunc, concurrency int, doneCh chan struct{}) {
	defer close(doneCh)

	itemCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, jobID, itemCh, work)
		}()
	}

	// Feed items. Workers stop receiving once cancellation or a fault
	// makes BeginItem refuse, so watch for early pool exit to avoid
	// blocking on a channel nobody reads.
	poolExited := make(chan struct{})
	go func() {
		wg.Wait()
		close(poolExited)
	}()

feed:
	for _, itemID := range items {
		select {
		case itemCh <- itemID:
		case <-poolExited:
			break feed
		}
	}
	close(itemCh)
	<-poolExited

	// Final advance settles the cancel-after-drain transition; successful
	// completion has already been settled by the last counter update.
	status, err := c.registry.Advance(jobID)
	if err != nil {
		c.logger.Error("batch finalize failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	snap, _ := c.registry.Snapshot(jobID)
	c.logger.Info("batch finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Int("completed", snap.CompletedItems),
		zap.Int("failed", snap.FailedItems),
		zap.Int("total", snap.TotalItems))
}

// worker pulls items until the channel closes, cancellation is observed,
// or the job becomes terminal. A panic escaping the work function is a
// coordinator fault: the whole batch is failed and every worker winds
// down as its next BeginItem is refused.
func (c *Coordinator) worker(ctx context.Context, jobID string, itemCh <-chan string, work WorkFunc) {
	for itemID := range itemCh {
		begun, err := c.registry.BeginItem(jobID, itemID)
		if err != nil {
			// Terminal job (fault elsewhere) or registry trouble; stop.
			if !errors.Is(err, jobs.ErrInvalidState) {
				c.logger.Error("begin item failed", zap.String("job_id", jobID), zap.Error(err))
			}
			return
		}
		if !begun {
			// Cancellation observed: stop pulling, leave the rest
			// undispatched. Items already running elsewhere finish.
			return
		}

		itemErr, panicked := c.runItem(ctx, work, itemID)
		if panicked {
			c.logger.Error("worker panic",
				zap.String("job_id", jobID),
				zap.String("item_id", itemID),
				zap.Error(itemErr))
			_ = c.registry.Fail(jobID, itemErr.Error())
			return
		}
		if itemErr != nil {
			_ = c.registry.MarkItemFailed(jobID, itemID, itemErr.Error())
			continue
		}
		_ = c.registry.MarkItemDone(jobID, itemID)
	}
}

func (c *Coordinator) runItem(ctx context.Context, work WorkFunc, itemID string) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic processing item %s: %v", itemID, r)
		}
	}()
	return work(ctx, itemID), false
}
