package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/golumen/pkg/jobs"
)

func newTestCoordinator() *Coordinator {
	return New(jobs.NewRegistry(), zap.NewNop())
}

func itemIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item-%d", i+1)
	}
	return out
}

func TestSubmit_AllItemsSucceed(t *testing.T) {
	c := newTestCoordinator()

	var processed int64
	jobID, err := c.Submit(context.Background(), itemIDs(10), func(context.Context, string) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}, Options{Concurrency: 3})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := c.Wait(context.Background(), jobID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	snap, err := c.Status(jobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Status != jobs.StatusSucceeded {
		t.Fatalf("status mismatch: got=%q", snap.Status)
	}
	if snap.CompletedItems != 10 || snap.FailedItems != 0 {
		t.Fatalf("counters mismatch: %+v", snap)
	}
	if atomic.LoadInt64(&processed) != 10 {
		t.Fatalf("processed %d items, want 10", processed)
	}
}

// The core partial-failure guarantee: one bad item never aborts the batch.
func TestSubmit_PartialFailure(t *testing.T) {
	c := newTestCoordinator()

	jobID, err := c.Submit(context.Background(), itemIDs(5), func(_ context.Context, itemID string) error {
		if itemID == "item-3" {
			return errors.New("decode failed")
		}
		return nil
	}, Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Wait(context.Background(), jobID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	snap, _ := c.Status(jobID)
	if snap.Status != jobs.StatusSucceeded {
		t.Fatalf("batch with item failures must still complete, got %q", snap.Status)
	}
	if snap.CompletedItems != 4 || snap.FailedItems != 1 {
		t.Fatalf("counters mismatch: completed=%d failed=%d", snap.CompletedItems, snap.FailedItems)
	}
	if len(snap.Errors) != 1 || snap.Errors[0].ItemID != "item-3" {
		t.Fatalf("errors mismatch: %+v", snap.Errors)
	}
}

func TestCancel_StopsDispatchAndSettlesCancelled(t *testing.T) {
	c := newTestCoordinator()

	started := make(chan string, 10)
	release := make(chan struct{})
	var startedCount int64

	jobID, err := c.Submit(context.Background(), itemIDs(10), func(_ context.Context, itemID string) error {
		atomic.AddInt64(&startedCount, 1)
		started <- itemID
		<-release
		return nil
	}, Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Wait until two items are in flight, then cancel.
	<-started
	<-started
	if err := c.Cancel(jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	if err := c.Wait(context.Background(), jobID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	snap, _ := c.Status(jobID)
	if snap.Status != jobs.StatusCancelled {
		t.Fatalf("status mismatch: got=%q want=%q", snap.Status, jobs.StatusCancelled)
	}
	done := snap.CompletedItems + snap.FailedItems
	if done > 2 {
		t.Fatalf("items drained after cancel: %d > 2", done)
	}
	if got := atomic.LoadInt64(&startedCount); got > 2 {
		t.Fatalf("items dispatched after cancel: %d", got)
	}
}

func TestCancel_TerminalJobIsInvalidState(t *testing.T) {
	c := newTestCoordinator()

	jobID, _ := c.Submit(context.Background(), itemIDs(1), func(context.Context, string) error {
		return nil
	}, Options{})
	_ = c.Wait(context.Background(), jobID)

	if err := c.Cancel(jobID); !errors.Is(err, jobs.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// A panic escaping a work function is a coordinator fault: the batch is
// FAILED, unlike ordinary item errors.
func TestSubmit_WorkerPanicFailsBatch(t *testing.T) {
	c := newTestCoordinator()

	jobID, err := c.Submit(context.Background(), itemIDs(6), func(_ context.Context, itemID string) error {
		if itemID == "item-2" {
			panic("corrupted work table")
		}
		return nil
	}, Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Wait(context.Background(), jobID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	job, err := c.Registry().Get(jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != jobs.StatusFailed {
		t.Fatalf("status mismatch: got=%q want=%q", job.Status, jobs.StatusFailed)
	}
	if job.Fault == "" {
		t.Fatalf("fault message missing")
	}
}

func TestSubmit_EmptyBatchSettlesImmediately(t *testing.T) {
	c := newTestCoordinator()

	jobID, err := c.Submit(context.Background(), nil, func(context.Context, string) error {
		t.Fatal("work function must not run for an empty batch")
		return nil
	}, Options{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Wait(context.Background(), jobID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	snap, _ := c.Status(jobID)
	if snap.Status != jobs.StatusSucceeded || snap.TotalItems != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSubmit_ConcurrencyIsBounded(t *testing.T) {
	c := newTestCoordinator()

	var inFlight, peak int64
	var mu sync.Mutex

	jobID, err := c.Submit(context.Background(), itemIDs(20), func(context.Context, string) error {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	}, Options{Concurrency: 3})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Wait(context.Background(), jobID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 3 {
		t.Fatalf("worker pool exceeded concurrency limit: peak=%d", peak)
	}
}

func TestWithDefaultConcurrency_BoundsPool(t *testing.T) {
	c := New(jobs.NewRegistry(), zap.NewNop(), WithDefaultConcurrency(2))

	var inFlight, peak int64
	var mu sync.Mutex

	jobID, err := c.Submit(context.Background(), itemIDs(12), func(context.Context, string) error {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	}, Options{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Wait(context.Background(), jobID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Fatalf("pool exceeded configured default: peak=%d", peak)
	}
}

func TestWithDefaultConcurrency_IgnoresNonPositive(t *testing.T) {
	c := New(jobs.NewRegistry(), zap.NewNop(), WithDefaultConcurrency(0))
	if c.defaultConcurrency != DefaultConcurrency {
		t.Fatalf("zero should keep the default, got %d", c.defaultConcurrency)
	}
	c = New(jobs.NewRegistry(), zap.NewNop(), WithDefaultConcurrency(-1))
	if c.defaultConcurrency != DefaultConcurrency {
		t.Fatalf("negative should keep the default, got %d", c.defaultConcurrency)
	}
}

func TestWait_UnknownJob(t *testing.T) {
	c := newTestCoordinator()
	if err := c.Wait(context.Background(), "nope"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
