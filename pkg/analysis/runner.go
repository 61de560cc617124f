package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/golumen/pkg/batch"
	"github.com/3leaps/golumen/pkg/library"
	"github.com/3leaps/golumen/pkg/poller"
	"github.com/3leaps/golumen/pkg/retry"
)

// DefaultPollInterval is how often the runner re-checks an in-flight
// external job between cache windows.
const DefaultPollInterval = 5 * time.Second

// maxPollFailures bounds consecutive remote poll failures before the
// item is failed.
const maxPollFailures = 5

// Runner drives analyses end to end: submit with retry, poll to a
// terminal state, record the result in the library.
type Runner struct {
	store        *library.Store
	client       Client
	poller       *poller.Poller
	policy       retry.Policy
	logger       *zap.Logger
	pollInterval time.Duration
	pollerOpts   []poller.Option
	sleep        func(ctx context.Context, d time.Duration) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRetryPolicy overrides the submit retry policy.
func WithRetryPolicy(p retry.Policy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// WithPollInterval overrides the poll re-check interval.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithPollerOptions passes options through to the status poller.
func WithPollerOptions(opts ...poller.Option) RunnerOption {
	return func(r *Runner) { r.pollerOpts = opts }
}

// NewRunner creates a runner backed by the given library store and
// analysis service client.
func NewRunner(store *library.Store, client Client, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		store:        store,
		client:       client,
		policy:       DefaultRetryPolicy(),
		logger:       logger,
		pollInterval: DefaultPollInterval,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.poller = poller.New(client.Poll, r.pollerOpts...)
	return r
}

// DefaultRetryPolicy is the submit retry policy: transient service
// errors retry with bounded exponential backoff, everything else fails
// immediately.
func DefaultRetryPolicy() retry.Policy {
	return retry.DefaultPolicy(IsTransient)
}

// Poller exposes the status poller for handle inspection.
func (r *Runner) Poller() *poller.Poller {
	return r.poller
}

// WorkFunc returns a batch work function that runs the given analysis
// kind for each item. Item IDs are library file IDs.
func (r *Runner) WorkFunc(kind Kind) batch.WorkFunc {
	return func(ctx context.Context, itemID string) error {
		return r.ProcessFile(ctx, itemID, kind)
	}
}

// ProcessFile runs one analysis for one file and stores the result.
func (r *Runner) ProcessFile(ctx context.Context, fileID string, kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown analysis kind %q", kind)
	}

	mf, err := r.store.GetFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	var externalID string
	err = retry.Do(ctx, r.policy, func(ctx context.Context) error {
		id, err := r.client.Submit(ctx, SubmitRequest{
			FileID:    mf.FileID,
			Path:      mf.Path,
			Kind:      kind,
			SizeBytes: mf.SizeBytes,
		})
		if err != nil {
			return err
		}
		externalID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("submit %s analysis for %s: %w", kind, mf.Path, err)
	}

	r.logger.Debug("analysis submitted",
		zap.String("file_id", mf.FileID),
		zap.String("kind", string(kind)),
		zap.String("external_job_id", externalID))

	handleID := mf.FileID + ":" + string(kind)
	// A leftover handle from an interrupted earlier run is superseded.
	r.poller.Forget(handleID)
	if err := r.poller.Register(handleID, externalID); err != nil {
		return fmt.Errorf("register poll handle: %w", err)
	}
	defer r.poller.Forget(handleID)

	status, err := r.awaitTerminal(ctx, handleID)
	if err != nil {
		return fmt.Errorf("await %s analysis for %s: %w", kind, mf.Path, err)
	}

	if status.State != StateCompleted {
		return fmt.Errorf("%s analysis for %s ended %s", kind, mf.Path, status.State)
	}

	if len(status.Payload) > 0 && !json.Valid(status.Payload) {
		return fmt.Errorf("%s analysis for %s returned malformed result", kind, mf.Path)
	}

	if _, err := r.store.UpsertResult(ctx, mf.FileID, string(kind), externalID, StateCompleted, status.Payload); err != nil {
		return fmt.Errorf("store %s result for %s: %w", kind, mf.Path, err)
	}
	return nil
}

// awaitTerminal polls the handle until its external job reaches a
// terminal state. Remote failures are tolerated up to maxPollFailures
// in a row.
func (r *Runner) awaitTerminal(ctx context.Context, handleID string) (poller.Status, error) {
	failures := 0
	for {
		status, err := r.poller.Status(ctx, handleID)
		if err != nil {
			failures++
			if failures >= maxPollFailures {
				return poller.Status{}, fmt.Errorf("%d consecutive poll failures: %w", failures, err)
			}
			r.logger.Warn("poll failed, will retry",
				zap.String("handle_id", handleID),
				zap.Int("failures", failures),
				zap.Error(err))
		} else {
			failures = 0
			if status.Terminal {
				return status, nil
			}
		}

		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return poller.Status{}, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
