// Package retry wraps a single fallible operation with bounded retries and
// exponential backoff.
//
// Only errors the caller's classifier reports as transient are retried;
// permanent errors (not found, malformed input) return immediately. The
// retry loop lives entirely below the batch coordinator: a work function
// that exhausts its retries surfaces one ordinary item error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted tags the final error after MaxAttempts transient
// failures. The original cause is preserved and reachable via errors.Is /
// errors.As through the wrap chain.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Classifier reports whether an error is transient (retryable). A nil
// classifier treats every error as permanent.
type Classifier func(error) bool

// Policy bounds the retry loop.
type Policy struct {
	// MaxAttempts is the total number of invocations, counted from 1.
	// Values below 1 are treated as 1 (no retry).
	MaxAttempts int

	// BaseDelay seeds the backoff: delay(n) = BaseDelay * 2^(n-1), capped
	// at MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration

	// Classify decides which errors are transient.
	Classify Classifier

	// sleep is injectable for tests; nil uses a context-aware timer.
	sleep func(context.Context, time.Duration) error
}

// DefaultPolicy returns the retry policy used for provider I/O.
func DefaultPolicy(classify Classifier) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Classify:    classify,
	}
}

// Do invokes op until it succeeds, fails permanently, the policy is
// exhausted, or the context is cancelled. Backoff sleeps are interrupted by
// context cancellation.
func Do(ctx context.Context, policy Policy, op func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := policy.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if policy.Classify == nil || !policy.Classify(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

// Delay returns the backoff before the attempt following the given one:
// min(BaseDelay * 2^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
