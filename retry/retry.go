// Package retry wraps an operation with exponential backoff. Every failure is
// treated as retryable; callers that need to stop early (business rejections,
// missing auth) should not route those calls through here.
package retry

import (
	"context"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Retrier retries an operation with delays of BaseDelay * 2^attempt between
// failures. No jitter, no error classification.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep is swappable for tests. When nil a context-aware timer is used.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Retrier with the default 3 attempts and 1s base delay.
func New() Retrier {
	return Retrier{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Do invokes op until it succeeds or MaxAttempts is exhausted, returning the
// last error in the latter case.
func (r Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	base := r.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, base<<(attempt-1)); err != nil {
				return err
			}
		}
		if lastErr = op(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, r Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
