// Package retry implements the exponential backoff combinator used to wrap a
// shard attempt: on a retryable error it sleeps 2^k seconds and re-invokes the
// attempt closure, up to a configured maximum.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Progress receives "retry k/max" style notifications; nil is a valid no-op.
type Progress interface {
	Retrying(label string, attempt, max int)
}

// BackoffDuration returns 2^attempt seconds, the backoff sleep before retry
// number `attempt` (0-indexed: the sleep before the first retry is 2^0=1s).
func BackoffDuration(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// Do runs attempt; on error, if classify(err) reports retryable and fewer
// than maxAttempts have been made, sleeps BackoffDuration and retries. attempt
// must be safely re-invokable — callers (shard.ProcessGzipShard) construct a
// fresh sink, accumulator, and connection on every call.
func Do[T any](ctx context.Context, label string, maxAttempts int, progress Progress,
	classify func(error) bool, attemptFn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero T
		last error
	)
	for k := 0; k < maxAttempts; k++ {
		v, err := attemptFn(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		if !classify(err) {
			return zero, err
		}
		if k == maxAttempts-1 {
			break
		}
		if progress != nil {
			progress.Retrying(label, k+1, maxAttempts)
		}
		d := BackoffDuration(k)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return zero, fmt.Errorf("%s: %w", label, ctx.Err())
		}
	}
	return zero, last
}
